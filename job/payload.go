package job

import (
	"fmt"

	"github.com/xraph/timeli"
)

// AppPayload is the payload of an app job.
type AppPayload struct {
	AppID string `json:"app_id" msgpack:"app_id"`
	Type  string `json:"type" msgpack:"type"`
	Data  []byte `json:"data,omitempty" msgpack:"data,omitempty"`

	codec Codec
}

// Bind decodes the typed sub-payload into v.
func (p AppPayload) Bind(v any) error {
	if len(p.Data) == 0 {
		return nil
	}
	c := p.codec
	if c == nil {
		c = JSON
	}
	if err := c.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("%w: app job %q data: %w", timeli.ErrInvalidPayload, p.Type, err)
	}
	return nil
}

// HookPayload is the payload of a hook job.
type HookPayload struct {
	Scope  string   `json:"scope" msgpack:"scope"`
	Method string   `json:"method" msgpack:"method"`
	Args   [][]byte `json:"args,omitempty" msgpack:"args,omitempty"`

	codec Codec
}

// Bind decodes argument i into v.
func (p HookPayload) Bind(i int, v any) error {
	if i < 0 || i >= len(p.Args) {
		return fmt.Errorf("%w: hook %s.%s has %d args, want index %d",
			timeli.ErrInvalidPayload, p.Scope, p.Method, len(p.Args), i)
	}
	c := p.codec
	if c == nil {
		c = JSON
	}
	if err := c.Unmarshal(p.Args[i], v); err != nil {
		return fmt.Errorf("%w: hook %s.%s arg %d: %w", timeli.ErrInvalidPayload, p.Scope, p.Method, i, err)
	}
	return nil
}

// AppJob describes an app job to be scheduled. Data is encoded with the
// scheduler's codec.
type AppJob struct {
	AppID string
	Type  string
	Data  any
}

// HookJob describes a hook job to be scheduled. Each argument is encoded
// separately so receivers can bind them to distinct types.
type HookJob struct {
	Scope  string
	Method string
	Args   []any
}

// EncodeApp encodes an app job payload with c.
func EncodeApp(c Codec, a AppJob) ([]byte, error) {
	p := AppPayload{AppID: a.AppID, Type: a.Type}
	if a.Data != nil {
		data, err := c.Marshal(a.Data)
		if err != nil {
			return nil, fmt.Errorf("job: encode app %q data: %w", a.Type, err)
		}
		p.Data = data
	}
	return c.Marshal(p)
}

// EncodeHook encodes a hook job payload with c.
func EncodeHook(c Codec, h HookJob) ([]byte, error) {
	p := HookPayload{Scope: h.Scope, Method: h.Method}
	for i, arg := range h.Args {
		data, err := c.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("job: encode hook %s.%s arg %d: %w", h.Scope, h.Method, i, err)
		}
		p.Args = append(p.Args, data)
	}
	return c.Marshal(p)
}

// App decodes the payload of an app job.
func (j *Job) App() (AppPayload, error) {
	var p AppPayload
	if j.Kind != KindApp {
		return p, fmt.Errorf("%w: job %s is %q, not an app job", timeli.ErrInvalidPayload, j.ID, j.Kind)
	}
	c, err := CodecFor(j.Encoding)
	if err != nil {
		return p, fmt.Errorf("%w: %w", timeli.ErrInvalidPayload, err)
	}
	if err := c.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: job %s: %w", timeli.ErrInvalidPayload, j.ID, err)
	}
	if p.AppID == "" {
		return p, fmt.Errorf("%w: job %s has no target app", timeli.ErrInvalidPayload, j.ID)
	}
	p.codec = c
	return p, nil
}

// Hook decodes the payload of a hook job.
func (j *Job) Hook() (HookPayload, error) {
	var p HookPayload
	if j.Kind != KindHook {
		return p, fmt.Errorf("%w: job %s is %q, not a hook job", timeli.ErrInvalidPayload, j.ID, j.Kind)
	}
	c, err := CodecFor(j.Encoding)
	if err != nil {
		return p, fmt.Errorf("%w: %w", timeli.ErrInvalidPayload, err)
	}
	if err := c.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("%w: job %s: %w", timeli.ErrInvalidPayload, j.ID, err)
	}
	if p.Scope == "" || p.Method == "" {
		return p, fmt.Errorf("%w: job %s has no hook scope or method", timeli.ErrInvalidPayload, j.ID)
	}
	p.codec = c
	return p, nil
}

// NewHookPayload builds an in-process hook payload whose args are encoded
// with c. It is used when hooks are dispatched directly rather than queued.
func NewHookPayload(c Codec, h HookJob) (HookPayload, error) {
	data, err := EncodeHook(c, h)
	if err != nil {
		return HookPayload{}, err
	}
	var p HookPayload
	if err := c.Unmarshal(data, &p); err != nil {
		return HookPayload{}, err
	}
	p.codec = c
	return p, nil
}
