package job

import "context"

// Definition is a typed handler for one app job type.
// T is the payload type; it is decoded with the job's codec.
type Definition[T any] struct {
	// Type is the app payload Type this definition handles.
	Type string

	// Handler processes the decoded payload.
	Handler func(ctx context.Context, payload T) error
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](typ string, handler func(ctx context.Context, payload T) error) *Definition[T] {
	return &Definition[T]{Type: typ, Handler: handler}
}
