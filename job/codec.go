package job

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes job payloads at the queue boundary.
type Codec interface {
	// Name identifies the codec; it is stored on every job it encodes.
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// JSON encodes payloads as JSON. It is the default codec.
var JSON Codec = jsonCodec{}

// Msgpack encodes payloads as MessagePack.
var Msgpack Codec = msgpackCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return CodecNameJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return CodecNameMsgpack }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

// CodecFor returns the codec registered under name. An empty name selects
// JSON so jobs written before the encoding field existed still decode.
func CodecFor(name string) (Codec, error) {
	switch name {
	case CodecNameJSON, "":
		return JSON, nil
	case CodecNameMsgpack:
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("job: unknown codec %q", name)
	}
}
