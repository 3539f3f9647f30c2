// Package codec implements the C4/C5 boundary serializer plugins: the
// framework's codec interface (encode/decode) plus the two implementations
// every contract may select between — JSON (default, grounded on the
// teacher's marshaller packages, all of which use encoding/json) and a
// compact binary codec built directly on the C2 wire framing primitives.
package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/webitel/rpcmesh/internal/wire"
)

// Codec is the serializer plugin contract: encode(value) -> bytes,
// decode(bytes) -> value.
type Codec interface {
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// JSON is the default codec, used unless a contract selects another.
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Binary is a compact codec that reuses the C2 wire.Pack framing to tag
// each encoded value's length, carrying a protobuf-encoded
// structpb.Value as its body instead of raw JSON text — the same
// "arbitrary-shaped payload as a proto Value" idiom the teacher's own
// gRPC layer relies on implicitly via generated messages, applied here
// to values that don't have a fixed .proto-generated type. structpb.Value
// (rather than structpb.Struct) is the wire shape because it also covers
// bare scalars and arrays, not just objects — Echo.echo's plain string
// argument round-trips the same as a struct payload. It exists to give
// contracts a real non-text content-type option
// (content-type: application/grpc+binary) that is smaller on the wire
// than JSON-in-bytes, not a second unrelated serialization format.
type Binary struct{}

func (Binary) Name() string { return "binary" }

const (
	binaryTagValue byte = 1
)

func (Binary) Encode(v any) ([]byte, error) {
	normalized, err := toAny(v)
	if err != nil {
		return nil, fmt.Errorf("codec/binary: encode: %w", err)
	}
	pbValue, err := structpb.NewValue(normalized)
	if err != nil {
		return nil, fmt.Errorf("codec/binary: to value: %w", err)
	}
	body, err := proto.Marshal(pbValue)
	if err != nil {
		return nil, fmt.Errorf("codec/binary: proto marshal: %w", err)
	}
	framed := wire.Pack(body)
	return append([]byte{binaryTagValue}, framed...), nil
}

func (Binary) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("codec/binary: empty payload")
	}
	if data[0] != binaryTagValue {
		return fmt.Errorf("codec/binary: unknown tag %d", data[0])
	}
	frames, err := wire.ParseAll(data[1:])
	if err != nil {
		return fmt.Errorf("codec/binary: decode: %w", err)
	}
	if len(frames) != 1 {
		return fmt.Errorf("codec/binary: expected exactly one frame, got %d", len(frames))
	}

	var pbValue structpb.Value
	if err := proto.Unmarshal(frames[0], &pbValue); err != nil {
		return fmt.Errorf("codec/binary: proto unmarshal: %w", err)
	}
	body, err := json.Marshal(pbValue.AsInterface())
	if err != nil {
		return fmt.Errorf("codec/binary: from value: %w", err)
	}
	return json.Unmarshal(body, v)
}

// toAny round-trips v through encoding/json to the plain
// bool/float64/string/[]any/map[string]any/nil shape structpb.NewValue
// requires, so Binary.Encode accepts any JSON-marshalable value —
// struct, map, or bare scalar — rather than only pre-built maps.
func toAny(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ByName resolves the two built-in codecs by the content-type suffix used
// on the wire (application/grpc+json, application/grpc+binary).
func ByName(name string) (Codec, bool) {
	switch name {
	case "json", "":
		return JSON{}, true
	case "binary":
		return Binary{}, true
	default:
		return nil, false
	}
}
