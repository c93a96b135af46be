// Package codec serializes call protocol bodies (requests, responses, ready signals).
package codec

import (
	"errors"
	"fmt"
	"strings"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// ParseCodecType maps a codec name ("json", "binary") to its type.
func ParseCodecType(name string) (CodecType, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary", "bin":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

// ErrUnsupportedValue is returned when a codec is asked to handle a value that is not
// *message.Request, *message.Response or *message.Ready.
var ErrUnsupportedValue = errors.New("codec: unsupported value")

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
