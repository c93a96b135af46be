package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"workerproxy/message"
)

var errShortBuffer = errors.New("BinaryCodec: short buffer")

// ErrFieldTooLong is returned by BinaryCodec.Encode when a length or count does not fit
// its prefix.
var ErrFieldTooLong = errors.New("BinaryCodec: field too long")

// BinaryCodec lays bodies out as length-prefixed fields.
//
//	Request:  memberLen u16 | member | argc u16 | (argLen u32 | arg)*
//	Response: status u8 | payloadLen u32 | payload | errLen u32 | error
//	Ready:    count u16 | (nameLen u16 | name)*
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	w := &writer{}

	switch msg := v.(type) {
	case *message.Request:
		w.buf = make([]byte, 0, 4+len(msg.Member)+8*len(msg.Args))
		w.string16("member", msg.Member)
		w.count16("args", len(msg.Args))
		for _, arg := range msg.Args {
			w.bytes32("arg", arg)
		}
	case *message.Response:
		w.buf = make([]byte, 0, 9+len(msg.Payload)+len(msg.Error))
		w.buf = append(w.buf, byte(msg.Status))
		w.bytes32("payload", msg.Payload)
		w.bytes32("error", []byte(msg.Error))
	case *message.Ready:
		w.count16("members", len(msg.Members))
		for _, name := range msg.Members {
			w.string16("member", name)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}

	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	r := &reader{data: data}

	switch msg := v.(type) {
	case *message.Request:
		msg.Member = string(r.bytes16())
		argc := r.uint16()
		msg.Args = nil
		for i := 0; i < int(argc) && r.err == nil; i++ {
			msg.Args = append(msg.Args, json.RawMessage(r.bytes32()))
		}
	case *message.Response:
		msg.Status = message.Status(r.byte())
		msg.Payload = nil
		if p := r.bytes32(); len(p) > 0 {
			msg.Payload = json.RawMessage(p)
		}
		msg.Error = string(r.bytes32())
	case *message.Ready:
		count := r.uint16()
		msg.Members = nil
		for i := 0; i < int(count) && r.err == nil; i++ {
			msg.Members = append(msg.Members, string(r.bytes16()))
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}

	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// writer appends length-prefixed fields, remembering the first length that does not
// fit its prefix.
type writer struct {
	buf []byte
	err error
}

func (w *writer) fits(field string, n int, limit uint64) bool {
	if w.err != nil {
		return false
	}
	if uint64(n) > limit {
		w.err = fmt.Errorf("%w: %s length %d exceeds %d", ErrFieldTooLong, field, n, limit)
		return false
	}
	return true
}

func (w *writer) count16(field string, n int) {
	if w.fits(field, n, math.MaxUint16) {
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(n))
	}
}

func (w *writer) string16(field, s string) {
	if w.fits(field, len(s), math.MaxUint16) {
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
		w.buf = append(w.buf, s...)
	}
}

func (w *writer) bytes32(field string, b []byte) {
	if w.fits(field, len(b), math.MaxUint32) {
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
		w.buf = append(w.buf, b...)
	}
}

// reader walks a body, remembering the first error so callers can decode field by
// field and check once at the end.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) uint16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *reader) uint32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) bytes16() []byte {
	n := r.uint16()
	return clone(r.take(int(n)))
}

func (r *reader) bytes32() []byte {
	n := r.uint32()
	return clone(r.take(int(n)))
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
