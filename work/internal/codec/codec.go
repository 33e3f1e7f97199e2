// Package codec encodes record streams with msgpack.
//
// A stream starts with a Header followed by records, each prefixed with
// a single RecordType byte.
package codec

import (
	"io"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/pkg/errors"
)

// Version is the current stream version.
const Version = 1

// RecordType is the type of a record in a stream.
type RecordType uint8

// Record types.
const (
	ChainRecordType RecordType = iota
	JobRecordType
)

// msgpackHandle is a shared handle for encoding/decoding of records.
var msgpackHandle = &codec.MsgpackHandle{}

// Header is written at the start of every stream.
type Header struct {
	Version int
	Index   uint64
}

// Writer writes a record stream.
type Writer struct {
	w   io.Writer
	enc *codec.Encoder
}

// NewWriter returns a writer, writing the header to w.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	enc := codec.NewEncoder(w, msgpackHandle)
	if err := enc.Encode(&h); err != nil {
		return nil, errors.Wrap(err, "codec: error writing header")
	}

	return &Writer{
		w:   w,
		enc: enc,
	}, nil
}

// Write writes a record with a type header.
func (w *Writer) Write(t RecordType, v interface{}) error {
	if _, err := w.w.Write([]byte{byte(t)}); err != nil {
		return errors.Wrap(err, "codec: error writing record type")
	}
	if err := w.enc.Encode(v); err != nil {
		return errors.Wrap(err, "codec: error writing record")
	}
	return nil
}

// Reader reads a record stream.
type Reader struct {
	Header Header

	r   io.Reader
	dec *codec.Decoder
	typ []byte
}

// NewReader returns a reader, reading the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	dec := codec.NewDecoder(r, msgpackHandle)

	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, errors.Wrap(err, "codec: error reading header")
	}
	if h.Version != Version {
		return nil, errors.Errorf("codec: unsupported version %d", h.Version)
	}

	return &Reader{
		Header: h,
		r:      r,
		dec:    dec,
		typ:    make([]byte, 1),
	}, nil
}

// Next returns the type of the next record. It returns io.EOF at the end
// of the stream.
func (r *Reader) Next() (RecordType, error) {
	if _, err := io.ReadFull(r.r, r.typ); err != nil {
		if err == io.EOF {
			return 0, io.EOF
		}
		return 0, errors.Wrap(err, "codec: error reading record type")
	}
	return RecordType(r.typ[0]), nil
}

// Decode decodes the current record into v.
func (r *Reader) Decode(v interface{}) error {
	if err := r.dec.Decode(v); err != nil {
		return errors.Wrap(err, "codec: error reading record")
	}
	return nil
}
