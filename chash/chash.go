// Package chash implements the content hashes used to decide whether build
// steps have to run again. A [Hash] is a sha256 digest. Hashes of ordered
// sequences are built with [Combine] which is sensitive to membership and
// order of its arguments. Every field is written length-prefixed so that
// different sequences cannot produce the same byte stream.
package chash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
)

const Size = sha256.Size

type Hash [Size]byte

var Zero Hash

func Of(data []byte) Hash { return sha256.Sum256(data) }

func OfString(s string) Hash { return sha256.Sum256([]byte(s)) }

// Combine hashes the sequence hs. Reordering hs changes the result.
func Combine(hs ...Hash) Hash {
	w := NewWriter()
	w.Count(len(hs))
	for _, h := range hs {
		w.Field(h[:])
	}
	return w.Sum()
}

// Strings hashes an ordered sequence of strings.
func Strings(ss ...string) Hash {
	w := NewWriter()
	w.Count(len(ss))
	for _, s := range ss {
		w.String(s)
	}
	return w.Sum()
}

// File streams the content of the file at path into a digest. If the file
// does not exist the returned error matches [fs.ErrNotExist].
func File(path string) (Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return Zero, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Zero, fmt.Errorf("hash file %s: %w", path, err)
	}
	var res Hash
	h.Sum(res[:0])
	return res, nil
}

// Serializable hashes the canonical JSON serialization of v. JSON writes
// struct fields in declaration order and map keys sorted.
func Serializable(v any) (Hash, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Zero, &SerializeError{Type: fmt.Sprintf("%T", v), Err: err}
	}
	return Of(data), nil
}

type SerializeError struct {
	Type string
	Err  error
}

func (e *SerializeError) Error() string {
	return fmt.Sprintf("no canonical serialization for %s: %s", e.Type, e.Err)
}

func (e *SerializeError) Unwrap() error { return e.Err }

func (h Hash) IsZero() bool { return h == Zero }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 8 hex digits, for logs.
func (h Hash) Short() string { return hex.EncodeToString(h[:4]) }

func ParseHash(s string) (h Hash, err error) {
	if len(s) != 2*Size {
		return h, fmt.Errorf("hash '%s' has %d digits, want %d", s, len(s), 2*Size)
	}
	_, err = hex.Decode(h[:], []byte(s))
	return h, err
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) (err error) {
	*h, err = ParseHash(string(text))
	return err
}

var errWriterDone = errors.New("hash writer already summed")

// Writer builds a hash from length-prefixed fields.
type Writer struct {
	h    hash.Hash
	done bool
}

func NewWriter() *Writer { return &Writer{h: sha256.New()} }

func (w *Writer) Field(data []byte) {
	if w.done {
		panic(errWriterDone)
	}
	var lb [8]byte
	binary.BigEndian.PutUint64(lb[:], uint64(len(data)))
	w.h.Write(lb[:])
	w.h.Write(data)
}

func (w *Writer) String(s string) { w.Field([]byte(s)) }

func (w *Writer) Hash(h Hash) { w.Field(h[:]) }

func (w *Writer) Count(n int) {
	var lb [8]byte
	binary.BigEndian.PutUint64(lb[:], uint64(n))
	w.Field(lb[:])
}

func (w *Writer) Sum() (res Hash) {
	w.done = true
	w.h.Sum(res[:0])
	return res
}
