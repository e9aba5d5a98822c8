package model

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// IDSize is the length of a note identifier in bytes.
	IDSize = 32

	// MaxHeaderSize bounds the opaque note header.
	MaxHeaderSize = 1024

	// MinHeaderSize is the smallest valid header: the routing tag
	// occupies the first four bytes.
	MinHeaderSize = TagSize

	// MaxDetailsSize bounds the opaque note details.
	MaxDetailsSize = 64 * 1024

	// TagSize is the length of the tag prefix inside the header.
	TagSize = 4
)

// idDomain separates the note-id hash from any other BLAKE2b use.
const idDomain = "miden-note-transport/note-id/v1"

type (
	// NoteID is the content-derived identifier of a note.
	NoteID [IDSize]byte

	// Note is the atomic unit of transport. Header and details are
	// opaque to the server; the tag is the only routing attribute.
	Note struct {
		ID        NoteID
		Tag       uint32
		Header    []byte
		Details   []byte
		CreatedAt int64 // ms since Unix epoch, server-assigned
	}

	// Cursor names a position in the per-tag `(created_at, id)` ordered
	// stream. The zero value means "from the beginning".
	Cursor struct {
		CreatedAt int64
		ID        NoteID
	}
)

func (id NoteID) String() string {
	return hex.EncodeToString(id[:])
}

// ParseID decodes a hex-encoded note identifier.
func ParseID(s string) (NoteID, error) {
	var id NoteID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse note id: %w", err)
	}
	if len(b) != IDSize {
		return id, fmt.Errorf("parse note id: got %d bytes, want %d", len(b), IDSize)
	}
	copy(id[:], b)
	return id, nil
}

// DeriveID computes the note identifier from (header, details) with
// BLAKE2b-256. Deterministic: the same pair always yields the same id.
func DeriveID(header, details []byte) NoteID {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // unkeyed BLAKE2b cannot fail
	}
	var n [8]byte
	h.Write([]byte(idDomain))
	binary.BigEndian.PutUint64(n[:], uint64(len(header)))
	h.Write(n[:])
	h.Write(header)
	binary.BigEndian.PutUint64(n[:], uint64(len(details)))
	h.Write(n[:])
	h.Write(details)

	var id NoteID
	copy(id[:], h.Sum(nil))
	return id
}

// ExtractTag reads the routing tag from the header: the big-endian
// uint32 of its first four bytes. Part of the wire contract.
func ExtractTag(header []byte) (uint32, error) {
	if len(header) < TagSize {
		return 0, ErrHeaderTooShort
	}
	return binary.BigEndian.Uint32(header[:TagSize]), nil
}

// Validate checks size bounds and tag/header agreement for a note as
// submitted by a sender. ID and CreatedAt are not inspected; the server
// assigns both.
func (n *Note) Validate() error {
	if len(n.Header) == 0 {
		return ErrEmptyHeader
	}
	if len(n.Header) > MaxHeaderSize {
		return ErrHeaderTooLarge
	}
	if len(n.Details) > MaxDetailsSize {
		return ErrDetailsTooLarge
	}
	tag, err := ExtractTag(n.Header)
	if err != nil {
		return err
	}
	if tag != n.Tag {
		return ErrTagMismatch
	}
	return nil
}

// Compare orders cursors by (created_at, id).
func (c Cursor) Compare(o Cursor) int {
	if c.CreatedAt != o.CreatedAt {
		if c.CreatedAt < o.CreatedAt {
			return -1
		}
		return 1
	}
	return bytes.Compare(c.ID[:], o.ID[:])
}

// IsZero reports whether the cursor means "from the beginning".
func (c Cursor) IsZero() bool {
	return c.CreatedAt == 0 && c.ID == (NoteID{})
}

// CursorOf returns the cursor naming a note's position.
func CursorOf(n *Note) Cursor {
	return Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
}

// After reports whether the note lies strictly after the cursor in
// `(created_at, id)` order.
func (n *Note) After(c Cursor) bool {
	return CursorOf(n).Compare(c) > 0
}
