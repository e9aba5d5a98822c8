// Package rpc defines the NoteTransport wire surface: message types,
// the CBOR codec carried over gRPC, and the hand-maintained service
// descriptor with its client and server bindings.
package rpc

import (
	"github.com/0xMiden/miden-note-transport/internal/model"
)

// Wire messages. Field keys are small integers (CBOR keyasint), fixed
// for wire stability; never renumber.
type (
	Note struct {
		ID        []byte `cbor:"1,keyasint,omitempty"`
		Tag       uint32 `cbor:"2,keyasint,omitempty"`
		Header    []byte `cbor:"3,keyasint,omitempty"`
		Details   []byte `cbor:"4,keyasint,omitempty"`
		CreatedAt int64  `cbor:"5,keyasint,omitempty"`
	}

	// Cursor names a position in the per-tag ordered stream. The zero
	// value means "from the beginning".
	Cursor struct {
		CreatedAt int64  `cbor:"1,keyasint,omitempty"`
		ID        []byte `cbor:"2,keyasint,omitempty"`
	}

	SendNoteRequest struct {
		Note *Note `cbor:"1,keyasint,omitempty"`
	}

	SendNoteResponse struct {
		ID []byte `cbor:"1,keyasint,omitempty"`
	}

	FetchNotesRequest struct {
		Tag    uint32 `cbor:"1,keyasint,omitempty"`
		Cursor Cursor `cbor:"2,keyasint,omitempty"`
		Limit  uint32 `cbor:"3,keyasint,omitempty"`
	}

	FetchNotesResponse struct {
		Notes      []*Note `cbor:"1,keyasint,omitempty"`
		NextCursor Cursor  `cbor:"2,keyasint,omitempty"`
	}

	StreamNotesRequest struct {
		Tag           uint32  `cbor:"1,keyasint,omitempty"`
		Since         *Cursor `cbor:"2,keyasint,omitempty"`
		IdleTimeoutMS int64   `cbor:"3,keyasint,omitempty"`
	}

	StatsRequest struct{}

	StatsResponse struct {
		TotalNotes          uint64 `cbor:"1,keyasint,omitempty"`
		UniqueTags          uint64 `cbor:"2,keyasint,omitempty"`
		ActiveSubscriptions uint64 `cbor:"3,keyasint,omitempty"`
		OverflowCount       uint64 `cbor:"4,keyasint,omitempty"`
		IngestRequests      uint64 `cbor:"5,keyasint,omitempty"`
		FetchRequests       uint64 `cbor:"6,keyasint,omitempty"`
		NotesRecent         uint64 `cbor:"7,keyasint,omitempty"`
		LastSweepMS         int64  `cbor:"8,keyasint,omitempty"`
		LastSweepCount      uint64 `cbor:"9,keyasint,omitempty"`
	}
)

// FromModel converts a stored note to its wire form.
func FromModel(n *model.Note) *Note {
	return &Note{
		ID:        n.ID[:],
		Tag:       n.Tag,
		Header:    n.Header,
		Details:   n.Details,
		CreatedAt: n.CreatedAt,
	}
}

// ModelCursor converts a wire cursor, truncating malformed ids.
func ModelCursor(c Cursor) model.Cursor {
	out := model.Cursor{CreatedAt: c.CreatedAt}
	copy(out.ID[:], c.ID)
	return out
}

// WireCursor converts a model cursor to its wire form.
func WireCursor(c model.Cursor) Cursor {
	if c.IsZero() {
		return Cursor{}
	}
	return Cursor{CreatedAt: c.CreatedAt, ID: c.ID[:]}
}
