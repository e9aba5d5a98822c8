package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xMiden/miden-note-transport/internal/model"
)

func TestCodecRoundTrip(t *testing.T) {
	c := codec{}

	in := &FetchNotesResponse{
		Notes: []*Note{
			{ID: make([]byte, model.IDSize), Tag: 7, Header: []byte{0, 0, 0, 7}, Details: []byte("x"), CreatedAt: 123},
		},
		NextCursor: Cursor{CreatedAt: 123, ID: make([]byte, model.IDSize)},
	}
	data, err := c.Marshal(in)
	require.NoError(t, err)

	out := &FetchNotesResponse{}
	require.NoError(t, c.Unmarshal(data, out))
	require.Equal(t, in, out)
}

func TestCodecDeterministic(t *testing.T) {
	c := codec{}
	msg := &SendNoteRequest{Note: &Note{Tag: 1, Header: []byte{0, 0, 0, 1}}}

	a, err := c.Marshal(msg)
	require.NoError(t, err)
	b, err := c.Marshal(msg)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCursorConversion(t *testing.T) {
	mc := model.Cursor{CreatedAt: 55, ID: model.NoteID{1, 2, 3}}
	require.Equal(t, mc, ModelCursor(WireCursor(mc)))

	// The zero cursor stays zero-valued on the wire.
	require.Equal(t, Cursor{}, WireCursor(model.Cursor{}))
	require.Equal(t, model.Cursor{}, ModelCursor(Cursor{}))
}
