package model

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func headerForTag(tag uint32, extra ...byte) []byte {
	h := make([]byte, TagSize, TagSize+len(extra))
	binary.BigEndian.PutUint32(h, tag)
	return append(h, extra...)
}

func TestDeriveIDDeterministic(t *testing.T) {
	h := headerForTag(7, 0xaa, 0xbb)
	d := []byte("details")

	id1 := DeriveID(h, d)
	id2 := DeriveID(h, d)
	require.Equal(t, id1, id2)

	// Any bit change yields a different id.
	d2 := append([]byte(nil), d...)
	d2[0] ^= 1
	require.NotEqual(t, id1, DeriveID(h, d2))
	require.NotEqual(t, id1, DeriveID(headerForTag(8, 0xaa, 0xbb), d))
}

func TestDeriveIDLengthBoundary(t *testing.T) {
	// Moving a byte across the header/details boundary must change the id.
	a := DeriveID([]byte{0, 0, 0, 1, 2}, []byte{3})
	b := DeriveID([]byte{0, 0, 0, 1}, []byte{2, 3})
	require.NotEqual(t, a, b)
}

func TestExtractTag(t *testing.T) {
	tag, err := ExtractTag(headerForTag(0xc0000001))
	require.NoError(t, err)
	require.Equal(t, uint32(0xc0000001), tag)

	_, err = ExtractTag([]byte{1, 2})
	require.ErrorIs(t, err, ErrHeaderTooShort)
}

func TestValidate(t *testing.T) {
	valid := &Note{Tag: 5, Header: headerForTag(5), Details: []byte("x")}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		note *Note
		want error
	}{
		{"empty header", &Note{Tag: 5}, ErrEmptyHeader},
		{"short header", &Note{Tag: 5, Header: []byte{1}}, ErrHeaderTooShort},
		{"oversized header", &Note{Tag: 5, Header: headerForTag(5, bytes.Repeat([]byte{0}, MaxHeaderSize)...)}, ErrHeaderTooLarge},
		{"oversized details", &Note{Tag: 5, Header: headerForTag(5), Details: bytes.Repeat([]byte{0}, MaxDetailsSize+1)}, ErrDetailsTooLarge},
		{"tag mismatch", &Note{Tag: 6, Header: headerForTag(5)}, ErrTagMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.note.Validate(), tc.want)
		})
	}
}

func TestCursorCompare(t *testing.T) {
	idA := NoteID{1}
	idB := NoteID{2}

	require.Equal(t, 0, Cursor{10, idA}.Compare(Cursor{10, idA}))
	require.Equal(t, -1, Cursor{9, idB}.Compare(Cursor{10, idA}))
	require.Equal(t, -1, Cursor{10, idA}.Compare(Cursor{10, idB}))
	require.Equal(t, 1, Cursor{10, idB}.Compare(Cursor{10, idA}))

	n := &Note{ID: idB, CreatedAt: 10}
	require.True(t, n.After(Cursor{10, idA}))
	require.False(t, n.After(Cursor{10, idB}))
	require.False(t, n.After(Cursor{11, NoteID{}}))
}

func TestParseID(t *testing.T) {
	id := DeriveID(headerForTag(1), nil)
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseID("abcd")
	require.Error(t, err)
}
