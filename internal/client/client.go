// Package client is a thin Go client for the note transport service.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/rpc"
)

type (
	Client struct {
		conn *grpc.ClientConn
		rpc  *rpc.NoteTransportClient
	}

	// Stream iterates a live note subscription.
	Stream struct {
		inner rpc.NoteTransportStreamNotesClient
	}
)

// Dial connects to a note transport node. The connection is plaintext;
// deploy behind a TLS-terminating proxy when transport security is
// needed.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, rpc: rpc.NewNoteTransportClient(conn)}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// SendNote submits a note. The tag is read from the header prefix; the
// server assigns id and created_at.
func (c *Client) SendNote(ctx context.Context, header, details []byte) (model.NoteID, error) {
	var id model.NoteID
	tag, err := model.ExtractTag(header)
	if err != nil {
		return id, err
	}
	resp, err := c.rpc.SendNote(ctx, &rpc.SendNoteRequest{
		Note: &rpc.Note{Tag: tag, Header: header, Details: details},
	})
	if err != nil {
		return id, err
	}
	if len(resp.ID) != model.IDSize {
		return id, fmt.Errorf("server returned malformed id of %d bytes", len(resp.ID))
	}
	copy(id[:], resp.ID)
	return id, nil
}

// FetchNotes returns one page of notes for the tag after the cursor.
func (c *Client) FetchNotes(ctx context.Context, tag uint32, cursor model.Cursor, limit int) ([]*model.Note, model.Cursor, error) {
	resp, err := c.rpc.FetchNotes(ctx, &rpc.FetchNotesRequest{
		Tag:    tag,
		Cursor: rpc.WireCursor(cursor),
		Limit:  uint32(limit),
	})
	if err != nil {
		return nil, cursor, err
	}
	out := make([]*model.Note, 0, len(resp.Notes))
	for _, wn := range resp.Notes {
		n, err := toModel(wn)
		if err != nil {
			return nil, cursor, err
		}
		out = append(out, n)
	}
	return out, rpc.ModelCursor(resp.NextCursor), nil
}

// FetchAll pages through every stored note for the tag.
func (c *Client) FetchAll(ctx context.Context, tag uint32) ([]*model.Note, error) {
	var all []*model.Note
	cursor := model.Cursor{}
	for {
		page, next, err := c.FetchNotes(ctx, tag, cursor, 0)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
		cursor = next
	}
}

// StreamNotes opens a live subscription. With a non-nil since cursor
// the stored backlog after it is replayed first. idle of zero streams
// until cancelled.
func (c *Client) StreamNotes(ctx context.Context, tag uint32, since *model.Cursor, idle time.Duration) (*Stream, error) {
	req := &rpc.StreamNotesRequest{Tag: tag, IdleTimeoutMS: idle.Milliseconds()}
	if since != nil {
		wc := rpc.WireCursor(*since)
		req.Since = &wc
	}
	inner, err := c.rpc.StreamNotes(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Stream{inner: inner}, nil
}

// Recv blocks for the next streamed note. Returns io.EOF when the
// server ends the stream cleanly.
func (s *Stream) Recv() (*model.Note, error) {
	wn, err := s.inner.Recv()
	if err != nil {
		return nil, err
	}
	return toModel(wn)
}

// Stats fetches the node's point-in-time statistics snapshot.
func (c *Client) Stats(ctx context.Context) (*rpc.StatsResponse, error) {
	return c.rpc.Stats(ctx, &rpc.StatsRequest{})
}

func toModel(wn *rpc.Note) (*model.Note, error) {
	if len(wn.ID) != model.IDSize {
		return nil, fmt.Errorf("malformed note id of %d bytes", len(wn.ID))
	}
	n := &model.Note{
		Tag:       wn.Tag,
		Header:    wn.Header,
		Details:   wn.Details,
		CreatedAt: wn.CreatedAt,
	}
	copy(n.ID[:], wn.ID)
	return n, nil
}
