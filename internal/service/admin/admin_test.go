package admin

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
	"github.com/0xMiden/miden-note-transport/internal/service/fetch"
	"github.com/0xMiden/miden-note-transport/internal/service/hub"
	"github.com/0xMiden/miden-note-transport/internal/service/ingest"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
)

type env struct {
	addr string
	ing  *ingest.Engine
}

func startAdmin(t *testing.T) *env {
	t.Helper()

	store := notes.NewMemoryStore()
	collector := stats.NewCollector()
	ing := ingest.New(store, collector, ingest.Config{})
	require.NoError(t, ing.Init(context.Background()))
	fe := fetch.New(store, fetch.Config{})
	h := hub.New(fe, ing, collector, hub.Config{})
	ing.SetPublisher(h)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := New(h, store, collector)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx, lis)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &env{addr: lis.Addr().String(), ing: ing}
}

func (e *env) send(t *testing.T, tag uint32, body ...byte) model.NoteID {
	t.Helper()
	header := make([]byte, model.TagSize, model.TagSize+len(body))
	binary.BigEndian.PutUint32(header, tag)
	header = append(header, body...)
	id, err := e.ing.Ingest(context.Background(), &model.Note{Tag: tag, Header: header, Details: body})
	require.NoError(t, err)
	return id
}

func TestHealthz(t *testing.T) {
	e := startAdmin(t)
	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", e.addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	e := startAdmin(t)
	e.send(t, 1, 0xaa)
	e.send(t, 2, 0xbb)

	resp, err := http.Get(fmt.Sprintf("http://%s/stats", e.addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		TotalNotes    int64  `json:"total_notes"`
		UniqueTags    int64  `json:"unique_tags"`
		NotesIngested uint64 `json:"notes_ingested"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.EqualValues(t, 2, body.TotalNotes)
	require.EqualValues(t, 2, body.UniqueTags)
	require.EqualValues(t, 2, body.NotesIngested)
}

func TestMetricsEndpoint(t *testing.T) {
	e := startAdmin(t)
	e.send(t, 1, 0xaa)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", e.addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "note_transport_notes_ingested_total")
}

func TestWebsocketStream(t *testing.T) {
	e := startAdmin(t)
	want := e.send(t, 9, 0xaa)

	conn, _, err := websocket.DefaultDialer.Dial(
		fmt.Sprintf("ws://%s/ws/stream?tag=9&since_ms=0", e.addr), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got wsNote
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, want.String(), got.ID)
	require.EqualValues(t, 9, got.Tag)

	// A live note follows the backfilled one.
	live := e.send(t, 9, 0xbb)
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, live.String(), got.ID)
}

func TestWebsocketStreamRejectsBadTag(t *testing.T) {
	e := startAdmin(t)
	resp, err := http.Get(fmt.Sprintf("http://%s/ws/stream", e.addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
