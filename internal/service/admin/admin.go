// Package admin serves the HTTP sidecar listener: health, stats
// snapshot, Prometheus metrics, and a websocket bridge of the stream
// subscription for web clients.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
	"github.com/0xMiden/miden-note-transport/internal/service/hub"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
	"github.com/0xMiden/miden-note-transport/internal/utils/log"
)

type (
	Server struct {
		hub   *hub.Hub
		store notes.Store
		stats *stats.Collector
		http  *http.Server
	}

	wsNote struct {
		ID        string `json:"id"`
		Tag       uint32 `json:"tag"`
		Header    []byte `json:"header"`
		Details   []byte `json:"details"`
		CreatedAt int64  `json:"created_at_ms"`
	}

	statsBody struct {
		TotalNotes int64 `json:"total_notes"`
		UniqueTags int64 `json:"unique_tags"`
		stats.Snapshot
	}
)

func New(h *hub.Hub, store notes.Store, collector *stats.Collector) *Server {
	s := &Server{hub: h, store: store, stats: collector}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/ws/stream", s.handleStream).Methods(http.MethodGet)

	s.http = &http.Server{Handler: r}
	return s
}

// Serve runs the listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdown)
	}()

	log.Info("serving admin http", zap.String("addr", lis.Addr().String()))
	err := s.http.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	total, err := s.store.CountTotal(ctx)
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}
	tags, err := s.store.CountTags(ctx)
	if err != nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	body := statsBody{
		TotalNotes: total,
		UniqueTags: tags,
		Snapshot:   s.stats.Snapshot(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&body); err != nil {
		log.Error("encode stats failed", zap.Error(err))
	}
}

// handleStream bridges a stream subscription over a websocket. Query
// parameters: tag (required), since_ms and since_id (optional replay
// cursor).
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	tag64, err := strconv.ParseUint(r.URL.Query().Get("tag"), 10, 32)
	if err != nil {
		http.Error(w, "missing or malformed tag", http.StatusBadRequest)
		return
	}
	tag := uint32(tag64)

	var since *model.Cursor
	if sinceMS := r.URL.Query().Get("since_ms"); sinceMS != "" {
		ms, err := strconv.ParseInt(sinceMS, 10, 64)
		if err != nil {
			http.Error(w, "malformed since_ms", http.StatusBadRequest)
			return
		}
		c := model.Cursor{CreatedAt: ms}
		if sinceID := r.URL.Query().Get("since_id"); sinceID != "" {
			id, err := model.ParseID(sinceID)
			if err != nil {
				http.Error(w, "malformed since_id", http.StatusBadRequest)
				return
			}
			c.ID = id
		}
		since = &c
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := s.hub.Subscribe(ctx, tag, since)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		return
	}
	defer s.hub.Cancel(sub)

	// Drain client frames so half-close is noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		n, err := sub.Next(ctx)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
		out := wsNote{
			ID:        n.ID.String(),
			Tag:       n.Tag,
			Header:    n.Header,
			Details:   n.Details,
			CreatedAt: n.CreatedAt,
		}
		if err := conn.WriteJSON(&out); err != nil {
			return
		}
	}
}
