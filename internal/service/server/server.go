// Package server exposes the note transport RPC surface: request
// validation, limits, engine dispatch, and error classification.
package server

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/0xMiden/miden-note-transport/internal/model"
	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
	"github.com/0xMiden/miden-note-transport/internal/rpc"
	"github.com/0xMiden/miden-note-transport/internal/service/fetch"
	"github.com/0xMiden/miden-note-transport/internal/service/hub"
	"github.com/0xMiden/miden-note-transport/internal/service/ingest"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
	"github.com/0xMiden/miden-note-transport/internal/utils/log"
)

// gracefulStopTimeout bounds the drain before open streams are cut.
const gracefulStopTimeout = 10 * time.Second

type (
	Server struct {
		ingest *ingest.Engine
		fetch  *fetch.Engine
		hub    *hub.Hub
		store  notes.Store
		stats  *stats.Collector

		grpc   *grpc.Server
		health *health.Server
	}
)

func New(ing *ingest.Engine, fe *fetch.Engine, h *hub.Hub, store notes.Store, collector *stats.Collector) *Server {
	s := &Server{
		ingest: ing,
		fetch:  fe,
		hub:    h,
		store:  store,
		stats:  collector,
		grpc: grpc.NewServer(
			grpc.MaxRecvMsgSize(model.MaxHeaderSize + model.MaxDetailsSize + 4096),
		),
		health: health.NewServer(),
	}
	rpc.RegisterNoteTransportServer(s.grpc, s)
	healthgrpc.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(rpc.ServiceName, healthgrpc.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until ctx is cancelled, then drains:
// new requests are rejected, in-flight ingestions finish, and open
// streams are closed with a graceful termination signal.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.SetServingStatus(rpc.ServiceName, healthgrpc.HealthCheckResponse_NOT_SERVING)
		s.hub.Close()

		done := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(gracefulStopTimeout):
			log.Warn("graceful stop timed out, forcing")
			s.grpc.Stop()
		}
	}()

	log.Info("serving note transport", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

func (s *Server) SendNote(ctx context.Context, req *rpc.SendNoteRequest) (*rpc.SendNoteResponse, error) {
	start := time.Now()
	if req.Note == nil {
		s.stats.RecordSendNote("invalid", time.Since(start))
		return nil, status.Error(codes.InvalidArgument, "missing note")
	}

	// Id and created_at in the request are ignored; the server assigns.
	note := &model.Note{
		Tag:     req.Note.Tag,
		Header:  req.Note.Header,
		Details: req.Note.Details,
	}
	id, err := s.ingest.Ingest(ctx, note)
	if err != nil {
		s.stats.RecordSendNote(statusLabel(err), time.Since(start))
		return nil, rpcError(err)
	}
	s.stats.RecordSendNote("ok", time.Since(start))
	return &rpc.SendNoteResponse{ID: id[:]}, nil
}

func (s *Server) FetchNotes(ctx context.Context, req *rpc.FetchNotesRequest) (*rpc.FetchNotesResponse, error) {
	start := time.Now()

	page, next, err := s.fetch.Fetch(ctx, req.Tag, rpc.ModelCursor(req.Cursor), int(req.Limit))
	if err != nil {
		s.stats.RecordFetch(statusLabel(err), time.Since(start), 0)
		return nil, rpcError(err)
	}

	out := make([]*rpc.Note, len(page))
	for i, n := range page {
		out[i] = rpc.FromModel(n)
	}
	s.stats.RecordFetch("ok", time.Since(start), len(out))
	return &rpc.FetchNotesResponse{
		Notes:      out,
		NextCursor: rpc.WireCursor(next),
	}, nil
}

func (s *Server) StreamNotes(req *rpc.StreamNotesRequest, stream rpc.NoteTransportStreamNotesServer) error {
	ctx := stream.Context()

	var since *model.Cursor
	if req.Since != nil {
		c := rpc.ModelCursor(*req.Since)
		since = &c
	}
	sub, err := s.hub.Subscribe(ctx, req.Tag, since)
	if err != nil {
		return rpcError(err)
	}
	defer s.hub.Cancel(sub)

	idle := time.Duration(req.IdleTimeoutMS) * time.Millisecond
	for {
		next := ctx
		cancel := func() {}
		if idle > 0 {
			next, cancel = context.WithTimeout(ctx, idle)
		}
		n, err := sub.Next(next)
		cancel()

		switch {
		case err == nil:
			if err := stream.Send(rpc.FromModel(n)); err != nil {
				return err
			}
		case errors.Is(err, hub.ErrClosed):
			// Server shutdown or cancellation: end cleanly.
			return nil
		case idle > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			// Idle timeout: end cleanly.
			return nil
		default:
			return rpcError(err)
		}
	}
}

func (s *Server) Stats(ctx context.Context, _ *rpc.StatsRequest) (*rpc.StatsResponse, error) {
	total, err := s.store.CountTotal(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	tags, err := s.store.CountTags(ctx)
	if err != nil {
		return nil, rpcError(err)
	}

	snap := s.stats.Snapshot()
	return &rpc.StatsResponse{
		TotalNotes:          uint64(total),
		UniqueTags:          uint64(tags),
		ActiveSubscriptions: snap.ActiveSubscriptions,
		OverflowCount:       snap.OverflowCount,
		IngestRequests:      snap.IngestRequests,
		FetchRequests:       snap.FetchRequests,
		NotesRecent:         snap.NotesRecent,
		LastSweepMS:         snap.LastSweepMS,
		LastSweepCount:      snap.LastSweepCount,
	}, nil
}

// rpcError classifies engine errors into gRPC status codes.
func rpcError(err error) error {
	switch {
	case errors.Is(err, model.ErrEmptyHeader),
		errors.Is(err, model.ErrHeaderTooShort),
		errors.Is(err, model.ErrHeaderTooLarge),
		errors.Is(err, model.ErrDetailsTooLarge),
		errors.Is(err, model.ErrTagMismatch):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, model.ErrTooManySubscriptions),
		errors.Is(err, model.ErrIngestBusy):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, model.ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		log.Error("internal error", zap.Error(err))
		return status.Error(codes.Internal, err.Error())
	}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrEmptyHeader),
		errors.Is(err, model.ErrHeaderTooShort),
		errors.Is(err, model.ErrHeaderTooLarge),
		errors.Is(err, model.ErrDetailsTooLarge),
		errors.Is(err, model.ErrTagMismatch):
		return "invalid"
	case errors.Is(err, model.ErrIngestBusy), errors.Is(err, model.ErrTooManySubscriptions):
		return "exhausted"
	case errors.Is(err, model.ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
