package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/admetry/admetry/internal/broker"
	"github.com/admetry/admetry/internal/config"
	"github.com/admetry/admetry/internal/metrics"
	"github.com/admetry/admetry/internal/models"
)

// maxBodyBytes bounds event payload size.
const maxBodyBytes = 1 << 20

// Publisher publishes an accepted payload to its durable queue. dlq reports
// a dead-letter fallback.
type Publisher interface {
	Publish(ctx context.Context, queue string, body []byte) (dlq bool, err error)
}

// Archiver stores one raw payload and returns its object key.
type Archiver interface {
	Store(ctx context.Context, eventType string, payload []byte) (string, error)
}

// Deduper reports whether an event ID was already accepted. Release frees a
// claim that did not end in a queued event.
type Deduper interface {
	Seen(ctx context.Context, kind, id string) (bool, error)
	Release(ctx context.Context, kind, id string) error
}

// StateResolver maps a client IP to a state code, "" when unknown.
type StateResolver interface {
	Resolve(ip string) string
}

// Dependencies holds all external dependencies for the gateway. Archiver,
// Deduper and Geo may be nil; the gateway degrades by skipping that step.
type Dependencies struct {
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Publisher Publisher
	Archiver  Archiver
	Deduper   Deduper
	Geo       StateResolver
}

// Server accepts validated event payloads and feeds the durable queues.
type Server struct {
	publisher Publisher
	archiver  Archiver
	deduper   Deduper
	geo       StateResolver
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewServer constructs the gateway handler with all routes registered.
func NewServer(deps *Dependencies) http.Handler {
	s := &Server{
		publisher: deps.Publisher,
		archiver:  deps.Archiver,
		deduper:   deps.Deduper,
		geo:       deps.Geo,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		mux.Handle(deps.Config.Metrics.Path, metrics.Handler())
	}
	mux.HandleFunc("/api/events/impression", s.instrument("/api/events/impression", s.handleImpression))
	mux.HandleFunc("/api/events/click", s.instrument("/api/events/click", s.handleClick))
	mux.HandleFunc("/api/events/conversion", s.instrument("/api/events/conversion", s.handleConversion))

	return mux
}

// ---- Health ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// ---- Event endpoints ----

func (s *Server) handleImpression(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var p models.ImpressionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.reject(w, broker.QueueImpression, "decode", err)
		return
	}
	if err := p.Validate(); err != nil {
		s.reject(w, broker.QueueImpression, "validation", err)
		return
	}
	if p.State == "" && s.geo != nil {
		p.State = s.geo.Resolve(p.UserIP)
	}

	s.accept(r.Context(), w, broker.QueueImpression, p.ImpressionID, &p)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var p models.ClickPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.reject(w, broker.QueueClick, "decode", err)
		return
	}
	if err := p.Validate(); err != nil {
		s.reject(w, broker.QueueClick, "validation", err)
		return
	}
	if p.UserInfo.State == "" && s.geo != nil {
		p.UserInfo.State = s.geo.Resolve(p.UserInfo.UserIP)
	}

	s.accept(r.Context(), w, broker.QueueClick, p.ClickID, &p)
}

func (s *Server) handleConversion(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var p models.ConversionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		s.reject(w, broker.QueueConversion, "decode", err)
		return
	}
	if err := p.Validate(); err != nil {
		s.reject(w, broker.QueueConversion, "validation", err)
		return
	}
	if p.UserInfo.State == "" && s.geo != nil {
		p.UserInfo.State = s.geo.Resolve(p.UserInfo.UserIP)
	}

	s.accept(r.Context(), w, broker.QueueConversion, p.ConversionID, &p)
}

// accept runs the post-validation pipeline shared by all kinds: duplicate
// suppression, raw archival, durable publish with DLQ fallback.
func (s *Server) accept(ctx context.Context, w http.ResponseWriter, kind, eventID string, payload any) {
	if s.deduper != nil {
		seen, err := s.deduper.Seen(ctx, kind, eventID)
		if err != nil {
			// Fail open: losing dedup is better than refusing events.
			s.logger.Warn("dedup check failed", zap.String("kind", kind), zap.Error(err))
		} else if seen {
			if s.metrics != nil {
				s.metrics.RecordRejected(kind, "duplicate")
			}
			s.errorResponse(w, "duplicate event", http.StatusConflict)
			return
		}
	}

	// Re-encode so normalization (geo-filled state) reaches the queue and
	// the archive identically.
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode payload", zap.String("kind", kind), zap.Error(err))
		s.releaseClaim(ctx, kind, eventID)
		s.errorResponse(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.archiver != nil {
		if _, err := s.archiver.Store(ctx, kind, body); err != nil {
			// Archival is best-effort; the queue remains the source of truth.
			s.logger.Error("failed to archive payload", zap.String("kind", kind), zap.Error(err))
			if s.metrics != nil {
				s.metrics.RecordArchiveFailure(kind)
			}
		}
	}

	dlq, err := s.publisher.Publish(ctx, kind, body)
	if err != nil {
		s.logger.Error("failed to publish event", zap.String("kind", kind), zap.Error(err))
		// The event never reached a queue; free the dedup claim so the
		// client's retry is not refused as a duplicate.
		s.releaseClaim(ctx, kind, eventID)
		s.errorResponse(w, "event not accepted", http.StatusServiceUnavailable)
		return
	}
	if dlq && s.metrics != nil {
		s.metrics.RecordDLQFallback(kind)
	}
	if s.metrics != nil {
		s.metrics.RecordAccepted(kind)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted", "id": eventID})
}

func (s *Server) releaseClaim(ctx context.Context, kind, eventID string) {
	if s.deduper == nil {
		return
	}
	if err := s.deduper.Release(ctx, kind, eventID); err != nil {
		s.logger.Warn("failed to release dedup claim",
			zap.String("kind", kind),
			zap.String("id", eventID),
			zap.Error(err),
		)
	}
}

// ---- Helpers ----

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.errorResponse(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (s *Server) reject(w http.ResponseWriter, kind, reason string, err error) {
	if s.metrics != nil {
		s.metrics.RecordRejected(kind, reason)
	}
	s.errorResponse(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// instrument wraps a handler with request count and latency metrics.
func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordRequest(r.Method, endpoint, rec.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
