package wa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"log/slog"

	"github.com/mukisa/paybot/core/chat"
	"github.com/mukisa/paybot/core/dispatch"
	"github.com/mukisa/paybot/core/logger"
)

// Enqueuer accepts inbound events for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, ev chat.Event) error
}

// LinkResolver maps short payment link codes back to their full URLs.
type LinkResolver interface {
	Resolve(ctx context.Context, code string) (string, bool, error)
}

// ReadMarker acknowledges inbound messages as read so the sender sees them
// ticked while the reply is being prepared.
type ReadMarker interface {
	MarkRead(ctx context.Context, messageID string) error
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Listen      string
	VerifyToken string
}

// Server terminates the Cloud API webhook, hands events to the dispatcher
// and serves short payment link redirects.
type Server struct {
	cfg   ServerConfig
	queue Enqueuer
	links LinkResolver
	reads ReadMarker
	srv   *http.Server
}

// NewServer wires the webhook routes. links may be nil when card payments
// are disabled; reads may be nil to skip read receipts.
func NewServer(cfg ServerConfig, queue Enqueuer, links LinkResolver, reads ReadMarker) *Server {
	s := &Server{cfg: cfg, queue: queue, links: links, reads: reads}
	s.srv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the route table; exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", s.handleVerify)
	mux.HandleFunc("POST /webhook", s.handleNotify)
	mux.HandleFunc("GET /s/{code}", s.handleShortLink)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe blocks serving the webhook until Shutdown.
func (s *Server) ListenAndServe() error {
	logger.Info(context.Background(), "wa", "wa.server.start",
		slog.String("endpoint", s.cfg.Listen),
	)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleVerify answers the platform's subscription handshake.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token == s.cfg.VerifyToken {
		logger.Info(r.Context(), "wa", "wa.webhook.verified")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, challenge)
		return
	}
	logger.Warn(r.Context(), "wa", "wa.webhook.verify.denied")
	w.WriteHeader(http.StatusForbidden)
}

// handleNotify parses a webhook notification and enqueues its messages. The
// platform retries non-2xx deliveries, so acceptance problems are logged and
// acknowledged rather than bounced.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	events, err := parseEvents(body)
	if err != nil {
		logger.Warn(r.Context(), "wa", "wa.webhook.malformed",
			slog.Any("err", err),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		s.markRead(ev.ID)
		err := s.queue.Enqueue(r.Context(), ev)
		switch {
		case err == nil:
		case errors.Is(err, dispatch.ErrDuplicate):
			// Redelivery of an event already queued; already counted.
		default:
			logger.Error(r.Context(), "wa", "wa.webhook.enqueue.failed",
				slog.String("event_id", ev.ID),
				slog.String("identity", ev.Identity),
				slog.Any("err", err),
			)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// markRead acknowledges one inbound message, fire and forget. The receipt is
// cosmetic, so failures are logged and never delay the webhook response.
func (s *Server) markRead(messageID string) {
	if s.reads == nil || messageID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.reads.MarkRead(ctx, messageID); err != nil {
			logger.Debug(ctx, "wa", "wa.markread.failed",
				slog.String("event_id", messageID),
				slog.Any("err", err),
			)
		}
	}()
}

// handleShortLink redirects a short payment code to its checkout URL.
func (s *Server) handleShortLink(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if s.links == nil || code == "" {
		http.NotFound(w, r)
		return
	}
	target, ok, err := s.links.Resolve(r.Context(), code)
	if err != nil {
		logger.Error(r.Context(), "wa", "wa.shortlink.failed",
			slog.String("code", code),
			slog.Any("err", err),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"ts":     time.Now().UTC().Format(time.RFC3339),
	})
}
