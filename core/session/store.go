package session

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/mukisa/paybot/core/logger"
)

// Store keeps live sessions keyed by identity.
//
// Stores provide no per-identity locking: callers that process events for the
// same identity concurrently must serialize access themselves (the dispatcher
// does).
type Store interface {
	// GetOrCreate returns the live session for identity, creating one when
	// missing or expired. The TTL is refreshed as a side effect.
	GetOrCreate(ctx context.Context, identity, displayName string) (*Session, error)
	// Peek returns the session without refreshing its TTL.
	Peek(ctx context.Context, identity string) (*Session, bool, error)
	// Save persists mutations made to a session obtained from GetOrCreate.
	Save(ctx context.Context, s *Session) error
	// Remove deletes the session, cancelling its expiry.
	Remove(ctx context.Context, identity string) error
	Close() error
}

// Options configure session stores.
type Options struct {
	TTL           time.Duration
	SweepInterval time.Duration
	HistoryLimit  int
}

func (o *Options) normalize() {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Minute
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
}

type memoryStore struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session

	stop chan struct{}
	once sync.Once
}

// NewMemoryStore returns an in-process Store with a background sweeper that
// drops expired sessions. Expiry is also checked lazily on access, so the
// sweeper only bounds memory growth.
func NewMemoryStore(opts Options) Store {
	opts.normalize()
	m := &memoryStore{
		opts:     opts,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	go m.sweep()
	return m
}

func (m *memoryStore) GetOrCreate(_ context.Context, identity, displayName string) (*Session, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[identity]; ok && !s.Expired(now) {
		s.Touch(m.opts.TTL)
		if displayName != "" {
			s.DisplayName = displayName
		}
		return s, nil
	}

	s := New(identity, displayName, m.opts.TTL, m.opts.HistoryLimit)
	m.sessions[identity] = s
	logger.Info(context.Background(), "session", "session.created",
		slog.String("identity", identity),
	)
	return s, nil
}

func (m *memoryStore) Peek(_ context.Context, identity string) (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[identity]
	if !ok || s.Expired(time.Now()) {
		return nil, false, nil
	}
	return s, true, nil
}

func (m *memoryStore) Save(_ context.Context, s *Session) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Touch(m.opts.TTL)
	// Re-insert: tolerates the sweeper having removed the entry mid-flight.
	m.sessions[s.Identity] = s
	return nil
}

func (m *memoryStore) Remove(_ context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[identity]; ok {
		delete(m.sessions, identity)
		logger.Info(context.Background(), "session", "session.removed",
			slog.String("identity", identity),
		)
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *memoryStore) sweep() {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweepOnce(time.Now())
		}
	}
}

func (m *memoryStore) sweepOnce(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for identity, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, identity)
			logger.Debug(context.Background(), "session", "session.expired",
				slog.String("status", "expired"),
				slog.String("identity", identity),
			)
		}
	}
}
