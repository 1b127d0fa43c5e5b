package permission

import (
	"context"
	"sync"
	"time"

	"github.com/zjrosen/relay/internal/log"
)

// sweepInterval is how often the service checks for idle coordinators.
const sweepInterval = time.Minute

// Service owns one coordinator per open session, sharing the surface
// registry and standing-decision memory across them. A periodic sweep tears
// down coordinators idle beyond the threshold.
type Service struct {
	dir          string
	surfaces     *SurfaceRegistry
	memory       *Memory
	fallback     Surface
	pollInterval time.Duration
	idleTimeout  time.Duration
	watchDir     bool

	mu      sync.Mutex
	entries map[string]*serviceEntry
}

type serviceEntry struct {
	coord  *Coordinator
	cancel context.CancelFunc
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithFallback sets the prompt used when no UI surface is registered.
func WithFallback(s Surface) ServiceOption {
	return func(svc *Service) { svc.fallback = s }
}

// WithPollInterval overrides the request poll cadence.
func WithPollInterval(d time.Duration) ServiceOption {
	return func(svc *Service) { svc.pollInterval = d }
}

// WithIdleTimeout overrides the idle teardown threshold.
func WithIdleTimeout(d time.Duration) ServiceOption {
	return func(svc *Service) { svc.idleTimeout = d }
}

// WithDirWatch enables the fsnotify nudge on session coordinators.
func WithDirWatch(enabled bool) ServiceOption {
	return func(svc *Service) { svc.watchDir = enabled }
}

// NewService creates a permission service over one IPC directory.
func NewService(dir string, opts ...ServiceOption) *Service {
	svc := &Service{
		dir:          dir,
		surfaces:     NewSurfaceRegistry(),
		memory:       NewMemory(),
		pollInterval: DefaultPollInterval,
		idleTimeout:  DefaultIdleTimeout,
		watchDir:     true,
		entries:      make(map[string]*serviceEntry),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Surfaces returns the shared surface registry for UI registration.
func (s *Service) Surfaces() *SurfaceRegistry {
	return s.surfaces
}

// Memory returns the shared standing-decision memory.
func (s *Service) Memory() *Memory {
	return s.memory
}

// Open starts a coordinator for a session. Reopening an open session is a
// no-op.
func (s *Service) Open(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sessionID]; ok {
		return
	}
	coord := NewCoordinator(Config{
		Dir:          s.dir,
		SessionID:    sessionID,
		Surfaces:     s.surfaces,
		Memory:       s.memory,
		Fallback:     s.fallback,
		PollInterval: s.pollInterval,
		WatchDir:     s.watchDir,
	})
	ctx, cancel := context.WithCancel(context.Background())
	s.entries[sessionID] = &serviceEntry{coord: coord, cancel: cancel}
	go coord.Run(ctx)
	log.Info(log.CatPerm, "coordinator opened", "session", sessionID)
}

// CloseSession stops a session's coordinator.
func (s *Service) CloseSession(sessionID string) {
	s.mu.Lock()
	entry, ok := s.entries[sessionID]
	if ok {
		delete(s.entries, sessionID)
	}
	s.mu.Unlock()
	if ok {
		entry.cancel()
		log.Info(log.CatPerm, "coordinator closed", "session", sessionID)
	}
}

// OpenSessions returns the ids with running coordinators.
func (s *Service) OpenSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for id := range s.entries {
		out = append(out, id)
	}
	return out
}

// Run sweeps idle coordinators until the context is cancelled, then stops
// all of them.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep tears down coordinators idle beyond the threshold.
func (s *Service) sweep() {
	cutoff := time.Now().Add(-s.idleTimeout)
	s.mu.Lock()
	var idle []string
	for id, entry := range s.entries {
		if entry.coord.LastActivity().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()
	for _, id := range idle {
		log.Info(log.CatPerm, "sweeping idle coordinator", "session", id)
		s.CloseSession(id)
	}
}

func (s *Service) closeAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*serviceEntry)
	s.mu.Unlock()
	for id, entry := range entries {
		entry.cancel()
		log.Info(log.CatPerm, "coordinator closed", "session", id)
	}
}
