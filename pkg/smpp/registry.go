package smpp

import "sync"

// sessionRegistry tracks the live sessions of a Server. It observes each
// session and forgets it once closed.
type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*ServerSession
	logger   Logger
	metrics  MetricsCollector
}

func newSessionRegistry(logger Logger, metrics MetricsCollector) *sessionRegistry {
	return &sessionRegistry{
		sessions: make(map[string]*ServerSession),
		logger:   logger,
		metrics:  metrics,
	}
}

// add registers ss. It must run before the session starts so that no
// transition to CLOSED is missed.
func (r *sessionRegistry) add(ss *ServerSession) {
	r.mu.Lock()
	r.sessions[ss.ID()] = ss
	n := len(r.sessions)
	r.mu.Unlock()

	ss.AddStateObserver(r)
	r.report(n)
	r.logger.Debug("Session registered", "session_id", ss.ID(), "sessions", n)
}

// OnStateChange removes closed sessions.
func (r *sessionRegistry) OnStateChange(newState, oldState SessionState, source Session) {
	if newState != SessionStateClosed {
		return
	}
	r.mu.Lock()
	delete(r.sessions, source.ID())
	n := len(r.sessions)
	r.mu.Unlock()

	r.report(n)
	r.logger.Debug("Session removed", "session_id", source.ID(), "sessions", n)
}

func (r *sessionRegistry) get(id string) (*ServerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ss, ok := r.sessions[id]
	return ss, ok
}

func (r *sessionRegistry) all() []*ServerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ServerSession, 0, len(r.sessions))
	for _, ss := range r.sessions {
		out = append(out, ss)
	}
	return out
}

func (r *sessionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *sessionRegistry) report(n int) {
	r.metrics.SetGauge(MetricActiveSessions, float64(n), map[string]string{"role": RoleServer.String()})
}
