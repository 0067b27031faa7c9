package staging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/metrics"
)

// ErrSessionNotFound is returned when a session ID is unknown or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session binds one engine instance to one in-progress transfer. All
// stage calls go through the session mutex, so a single session is
// driven sequentially even if the caller retries over HTTP.
type Session struct {
	ID          string
	Source      string
	Destination string
	CreatedAt   time.Time

	mu       sync.Mutex
	lastUsed time.Time
	engine   *Engine
	ptx      *domain.PendingTransaction
	result   *domain.TransactionResult
}

// Snapshot returns a copy of the current pending transaction.
func (s *Session) Snapshot() domain.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return *s.ptx
}

// Result returns the transaction result if the session has executed.
func (s *Session) Result() *domain.TransactionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// SetAmount drives the update-amount stage.
func (s *Session) SetAmount(ctx context.Context, amount domain.Money) (domain.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if err := s.engine.UpdateAmount(ctx, s.ptx, amount); err != nil {
		return domain.PendingTransaction{}, err
	}
	return *s.ptx, nil
}

// SetOptions records the terms and agreement acknowledgements.
func (s *Session) SetOptions(terms, agreement bool) domain.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.ptx.TermsAccepted = terms
	s.ptx.AgreementAccepted = agreement
	return *s.ptx
}

// Validate drives the validation stage.
func (s *Session) Validate(ctx context.Context) (domain.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if err := s.engine.Validate(ctx, s.ptx); err != nil {
		return domain.PendingTransaction{}, err
	}
	return *s.ptx, nil
}

// BuildConfirmations drives the confirmation stage.
func (s *Session) BuildConfirmations(ctx context.Context) (domain.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if err := s.engine.BuildConfirmations(ctx, s.ptx); err != nil {
		return domain.PendingTransaction{}, err
	}
	return *s.ptx, nil
}

// Execute drives the final stage. The session ID doubles as the
// idempotency key sent to the custody backend. The pending transaction
// survives as an audit record; a second call returns the stored result.
func (s *Session) Execute(ctx context.Context) (*domain.TransactionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.result != nil {
		return s.result, nil
	}
	result, err := s.engine.Execute(ctx, s.ptx, s.ID)
	if err != nil {
		return nil, err
	}
	s.result = result
	return result, nil
}

func (s *Session) touch() {
	s.lastUsed = time.Now()
}

// Providers bundles the remote reads and the submitter a session needs.
type Providers struct {
	Balances  BalanceProvider
	Limits    LimitsProvider
	Rates     ConversionProvider
	Transfers TransferSubmitter
}

// Manager owns the set of live staging sessions. Sessions are
// independent: no state is shared between them beyond the provider
// clients, which are safe for concurrent use.
type Manager struct {
	providers Providers
	display   domain.Currency
	ttl       time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager. ttl bounds how long an idle
// session is kept; zero disables expiry.
func NewManager(providers Providers, display domain.Currency, ttl time.Duration) *Manager {
	return &Manager{
		providers: providers,
		display:   display,
		ttl:       ttl,
		sessions:  make(map[string]*Session),
	}
}

// Open builds an engine for the source/destination pair, runs the
// initialize stage, and registers the session.
func (m *Manager) Open(
	ctx context.Context,
	source, destination string,
	asset domain.Currency,
) (*Session, error) {
	engine, err := NewEngine(Config{
		Source:          source,
		Destination:     destination,
		Asset:           asset,
		DisplayCurrency: m.display,
		Balances:        m.providers.Balances,
		Limits:          m.providers.Limits,
		Rates:           m.providers.Rates,
		Transfers:       m.providers.Transfers,
	})
	if err != nil {
		return nil, err
	}

	ptx, err := engine.Initialize(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		ID:          uuid.New().String(),
		Source:      source,
		Destination: destination,
		CreatedAt:   now,
		lastUsed:    now,
		engine:      engine,
		ptx:         ptx,
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(m.Len()))

	return session, nil
}

// Get returns a live session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close discards a session. In-flight remote reads are not cancelled;
// their results are dropped when nothing holds the session anymore.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(m.Len()))
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor runs the idle-session sweep loop until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context) {
	if m.ttl <= 0 {
		return // Expiry disabled
	}

	interval := min(m.ttl/10, time.Hour)
	interval = max(interval, time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.ttl)
	var expired []string

	m.mu.Lock()
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastUsed.Before(cutoff)
		s.mu.Unlock()
		if idle {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if len(expired) > 0 {
		slog.Info("Expired idle staging sessions", "count", len(expired))
		metrics.SessionsActive.Set(float64(m.Len()))
	}
}
