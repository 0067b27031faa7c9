package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tellerhq/teller/internal/core/config"
	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/infra/custody"
	"github.com/tellerhq/teller/internal/infra/metadata"
	redisclient "github.com/tellerhq/teller/internal/infra/redis"
	"github.com/tellerhq/teller/internal/infra/remote"
	"github.com/tellerhq/teller/internal/infra/storage"
	"github.com/tellerhq/teller/internal/infra/storage/memory"
	"github.com/tellerhq/teller/internal/infra/storage/postgres"
	"github.com/tellerhq/teller/internal/staging"
)

// ErrSubmissionInFlight is returned when a session's transfer is
// already being submitted.
var ErrSubmissionInFlight = errors.New("submission already in flight")

// Config holds the application configuration.
type Config struct {
	Port     int
	Custody  custody.Config
	Metadata config.MetadataConfig
	Staging  config.StagingConfig
	Redis    redisclient.Config
	Database postgres.Config
}

// Service wires the staging sessions, the metadata client, storage, and
// the HTTP surface together and manages their lifecycle.
type Service struct {
	cfg Config

	sessions    *staging.Manager
	audits      storage.AuditRepository
	custodyAPI  *custody.Client
	metadataAPI *metadata.Client
	db          *postgres.DB
	redisClient *redisclient.Client
	probe       *UpstreamProbe
	server      *Server
}

// NewService creates a Service with all dependencies initialized.
func NewService(cfg Config) (*Service, error) {

	// 1. Initialize Storage
	var audits storage.AuditRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		// Assuming migrations are in "migrations" folder relative to CWD
		if err := db.Migrate("migrations"); err != nil {
			return nil, err
		}
		audits = postgres.NewAuditRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		audits = memory.NewAuditRepo()
		slog.Info("Using Memory storage")
	}

	// 2. Initialize Redis (optional, enables execute idempotency)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Redis connected", "url", cfg.Redis.URL)
	}

	// 3. Remote clients
	custodyAPI := custody.NewClient(cfg.Custody)

	metadataTransport := remote.NewHTTPTransport("metadata", cfg.Metadata.BaseURL, cfg.Metadata.Timeout)
	metadataPolicy := remote.NewPolicy(
		cfg.Metadata.Retry.MaxAttempts,
		cfg.Metadata.Retry.InitialDelay,
		cfg.Metadata.Retry.MaxDelay,
		cfg.Metadata.Retry.Multiplier,
		remote.RetryableStatus(502, 504),
		nil,
	)
	metadataAPI := metadata.NewClient(metadataTransport, metadataPolicy)

	// 4. Staging sessions
	sessions := staging.NewManager(
		staging.Providers{
			Balances:  custodyAPI,
			Limits:    custodyAPI,
			Rates:     custodyAPI,
			Transfers: custodyAPI,
		},
		domain.Currency(cfg.Staging.DisplayCurrency),
		cfg.Staging.SessionTTL,
	)

	// 5. Upstream gRPC health probe (optional)
	var probe *UpstreamProbe
	if cfg.Custody.GRPCHealthAddr != "" {
		probe = NewUpstreamProbe(cfg.Custody.GRPCHealthAddr)
	}

	s := &Service{
		cfg:         cfg,
		sessions:    sessions,
		audits:      audits,
		custodyAPI:  custodyAPI,
		metadataAPI: metadataAPI,
		db:          db,
		redisClient: redisClient,
		probe:       probe,
	}
	s.server = NewServer(s, cfg.Port)
	return s, nil
}

// Start launches the background workers and the HTTP server.
func (s *Service) Start(ctx context.Context) error {
	go s.sessions.StartJanitor(ctx)

	if s.probe != nil {
		go s.probe.Start(ctx)
	}

	go func() {
		slog.Info("HTTP server listening", "port", s.cfg.Port)
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
		}
	}()

	return nil
}

// Stop shuts the service down gracefully.
func (s *Service) Stop(ctx context.Context) error {
	var firstErr error

	if err := s.server.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.custodyAPI.Close()
	return firstErr
}

// OpenSession starts a new staging session and runs the initialize stage.
func (s *Service) OpenSession(
	ctx context.Context,
	source, destination string,
	asset domain.Currency,
) (*staging.Session, error) {
	return s.sessions.Open(ctx, source, destination, asset)
}

// GetSession returns a live session.
func (s *Service) GetSession(id string) (*staging.Session, error) {
	return s.sessions.Get(id)
}

// CloseSession discards a session without executing it.
func (s *Service) CloseSession(id string) {
	s.sessions.Close(id)
}

// ExecuteSession drives the final stage for a session: idempotency
// reservation (when redis is configured), transfer submission, audit
// persistence, and receipt caching. The transfer outcome wins over any
// bookkeeping failure; a lost audit write is logged, not surfaced.
func (s *Service) ExecuteSession(ctx context.Context, id string) (*domain.TransactionResult, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}

	if s.redisClient != nil {
		if cached, ok, err := s.redisClient.GetResult(ctx, id); err != nil {
			slog.Warn("Failed to read cached result", "session", id, "error", err)
		} else if ok {
			return cached, nil
		}

		reserved, err := s.redisClient.ReserveSubmission(ctx, id, 2*time.Minute)
		if err != nil {
			slog.Warn("Failed to reserve submission, proceeding without idempotency",
				"session", id, "error", err)
		} else if !reserved {
			return nil, ErrSubmissionInFlight
		}
	}

	result, err := sess.Execute(ctx)
	if err != nil {
		if s.redisClient != nil {
			if relErr := s.redisClient.ReleaseSubmission(ctx, id); relErr != nil {
				slog.Warn("Failed to release submission lock", "session", id, "error", relErr)
			}
		}
		return nil, err
	}

	ptx := sess.Snapshot()
	rec := &domain.AuditRecord{
		ID:              uuid.New().String(),
		SessionID:       sess.ID,
		Source:          sess.Source,
		Destination:     sess.Destination,
		Amount:          result.Amount,
		Fee:             ptx.FeeAmount,
		ValidationState: ptx.ValidationState,
		ReceiptID:       result.ReceiptID,
		SubmittedAt:     time.Now().UTC(),
	}
	if err := s.audits.Save(ctx, rec); err != nil {
		slog.Warn("Failed to save audit record", "session", id, "error", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.StoreResult(ctx, id, result, 24*time.Hour); err != nil {
			slog.Warn("Failed to cache result", "session", id, "error", err)
		}
	}

	return result, nil
}

// ListAudits returns the most recent audit records.
func (s *Service) ListAudits(ctx context.Context, limit int) ([]*domain.AuditRecord, error) {
	return s.audits.List(ctx, limit)
}

// FetchMetadata reads a metadata payload with resilient retry.
func (s *Service) FetchMetadata(ctx context.Context, address string) ([]byte, error) {
	return s.metadataAPI.Fetch(ctx, address)
}

// PutMetadata writes a metadata payload (single attempt).
func (s *Service) PutMetadata(ctx context.Context, address string, body []byte) error {
	return s.metadataAPI.Put(ctx, address, body)
}
