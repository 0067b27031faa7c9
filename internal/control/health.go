package control

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthStatus is the aggregate service health.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// HealthReport is the detailed health snapshot.
type HealthReport struct {
	Status       HealthStatus `json:"status"`
	Sessions     int          `json:"sessions"`
	Database     string       `json:"database,omitempty"`
	Redis        string       `json:"redis,omitempty"`
	CustodyProbe *ProbeStatus `json:"custody_probe,omitempty"`
}

// CheckHealth inspects the service's dependencies. A broken database is
// critical (transfers could execute without an audit trail); a failing
// upstream probe only degrades, since the REST path may still work.
func (s *Service) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:   HealthHealthy,
		Sessions: s.sessions.Len(),
	}

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			report.Database = err.Error()
			report.Status = HealthCritical
		} else {
			report.Database = "ok"
		}
	}

	if s.redisClient != nil {
		report.Redis = "ok"
	}

	if s.probe != nil {
		status := s.probe.Status()
		report.CustodyProbe = &status
		if !status.Healthy && report.Status == HealthHealthy {
			report.Status = HealthDegraded
		}
	}

	return report
}

// ProbeStatus is the last observed state of the custody gRPC upstream.
type ProbeStatus struct {
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// UpstreamProbe periodically checks the custody backend's gRPC health
// endpoint (grpc.health.v1.Health/Check).
type UpstreamProbe struct {
	addr     string
	interval time.Duration

	mu     sync.RWMutex
	status ProbeStatus
}

// NewUpstreamProbe creates a probe for the given gRPC address.
func NewUpstreamProbe(addr string) *UpstreamProbe {
	return &UpstreamProbe{
		addr:     addr,
		interval: 15 * time.Second,
	}
}

// Status returns the last observed upstream state.
func (p *UpstreamProbe) Status() ProbeStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// Start runs the probe loop until ctx is done.
func (p *UpstreamProbe) Start(ctx context.Context) {
	conn, err := grpc.NewClient(p.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		slog.Error("Failed to create custody gRPC client", "addr", p.addr, "error", err)
		p.record(false, err)
		return
	}
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check(ctx, client)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx, client)
		}
	}
}

func (p *UpstreamProbe) check(ctx context.Context, client healthpb.HealthClient) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := client.Check(checkCtx, &healthpb.HealthCheckRequest{})
	if err != nil {
		p.record(false, err)
		return
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		p.record(false, nil)
		return
	}
	p.record(true, nil)
}

func (p *UpstreamProbe) record(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = ProbeStatus{
		Healthy:   healthy,
		CheckedAt: time.Now(),
	}
	if err != nil {
		p.status.Error = err.Error()
	}
}
