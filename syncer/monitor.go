package syncer

import (
	"context"
	"log/slog"
	"time"
)

// DefaultProbeInterval is how often a Monitor checks connectivity.
const DefaultProbeInterval = 30 * time.Second

// Prober checks whether the backend is reachable.
type Prober interface {
	Health(ctx context.Context) error
}

// Monitor turns periodic health probes into connectivity signals. Only
// changes are delivered.
type Monitor struct {
	probe    Prober
	sink     func(online bool)
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithProbeInterval sets the probe interval.
func WithProbeInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds each probe.
func WithProbeTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMonitorLogger sets the logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor returns a Monitor delivering connectivity changes to sink.
func NewMonitor(probe Prober, sink func(online bool), opts ...MonitorOption) *Monitor {
	m := &Monitor{
		probe:    probe,
		sink:     sink,
		interval: DefaultProbeInterval,
		timeout:  5 * time.Second,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run probes immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	var (
		known bool
		last  bool
	)
	check := func() {
		online := m.check(ctx)
		if ctx.Err() != nil {
			return
		}
		if known && online == last {
			return
		}
		known, last = true, online
		m.sink(online)
	}

	check()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func (m *Monitor) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.probe.Health(ctx); err != nil {
		m.logger.Debug("health probe failed", slog.Any("error", err))
		return false
	}
	return true
}
