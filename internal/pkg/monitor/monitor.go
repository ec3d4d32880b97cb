// Package monitor evicts clients that stopped sending heartbeats.
//
// Eviction only removes the client from the liveness table. It does not touch
// group membership, stop relay tasks or re-form undersized groups.
package monitor

import (
	"context"
	"time"

	"camelrace/internal/pkg/metrics"
	"camelrace/internal/pkg/session"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

// Defaults for a Monitor.
const (
	DefaultPeriod  = 5 * time.Second
	DefaultTimeout = 15 * time.Second
)

// Monitor periodically sweeps the liveness table.
type Monitor struct {
	store   session.Store
	period  time.Duration
	timeout time.Duration
	metrics *metrics.Metrics
	clock   func() time.Time
}

// Cfg configures a Monitor.
type Cfg func(*Monitor) error

// WithPeriod sets the sweep interval.
func WithPeriod(d time.Duration) Cfg {
	return func(m *Monitor) error {
		if d <= 0 {
			return errors.Errorf("invalid period %s", d)
		}
		m.period = d
		return nil
	}
}

// WithTimeout sets how old a heartbeat may get before the client is evicted.
func WithTimeout(d time.Duration) Cfg {
	return func(m *Monitor) error {
		if d <= 0 {
			return errors.Errorf("invalid timeout %s", d)
		}
		m.timeout = d
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Cfg {
	return func(m *Monitor) error {
		m.metrics = mt
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Cfg {
	return func(m *Monitor) error {
		m.clock = clock
		return nil
	}
}

// New creates a Monitor over store.
func New(store session.Store, cfgs ...Cfg) (*Monitor, error) {
	if store == nil {
		return nil, errors.New("nil session store")
	}
	m := &Monitor{
		store:   store,
		period:  DefaultPeriod,
		timeout: DefaultTimeout,
		clock:   time.Now,
	}
	for _, cfg := range cfgs {
		if err := cfg(m); err != nil {
			return nil, errors.Wrap(err, "apply Monitor cfg failed")
		}
	}
	return m, nil
}

// Sweep evicts every client whose last heartbeat is older than the timeout.
func (m *Monitor) Sweep() []session.Record {
	now := m.clock()
	evicted := m.store.Evict(now.Add(-m.timeout))
	for _, r := range evicted {
		logger.WithFields(logrus.Fields{
			"client": r.ClientID,
			"silent": now.Sub(r.LastHeartbeat).Round(time.Millisecond).String(),
		}).Info("client evicted, heartbeat timed out")
	}
	m.metrics.Evicted(len(evicted))
	return evicted
}

// Run sweeps every period until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Sweep()
		}
	}
}
