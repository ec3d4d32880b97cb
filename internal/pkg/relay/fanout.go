package relay

import (
	"context"
	"io"
	"sync"

	"camelrace/internal/pkg/group"
	"camelrace/internal/pkg/handler"
	"camelrace/internal/pkg/metrics"
	"camelrace/internal/pkg/session"
	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FanOut relays over the members' own stream connections.
type FanOut struct {
	store        session.Store
	metrics      *metrics.Metrics
	selfDelivery bool

	wg sync.WaitGroup
}

// FanOutCfg configures a FanOut.
type FanOutCfg func(*FanOut) error

// WithSessionStore sets the liveness table updated on heartbeats.
func WithSessionStore(store session.Store) FanOutCfg {
	return func(f *FanOut) error {
		f.store = store
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) FanOutCfg {
	return func(f *FanOut) error {
		f.metrics = m
		return nil
	}
}

// WithSelfDelivery echoes every message back to its sender as well.
func WithSelfDelivery(on bool) FanOutCfg {
	return func(f *FanOut) error {
		f.selfDelivery = on
		return nil
	}
}

// NewFanOut creates a new FanOut.
func NewFanOut(cfgs ...FanOutCfg) (*FanOut, error) {
	f := &FanOut{}
	for _, cfg := range cfgs {
		if err := cfg(f); err != nil {
			return nil, errors.Wrap(err, "apply FanOut cfg failed")
		}
	}
	if f.store == nil {
		f.store = session.NewMemoryStore()
	}
	return f, nil
}

// Start launches one relay task per member of g.
func (f *FanOut) Start(ctx context.Context, g *group.Group) error {
	members := g.Members()
	type task struct {
		member *group.Member
		run    func(context.Context) error
		fields logrus.Fields
	}
	tasks := make([]task, 0, len(members))
	for _, m := range members {
		h, err := handler.NewHandler(
			handler.WithMember(m),
			handler.WithSessionStore(f.store),
			handler.WithMetrics(f.metrics),
			handler.WithSelfDelivery(f.selfDelivery),
		)
		if err != nil {
			return errors.Wrapf(err, "create handler for %s failed", m.ID)
		}
		tasks = append(tasks, task{
			member: m,
			run:    h.Run,
			fields: logrus.Fields{"client": m.ID, "conn": m.ConnID.String(), "group": g.ID},
		})
	}
	g.Activate()
	for range tasks {
		g.TaskStarted()
	}
	for _, t := range tasks {
		t := t
		f.wg.Add(1)
		f.metrics.MemberStarted()
		go func() {
			defer f.wg.Done()
			defer f.metrics.MemberStopped()
			err := t.run(ctx)
			switch {
			case errors.Is(err, io.EOF):
				logger.WithFields(t.fields).Info("member disconnected")
			case errors.Is(err, context.Canceled):
				logger.WithFields(t.fields).Debug("relay task cancelled")
			default:
				logger.WithFields(t.fields).WithError(err).Warn("relay task ended")
			}
			_ = t.member.Close()
			if g.TaskEnded() && g.Finish() {
				f.metrics.GroupFinished()
				logger.WithField("group", g.ID).Info("group finished, every member left")
			}
		}()
	}
	logger.WithFields(logrus.Fields{"group": g.ID, "members": len(tasks)}).Info("fan-out relay started")
	return nil
}

// Publish queues msg for every member of g.
func (f *FanOut) Publish(g *group.Group, msg wire.Message) error {
	failed := g.Broadcast(msg, nil)
	for _, id := range failed {
		f.metrics.SendFailed()
		logger.WithFields(logrus.Fields{"group": g.ID, "client": id}).Warn("publish to member failed")
	}
	f.metrics.Relayed(msg.Kind().String())
	return nil
}

// Wait blocks until every relay task has ended.
func (f *FanOut) Wait() {
	f.wg.Wait()
}
