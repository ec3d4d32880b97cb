// Package handler runs the relay task of a single group member under the
// fan-out strategy: it reads every message the member sends and forwards it to
// the rest of the group.
package handler

import (
	"context"
	"time"

	"camelrace/internal/pkg/group"
	"camelrace/internal/pkg/log"
	"camelrace/internal/pkg/metrics"
	"camelrace/internal/pkg/session"
	"camelrace/internal/pkg/wire"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

type handler struct {
	member       *group.Member
	group        *group.Group
	session      session.Store
	metrics      *metrics.Metrics
	selfDelivery bool
	clock        func() time.Time
}

// HandlerCfg configures a handler.
type HandlerCfg func(*handler) error

// WithMember sets the member whose messages are relayed.
func WithMember(m *group.Member) HandlerCfg {
	return func(h *handler) error {
		if m.Group() == nil {
			return errors.Errorf("member %s has no group", m.ID)
		}
		h.member = m
		h.group = m.Group()
		return nil
	}
}

// WithSessionStore sets the liveness table updated on heartbeats.
func WithSessionStore(store session.Store) HandlerCfg {
	return func(h *handler) error {
		h.session = store
		return nil
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) HandlerCfg {
	return func(h *handler) error {
		h.metrics = m
		return nil
	}
}

// WithSelfDelivery makes the handler echo messages back to their sender.
func WithSelfDelivery(on bool) HandlerCfg {
	return func(h *handler) error {
		h.selfDelivery = on
		return nil
	}
}

// WithClock overrides the time source for heartbeat observations.
func WithClock(clock func() time.Time) HandlerCfg {
	return func(h *handler) error {
		h.clock = clock
		return nil
	}
}

// NewHandler creates a new handler.
func NewHandler(cfgs ...HandlerCfg) (*handler, error) {
	h := &handler{clock: time.Now}
	for _, cfg := range cfgs {
		if err := cfg(h); err != nil {
			return nil, errors.Wrap(err, "apply handler cfg failed")
		}
	}
	if h.member == nil {
		return nil, errors.New("handler requires a member")
	}
	if h.session == nil {
		h.session = session.NewMemoryStore()
	}
	return h, nil
}

func (h *handler) fields() logrus.Fields {
	return logrus.Fields{
		"client": h.member.ID,
		"conn":   h.member.ConnID.String(),
		"group":  h.group.ID,
	}
}

func (h *handler) forward(msg wire.Message) {
	skip := h.member
	if h.selfDelivery {
		skip = nil
	}
	failed := h.group.Broadcast(msg, skip)
	h.metrics.Relayed(msg.Kind().String())
	for _, id := range failed {
		h.metrics.SendFailed()
		logger.WithFields(h.fields()).WithField("peer", id).Debug("peer gone, message skipped")
	}
}

func (h *handler) handleMessage(_ context.Context, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.RaceEvent:
		if m.ClientID != h.member.ID {
			logger.WithFields(h.fields()).WithFields(log.MessageToFields(msg)).Warn("race event client id does not match connection")
		}
		if !h.group.UpdatePosition(h.member.ID, m.Event, m.Position) {
			logger.WithFields(h.fields()).WithFields(log.MessageToFields(msg)).Debug("position moved backwards, record kept")
		}
		h.forward(msg)
	case *wire.Heartbeat:
		h.session.Touch(h.member.ID, h.clock())
		h.forward(msg)
	case *wire.PlayerState:
		h.forward(msg)
	case *wire.RaceResult:
		h.forward(msg)
		if h.group.Finish() {
			h.metrics.GroupFinished()
			logger.WithFields(h.fields()).WithFields(log.MessageToFields(msg)).Info("group finished")
		}
	case *wire.ConnectionRequest, *wire.GroupAssignment:
		logger.WithFields(h.fields()).WithFields(log.MessageToFields(msg)).Warn("unexpected message after handshake")
		reply := &wire.ProtocolError{Code: wire.CodeUnexpectedMessage, Detail: "unexpected " + msg.Kind().String()}
		if err := h.member.Send(reply); err != nil {
			logger.WithFields(h.fields()).WithError(err).Debug("send protocol error failed")
		}
	default:
		logger.WithFields(h.fields()).WithFields(log.MessageToFields(msg)).Warn("dropping message")
	}
}

// Run relays the member's messages until its connection fails or ctx ends.
// The returned error is the read error that ended the task.
func (h *handler) Run(ctx context.Context) error {
	in := make(chan wire.Message)
	errc := make(chan error, 1)
	go func() {
		for {
			msg, err := h.member.Recv()
			if err != nil {
				errc <- err
				return
			}
			select {
			case in <- msg:
			case <-ctx.Done():
				return
			case <-h.member.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return errors.Wrap(err, "receive failed")
		case msg := <-in:
			h.handleMessage(ctx, msg)
		}
	}
}
