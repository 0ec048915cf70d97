// Package events publishes run phase transitions to NATS.
//
// Each transition is published as JSON to:
//
//	mcpforge.runs.{run_id}.{phase}
//
// where phase is the phase entered. Subscribers can follow one run with
// "mcpforge.runs.{run_id}.>" (see Watch) or every terminal outcome with
// "mcpforge.runs.*.completed" and "mcpforge.runs.*.failed".
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mcpforge/internal/logging"
	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

// SubjectPrefix is the root of every run subject.
const SubjectPrefix = "mcpforge.runs"

// Subject returns the subject a transition into phase is published on.
func Subject(runID string, phase orchestrator.Phase) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, runID, phase)
}

// Connect dials the NATS server at url, retrying in the background if it is
// not reachable yet.
func Connect(url string, logger *logging.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("mcpforge"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "NATS disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Publisher implements orchestrator.Observer. Publishing never blocks the
// run; failures are logged and dropped.
type Publisher struct {
	nc     *nats.Conn
	logger *logging.Logger
}

// NewPublisher creates a publisher on nc.
func NewPublisher(nc *nats.Conn, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{nc: nc, logger: logger}
}

// OnTransition publishes t.
func (p *Publisher) OnTransition(ctx context.Context, t orchestrator.Transition) {
	data, err := json.Marshal(t)
	if err != nil {
		p.logger.Warn(ctx, "failed to marshal transition", zap.Error(err))
		return
	}
	subject := Subject(t.RunID, t.To)
	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "failed to publish transition",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Decode parses a message published by OnTransition.
func Decode(msg *nats.Msg) (orchestrator.Transition, error) {
	var t orchestrator.Transition
	if err := json.Unmarshal(msg.Data, &t); err != nil {
		return t, fmt.Errorf("decode transition: %w", err)
	}
	return t, nil
}

// Watch follows runID's transitions, calling fn for each, until the run
// reaches a terminal phase or ctx ends.
func Watch(ctx context.Context, nc *nats.Conn, runID string, fn func(orchestrator.Transition)) error {
	msgs := make(chan *nats.Msg, 64)
	sub, err := nc.ChanSubscribe(fmt.Sprintf("%s.%s.>", SubjectPrefix, runID), msgs)
	if err != nil {
		return fmt.Errorf("failed to subscribe to run %s: %w", runID, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			t, err := Decode(msg)
			if err != nil {
				return err
			}
			fn(t)
			if t.To.Terminal() {
				return nil
			}
		}
	}
}

var _ orchestrator.Observer = (*Publisher)(nil)
