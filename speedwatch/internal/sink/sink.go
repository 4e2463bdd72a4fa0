// Package sink defines output backends for speedwatch telemetry.
package sink

import (
	"context"

	"github.com/hazyhaar/vscd/speedwatch/event"
)

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, Prometheus, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev event.RateChange) error
	Close() error
}
