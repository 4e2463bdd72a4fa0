package speedwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hazyhaar/vscd/speedwatch/event"
	"github.com/hazyhaar/vscd/speedwatch/internal/config"
	"github.com/hazyhaar/vscd/speedwatch/internal/sink"
)

// Sink is the output interface for speedwatch telemetry.
type Sink = sink.Sink

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewPrometheusSink registers the speedwatch metrics on reg.
func NewPrometheusSink(reg prometheus.Registerer) Sink {
	return sink.NewPrometheus(reg)
}

// NewCallbackSink creates an in-process sink, the connectivity "local"
// path with no serialisation.
func NewCallbackSink(fn func(ctx context.Context, ev event.RateChange) error) Sink {
	return sink.NewCallback(fn)
}

// BuildSinks creates the sinks a configuration names. reg receives the
// metrics of a prometheus sink.
func BuildSinks(cfgs []config.SinkConfig, reg prometheus.Registerer, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Sink
	for _, sc := range cfgs {
		switch sc.Type {
		case "stdout":
			out = append(out, sink.NewStdout(os.Stdout))
		case "webhook":
			opts := []sink.WebhookOption{
				sink.WithWebhookLogger(logger),
				sink.WithWebhookRetries(sc.Retries),
			}
			if sc.RatePerSec > 0 {
				burst := sc.Burst
				if burst <= 0 {
					burst = 1
				}
				opts = append(opts, sink.WithWebhookRate(rate.Limit(sc.RatePerSec), burst))
			}
			out = append(out, sink.NewWebhook(sc.URL, opts...))
		case "prometheus":
			if reg == nil {
				return nil, fmt.Errorf("speedwatch: prometheus sink needs a registerer")
			}
			out = append(out, sink.NewPrometheus(reg))
		default:
			return nil, fmt.Errorf("speedwatch: unknown sink type %q", sc.Type)
		}
	}
	return out, nil
}
