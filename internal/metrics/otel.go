// Package metrics provides instrumentation for learnlog.
//
// Store and search instruments are OpenTelemetry instruments on the global
// MeterProvider, so they cost nothing until a provider is installed. HTTP
// metrics are Prometheus collectors exposed on /metrics.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/learnlog"

// Instruments holds the OpenTelemetry instruments used by the store and the
// search manager.
type Instruments struct {
	StoreOps        metric.Int64Counter
	StoreErrors     metric.Int64Counter
	StoreLatency    metric.Float64Histogram
	SearchRequests  metric.Int64Counter
	SearchCacheHits metric.Int64Counter
	SearchLatency   metric.Float64Histogram
}

var (
	instrumentsOnce   sync.Once
	sharedInstruments *Instruments
)

// Get returns the process-wide instruments, creating them on first use.
// Creation failures are logged and leave a no-op instrument in place.
func Get() *Instruments {
	instrumentsOnce.Do(func() {
		sharedInstruments = newInstruments(otel.Meter(meterName))
	})
	return sharedInstruments
}

func newInstruments(m metric.Meter) *Instruments {
	in := &Instruments{}
	var err error

	if in.StoreOps, err = m.Int64Counter("learnlog.store.operations",
		metric.WithDescription("Number of store operations by operation name")); err != nil {
		log.Warn().Err(err).Msg("Failed to create store operation counter")
	}
	if in.StoreErrors, err = m.Int64Counter("learnlog.store.errors",
		metric.WithDescription("Number of failed store operations by operation and error class")); err != nil {
		log.Warn().Err(err).Msg("Failed to create store error counter")
	}
	if in.StoreLatency, err = m.Float64Histogram("learnlog.store.latency",
		metric.WithDescription("Store operation latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		log.Warn().Err(err).Msg("Failed to create store latency histogram")
	}
	if in.SearchRequests, err = m.Int64Counter("learnlog.search.requests",
		metric.WithDescription("Number of search requests")); err != nil {
		log.Warn().Err(err).Msg("Failed to create search request counter")
	}
	if in.SearchCacheHits, err = m.Int64Counter("learnlog.search.cache_hits",
		metric.WithDescription("Number of search requests served from cache")); err != nil {
		log.Warn().Err(err).Msg("Failed to create search cache counter")
	}
	if in.SearchLatency, err = m.Float64Histogram("learnlog.search.latency",
		metric.WithDescription("Search latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		log.Warn().Err(err).Msg("Failed to create search latency histogram")
	}
	return in
}

// RecordStoreOp records one store operation outcome.
func (in *Instruments) RecordStoreOp(ctx context.Context, op string, elapsed time.Duration, errClass string) {
	if in == nil {
		return
	}
	opAttr := metric.WithAttributes(attribute.String("op", op))
	if in.StoreOps != nil {
		in.StoreOps.Add(ctx, 1, opAttr)
	}
	if in.StoreLatency != nil {
		in.StoreLatency.Record(ctx, float64(elapsed.Microseconds())/1000, opAttr)
	}
	if errClass != "" && in.StoreErrors != nil {
		in.StoreErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("class", errClass),
		))
	}
}

// RecordSearch records one search request.
func (in *Instruments) RecordSearch(ctx context.Context, elapsed time.Duration, cached bool) {
	if in == nil {
		return
	}
	if in.SearchRequests != nil {
		in.SearchRequests.Add(ctx, 1)
	}
	if cached && in.SearchCacheHits != nil {
		in.SearchCacheHits.Add(ctx, 1)
	}
	if in.SearchLatency != nil {
		in.SearchLatency.Record(ctx, float64(elapsed.Microseconds())/1000,
			metric.WithAttributes(attribute.Bool("cached", cached)))
	}
}
