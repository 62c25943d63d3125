package upstream

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/coder/mcpbridge/circuitbreaker"
	"github.com/coder/mcpbridge/metrics"
	"github.com/coder/mcpbridge/tracing"
	"github.com/coder/mcpbridge/upstream/apidump"
)

// Options configures a [Client] and its transport. The zero value is usable.
type Options struct {
	Logger  slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// Timeout bounds each request; defaults to [DefaultTimeout].
	Timeout   time.Duration
	UserAgent string
	// MaxResponseBytes caps buffered response bodies; defaults to
	// [DefaultMaxResponseBytes].
	MaxResponseBytes int64

	// DumpDir enables request/response dumps when set.
	DumpDir string
	Clock   quartz.Clock

	// CircuitBreaker enables per-endpoint circuit breakers when set.
	CircuitBreaker *circuitbreaker.Config

	// Transport is the innermost round tripper; defaults to a pooled
	// [http.Transport].
	Transport http.RoundTripper
}

func defaultBaseTransport() http.RoundTripper {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewTransport wraps opts.Transport for provider. From the outside in, a
// request passes through a tracing span, metrics, the endpoint's circuit
// breaker and the optional dumper.
func NewTransport(provider string, opts Options) http.RoundTripper {
	logger := opts.Logger.Named("upstream").With(slog.F("provider", provider))

	rt := opts.Transport
	if rt == nil {
		rt = defaultBaseTransport()
	}

	rt = apidump.NewTransport(opts.DumpDir, provider, func(r *http.Request) string {
		return EndpointFromContext(r.Context())
	}, logger, opts.Clock, rt)

	if breakers := circuitbreaker.New(provider, opts.CircuitBreaker, onBreakerChange(provider, logger, opts.Metrics)); breakers != nil {
		rt = &breakerTransport{
			breakers: breakers,
			metrics:  opts.Metrics,
			next:     rt,
		}
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	return &instrumentedTransport{
		provider: provider,
		metrics:  opts.Metrics,
		tracer:   tracer,
		next:     rt,
	}
}

func onBreakerChange(provider string, logger slog.Logger, m *metrics.Metrics) circuitbreaker.StateChangeFunc {
	return func(endpoint string, from, to gobreaker.State) {
		logger.Info(context.Background(), "circuit breaker state changed",
			slog.F("endpoint", endpoint),
			slog.F("from", from.String()),
			slog.F("to", to.String()),
		)
		if m == nil {
			return
		}
		m.CircuitBreakerState.WithLabelValues(provider, endpoint).Set(circuitbreaker.GaugeValue(to))
		if to == gobreaker.StateOpen {
			m.CircuitBreakerTrips.WithLabelValues(provider, endpoint).Inc()
		}
	}
}

type breakerTransport struct {
	breakers *circuitbreaker.Endpoints
	metrics  *metrics.Metrics
	next     http.RoundTripper
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	endpoint := EndpointFromContext(req.Context())
	resp, err := t.breakers.Do(endpoint, func() (*http.Response, error) {
		return t.next.RoundTrip(req)
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) && t.metrics != nil {
		t.metrics.CircuitBreakerRejects.WithLabelValues(t.breakers.Provider(), endpoint).Inc()
	}
	return resp, err
}

type instrumentedTransport struct {
	provider string
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	next     http.RoundTripper
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (_ *http.Response, outErr error) {
	endpoint := EndpointFromContext(req.Context())

	// The query string is left out since some APIs carry keys in it.
	redacted := *req.URL
	redacted.RawQuery = ""
	redacted.User = nil

	attrs := append(slices.Clone(tracing.ToolCallAttributesFromContext(req.Context())),
		attribute.String(tracing.Provider, t.provider),
		attribute.String(tracing.UpstreamEndpoint, endpoint),
		attribute.String(tracing.UpstreamMethod, req.Method),
		attribute.String(tracing.UpstreamURL, redacted.String()),
	)
	ctx, span := t.tracer.Start(req.Context(), "Upstream.Request", trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
	defer tracing.EndSpanErr(span, &outErr)

	start := time.Now()
	resp, err := t.next.RoundTrip(req.WithContext(ctx))

	code := "error"
	if err == nil {
		code = strconv.Itoa(resp.StatusCode)
		span.SetAttributes(attribute.Int(tracing.UpstreamStatusCode, resp.StatusCode))
		if resp.StatusCode >= http.StatusBadRequest {
			span.SetStatus(codes.Error, resp.Status)
		}
	}

	if t.metrics != nil {
		t.metrics.UpstreamRequestCount.WithLabelValues(t.provider, endpoint, req.Method, code).Inc()
		t.metrics.UpstreamRequestDuration.WithLabelValues(t.provider, endpoint).Observe(time.Since(start).Seconds())
	}

	return resp, err
}
