package mcpbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"cdr.dev/slog"
	"github.com/hashicorp/go-multierror"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/coder/mcpbridge/buildinfo"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/mcp"
	"github.com/coder/mcpbridge/metrics"
)

// Transport labels used in metrics.
const (
	TransportStreamable = "streamable"
	TransportSSE        = "sse"
	TransportStdio      = "stdio"
)

// Options configures a [ServerBridge] or a stdio session. The zero value is usable.
type Options struct {
	Logger  slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// AuthHeader names the inbound header carrying credentials; defaults to
	// [DefaultAuthHeader].
	AuthHeader string
	// BaseURL is the externally visible URL of the bridge, used in the message
	// endpoint announced on SSE connections. Relative endpoints are announced
	// when empty.
	BaseURL string

	// ToolAllowlist and ToolDenylist filter the tools exposed by every
	// provider. The denylist wins.
	ToolAllowlist, ToolDenylist *regexp.Regexp
}

func (o Options) tracer() trace.Tracer {
	if o.Tracer == nil {
		return noop.NewTracerProvider().Tracer("mcpbridge")
	}
	return o.Tracer
}

// ServerBridge is an [http.Handler] which serves every provider as its own
// MCP server below /<provider>/:
//
//	POST /<provider>/mcp       streamable HTTP, stateless
//	GET  /<provider>/sse       legacy SSE stream
//	POST /<provider>/message   legacy SSE messages
//
// Credentials are read from the configured header of each HTTP request and
// are only visible to tool calls made by that request.
//
// ServerBridge is safe for concurrent use.
type ServerBridge struct {
	mux        *http.ServeMux
	logger     slog.Logger
	metrics    *metrics.Metrics
	authHeader string

	sseServers   []*server.SSEServer
	initializers []namedInitializer

	inflightReqs atomic.Int32
	inflightWG   sync.WaitGroup // For graceful shutdown.

	inflightCtx    context.Context
	inflightCancel func()

	// streamsCtx is cancelled first on shutdown; it ends open SSE streams.
	streamsCtx    context.Context
	streamsCancel func()

	shutdownOnce sync.Once
	closed       chan struct{}
}

type namedInitializer struct {
	name string
	Initializer
}

var _ http.Handler = &ServerBridge{}

// NewServerBridge creates a *[ServerBridge] serving providers. Providers
// implementing [Initializer] are initialized first; a failing initializer is
// logged and its provider is served with whatever tools it has. Initialized
// providers are shut down by [ServerBridge.Shutdown].
func NewServerBridge(ctx context.Context, providers []Provider, opts Options) (*ServerBridge, error) {
	authHeader := opts.AuthHeader
	if authHeader == "" {
		authHeader = DefaultAuthHeader
	}

	b := &ServerBridge{
		mux:        http.NewServeMux(),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		authHeader: authHeader,
		closed:     make(chan struct{}, 1),
	}
	b.inflightCtx, b.inflightCancel = context.WithCancel(context.Background())
	b.streamsCtx, b.streamsCancel = context.WithCancel(context.Background())

	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		name := p.Name()
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate provider %q", name)
		}
		seen[name] = struct{}{}

		if init, ok := p.(Initializer); ok {
			if err := init.Init(ctx); err != nil {
				opts.Logger.Warn(ctx, "provider initialization failed", slog.F("provider", name), slog.Error(err))
			}
			b.initializers = append(b.initializers, namedInitializer{name: name, Initializer: init})
		}

		srv := NewMCPServer(p, opts)

		streamable := server.NewStreamableHTTPServer(srv, server.WithStateLess(true))
		sse := server.NewSSEServer(srv,
			server.WithBaseURL(opts.BaseURL),
			server.WithStaticBasePath("/"+name),
			server.WithSSEEndpoint("/sse"),
			server.WithMessageEndpoint("/message"),
		)
		b.sseServers = append(b.sseServers, sse)

		b.mux.Handle("/"+name+"/mcp", b.withCredentials(name, TransportStreamable, rejectMethods(streamable, http.MethodGet, http.MethodDelete)))
		b.mux.Handle("/"+name+"/sse", b.withCredentials(name, TransportSSE, sse))
		b.mux.Handle("/"+name+"/message", b.withCredentials(name, TransportSSE, sse))
	}

	// Catch-all.
	b.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		b.logger.Debug(r.Context(), "route not supported", slog.F("path", r.URL.Path), slog.F("method", r.Method))
		http.Error(w, fmt.Sprintf("route not supported: %s %s", r.Method, r.URL.Path), http.StatusNotFound)
	})

	return b, nil
}

// NewMCPServer builds the MCP server of a single provider, with its tools
// filtered and instrumented.
func NewMCPServer(p Provider, opts Options) *server.MCPServer {
	name := p.Name()
	logger := opts.Logger.Named(name)

	srv := server.NewMCPServer(
		"mcpbridge-"+name,
		buildinfo.Version(),
		server.WithToolCapabilities(false),
		server.WithInstructions(p.Instructions()),
		server.WithToolHandlerMiddleware(toolMiddleware(name, logger, opts.Metrics, opts.tracer())),
	)

	tools := make(map[string]server.ServerTool)
	for _, t := range p.Tools() {
		tools[t.Tool.Name] = t
	}
	tools = mcp.FilterAllowedTools(logger.Named("tool-filterer"), tools, opts.ToolAllowlist, opts.ToolDenylist)

	names := make([]string, 0, len(tools))
	for n := range tools {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]server.ServerTool, 0, len(names))
	for _, n := range names {
		out = append(out, tools[n])
	}
	if len(out) > 0 {
		srv.AddTools(out...)
	}
	logger.Debug(context.Background(), "registered tools", slog.F("count", len(out)))
	return srv
}

// ServeHTTP exposes the internal http.Handler, which has all providers' routes registered.
// It also tracks inflight requests.
func (b *ServerBridge) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	select {
	case <-b.closed:
		http.Error(rw, "server closed", http.StatusServiceUnavailable)
		return
	default:
	}

	// We want to abide by the context passed in without losing any of its
	// functionality, but we still want to link our shutdown context to each
	// request.
	ctx, cancel := mergeContexts(r.Context(), b.inflightCtx)
	defer cancel()

	b.inflightReqs.Add(1)
	b.inflightWG.Add(1)
	if b.metrics != nil {
		b.metrics.HTTPRequestsInflight.Inc()
	}
	defer func() {
		b.inflightReqs.Add(-1)
		b.inflightWG.Done()
		if b.metrics != nil {
			b.metrics.HTTPRequestsInflight.Dec()
		}
	}()

	b.mux.ServeHTTP(rw, r.WithContext(ctx))
}

// withCredentials parses the request's credentials into its context and
// counts the request.
func (b *ServerBridge) withCredentials(providerName, transport string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			if b.metrics != nil {
				b.metrics.HTTPRequestCount.WithLabelValues(providerName, transport, strconv.Itoa(sw.code())).Inc()
			}
		}()

		creds, err := credentialsFromRequest(r, b.authHeader)
		if err != nil {
			b.logger.Debug(r.Context(), "rejecting request with invalid credentials",
				slog.F("provider", providerName), slog.F("header", b.authHeader), slog.Error(err))
			http.Error(sw, fmt.Sprintf("invalid %s header: %v", b.authHeader, err), http.StatusUnauthorized)
			return
		}

		ctx := mcpcontext.AsCredentials(r.Context(), creds)
		if transport == TransportSSE && r.Method == http.MethodGet {
			var cancel context.CancelFunc
			ctx, cancel = mergeContexts(ctx, b.streamsCtx)
			defer cancel()
		}

		next.ServeHTTP(sw, r.WithContext(ctx))
	})
}

// Shutdown will attempt to gracefully shutdown. This entails closing SSE
// streams, waiting for all requests to complete, and shutting down
// initialized providers.
func (b *ServerBridge) Shutdown(ctx context.Context) error {
	var err error
	b.shutdownOnce.Do(func() {
		// Prevent any new requests from being accepted.
		close(b.closed)

		// SSE streams only end when their session or request is closed.
		b.streamsCancel()
		for _, sse := range b.sseServers {
			if serr := sse.Shutdown(ctx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
				err = multierror.Append(err, fmt.Errorf("shutdown SSE server: %w", serr))
			}
		}

		// Wait for inflight requests to complete or context cancellation.
		done := make(chan struct{})
		go func() {
			b.inflightWG.Wait()
			close(done)
		}()

		select {
		case <-ctx.Done():
			// Cancel all inflight requests, if any are still running.
			b.logger.Debug(ctx, "shutdown context canceled; cancelling inflight requests", slog.Error(ctx.Err()))
			b.inflightCancel()
			<-done
			err = multierror.Append(err, ctx.Err())
		case <-done:
			b.inflightCancel()
		}

		for _, init := range b.initializers {
			// It's ok that we reuse the ctx here even if it's done, since
			// shutdowns fall back to closing connections immediately.
			if serr := init.Shutdown(ctx); serr != nil {
				err = multierror.Append(err, fmt.Errorf("shutdown provider %q: %w", init.name, serr))
			}
		}
	})

	return err
}

func (b *ServerBridge) InflightRequests() int32 {
	return b.inflightReqs.Load()
}

// mergeContexts merges two contexts together, so that if either is cancelled
// the returned context is cancelled. The context values will only be used from
// the first context.
func mergeContexts(base, other context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(base)
	stop := context.AfterFunc(other, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func rejectMethods(next http.Handler, methods ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range methods {
			if r.Method == m {
				w.Header().Set("Allow", http.MethodPost)
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter records the response status. It keeps the writer flushable,
// which SSE streams require.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(p)
}

func (w *statusWriter) Flush() {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}
