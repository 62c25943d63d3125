package mcpbridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cdr.dev/slog"
	"github.com/mark3labs/mcp-go/server"

	mcpcontext "github.com/coder/mcpbridge/context"
)

// ServeStdio serves a single provider over newline delimited JSON-RPC on in
// and out until ctx is done or in is closed. creds, which may be nil, are
// used for every tool call of the session; providers fall back to their
// configured keys otherwise.
//
// Nothing but protocol messages is written to out, so the logger must not
// write there.
func ServeStdio(ctx context.Context, p Provider, creds *Credentials, in io.Reader, out io.Writer, opts Options) (outErr error) {
	name := p.Name()
	logger := opts.Logger.Named("stdio").With(slog.F("provider", name))

	if init, ok := p.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			logger.Warn(ctx, "provider initialization failed", slog.Error(err))
		}
		defer func() {
			if err := init.Shutdown(context.WithoutCancel(ctx)); err != nil {
				outErr = errors.Join(outErr, fmt.Errorf("shutdown provider %q: %w", name, err))
			}
		}()
	}

	stdio := server.NewStdioServer(NewMCPServer(p, opts))
	stdio.SetErrorLogger(slog.Stdlib(ctx, logger, slog.LevelError))
	stdio.SetContextFunc(func(ctx context.Context) context.Context {
		return mcpcontext.AsCredentials(ctx, creds)
	})

	logger.Info(ctx, "serving provider over stdio")
	err := stdio.Listen(ctx, in, out)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("serve stdio: %w", err)
}
