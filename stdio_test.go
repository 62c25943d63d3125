package mcpbridge_test

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/coder/mcpbridge"
	mcpcontext "github.com/coder/mcpbridge/context"
	"github.com/coder/mcpbridge/testutil"
)

func TestServeStdio(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(t.Context(), testutil.WaitLong)
	t.Cleanup(cancel)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	p := fakeInitProvider{&fakeProvider{name: "fake"}}
	errCh := make(chan error, 1)
	go func() {
		err := mcpbridge.ServeStdio(ctx, p, &mcpcontext.Credentials{Token: "env-token"}, inR, outW, mcpbridge.Options{
			Logger: slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		})
		_ = outW.Close()
		errCh <- err
	}()

	out := bufio.NewReader(outR)
	send := func(id int, method string, params any) {
		t.Helper()
		_, err := fmt.Fprintf(inW, "%s\n", testutil.MustRPCMessage(t, id, method, params))
		require.NoError(t, err)
	}
	recv := func() gjson.Result {
		t.Helper()
		line, err := out.ReadString('\n')
		require.NoError(t, err)
		return gjson.Parse(line)
	}

	send(1, "initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test", "version": "1.0.0"},
	})
	resp := recv()
	assert.EqualValues(t, 1, resp.Get("id").Int())
	assert.Equal(t, "Tools for tests.", resp.Get("result.instructions").String())

	send(0, "notifications/initialized", nil)

	send(2, "tools/list", nil)
	resp = recv()
	assert.EqualValues(t, 2, resp.Get("id").Int())
	assert.Len(t, resp.Get("result.tools").Array(), 4)

	send(3, "tools/call", map[string]any{
		"name":      "fake_whoami",
		"arguments": map[string]any{},
	})
	resp = recv()
	assert.EqualValues(t, 3, resp.Get("id").Int())
	assert.Equal(t, "env-token|", resp.Get("result.content.0.text").String())
	assert.False(t, resp.Get("result.isError").Bool())

	require.NoError(t, inW.Close())
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("stdio server did not stop on EOF")
	}

	assert.EqualValues(t, 1, p.inits.Load())
	assert.EqualValues(t, 1, p.shutdowns.Load())
}

func TestServeStdioCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	inR, inW := io.Pipe()
	t.Cleanup(func() { _ = inW.Close() })

	errCh := make(chan error, 1)
	go func() {
		errCh <- mcpbridge.ServeStdio(ctx, &fakeProvider{name: "fake"}, nil, inR, io.Discard, mcpbridge.Options{
			Logger: slogtest.Make(t, &slogtest.Options{IgnoreErrors: true}),
		})
	}()

	cancel()
	waitCtx, waitCancel := context.WithTimeout(t.Context(), testutil.WaitShort)
	t.Cleanup(waitCancel)
	select {
	case err := <-errCh:
		assert.False(t, errors.Is(err, context.Canceled), "cancellation is a clean stop")
		assert.NoError(t, err)
	case <-waitCtx.Done():
		t.Fatal("stdio server did not stop")
	}
}
