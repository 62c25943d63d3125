// Package apidump writes upstream HTTP traffic to disk for debugging adapters
// against real third-party APIs. Credentials are redacted.
package apidump

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/tidwall/pretty"
)

const (
	// SuffixRequest is the file suffix for request dump files.
	SuffixRequest = ".req.txt"
	// SuffixResponse is the file suffix for response dump files.
	SuffixResponse = ".resp.txt"
)

// LabelFunc names the directory a request is dumped into, typically the
// adapter's endpoint label.
type LabelFunc func(*http.Request) string

type transport struct {
	baseDir  string
	provider string
	label    LabelFunc
	clk      quartz.Clock
	logger   slog.Logger
	next     http.RoundTripper
}

// NewTransport returns a round tripper that dumps every request and response
// passing through it under baseDir/<provider>/<label>/.
// If baseDir is empty, next is returned unchanged.
func NewTransport(baseDir, provider string, label LabelFunc, logger slog.Logger, clk quartz.Clock, next http.RoundTripper) http.RoundTripper {
	if baseDir == "" {
		return next
	}
	if label == nil {
		label = func(*http.Request) string { return "" }
	}
	if clk == nil {
		clk = quartz.NewReal()
	}

	return &transport{
		baseDir:  baseDir,
		provider: provider,
		label:    label,
		clk:      clk,
		logger:   logger.Named("apidump"),
		next:     next,
	}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.basePath(req)

	if err := t.dumpRequest(base+SuffixRequest, req); err != nil {
		t.logger.Warn(req.Context(), "failed to dump request", slog.Error(err))
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	t.dumpResponse(base+SuffixResponse, resp)
	return resp, nil
}

func (t *transport) dumpRequest(dumpPath string, req *http.Request) error {
	if err := os.MkdirAll(filepath.Dir(dumpPath), 0o755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}

	// Read and restore body
	var bodyBytes []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return fmt.Errorf("read request body: %w", err)
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
	}

	prettyBody := prettyPrintJSON(bodyBytes)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s %s\r\n", req.Method, redactQuery(req.URL), req.Proto)
	fmt.Fprintf(&buf, "Host: %s\r\n", req.URL.Host)
	writeRedactedHeaders(&buf, req.Header, sensitiveRequestHeaders)
	fmt.Fprintf(&buf, "\r\n")
	buf.Write(prettyBody)

	return os.WriteFile(dumpPath, buf.Bytes(), 0o644)
}

func (t *transport) dumpResponse(dumpPath string, resp *http.Response) {
	var headerBuf bytes.Buffer
	fmt.Fprintf(&headerBuf, "%s %s\r\n", resp.Proto, resp.Status)
	writeRedactedHeaders(&headerBuf, resp.Header, sensitiveResponseHeaders)
	fmt.Fprintf(&headerBuf, "\r\n")

	onErr := func(err error) {
		t.logger.Warn(context.Background(), "failed to dump response", slog.Error(err), slog.F("path", dumpPath))
	}

	if resp.Body == nil {
		if err := os.WriteFile(dumpPath, headerBuf.Bytes(), 0o644); err != nil {
			onErr(err)
		}
		return
	}

	resp.Body = &bodyDumper{
		body:       resp.Body,
		dumpPath:   dumpPath,
		headerData: headerBuf.Bytes(),
		onErr:      onErr,
	}
}

// basePath returns the dump path for a request, without suffix.
func (t *transport) basePath(req *http.Request) string {
	dir := filepath.Join(t.baseDir, sanitize(t.provider))
	if label := sanitize(t.label(req)); label != "" {
		dir = filepath.Join(dir, label)
	}
	return filepath.Join(dir, fmt.Sprintf("%d-%s", t.clk.Now().UTC().UnixMilli(), uuid.New()))
}

// writeRedactedHeaders writes HTTP headers in wire format (Key: Value\r\n) to w,
// redacting sensitive values. Headers are sorted by key for deterministic output.
func writeRedactedHeaders(w io.Writer, headers http.Header, sensitive map[string]struct{}) {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		_, isSensitive := sensitive[key]
		for _, value := range headers[key] {
			if isSensitive {
				value = redactValue(value)
			}
			fmt.Fprintf(w, "%s: %s\r\n", key, value)
		}
	}
}

func sanitize(name string) string {
	return strings.NewReplacer("/", "-", "\\", "-", "..", "_", ":", "_").Replace(name)
}

// prettyPrintJSON returns indented JSON if body is valid JSON, otherwise returns body as-is.
// Unlike json.MarshalIndent, this preserves the original key order from the input.
func prettyPrintJSON(body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	result := pretty.Pretty(body)
	if !json.Valid(result) {
		return body
	}
	return bytes.TrimSuffix(result, []byte("\n"))
}
