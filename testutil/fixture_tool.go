package testutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/txtar"
)

// Sections of a tool fixture archive.
const (
	FixtureArgs     = "args"
	FixtureRequest  = "request"
	FixtureResponse = "response"
	FixtureStatus   = "status"
	FixtureResult   = "result"
	FixtureError    = "error"
)

var knownSections = []string{FixtureArgs, FixtureRequest, FixtureResponse, FixtureStatus, FixtureResult, FixtureError}

// ToolFixture describes one tool call as a txtar archive:
//
//	-- args --       tool arguments (JSON object)
//	-- request --    expected upstream request: "METHOD /path?query" on the
//	                 first line, optionally followed by the expected body
//	-- response --   upstream response body
//	-- status --     upstream status code (default 200)
//	-- result --     expected tool result text
//	-- error --      expected substring of an isError result
//
// Only args is required. Any text before the first section is a free-form
// description.
type ToolFixture struct {
	Description string
	sections    map[string][]byte
}

// ExpectedRequest is the parsed "request" section.
type ExpectedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

func ParseToolFixture(data []byte) (ToolFixture, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return ToolFixture{}, errors.New("empty fixture")
	}

	arc := txtar.Parse(data)
	sections := make(map[string][]byte, len(arc.Files))
	for _, f := range arc.Files {
		name := strings.TrimSpace(f.Name)
		if !slices.Contains(knownSections, name) {
			return ToolFixture{}, fmt.Errorf("unknown section %q", f.Name)
		}
		if _, dup := sections[name]; dup {
			return ToolFixture{}, fmt.Errorf("section %q appears twice", name)
		}
		sections[name] = f.Data
	}

	if _, ok := sections[FixtureArgs]; !ok {
		return ToolFixture{}, fmt.Errorf("missing %q section; have %v", FixtureArgs, sortedKeys(sections))
	}
	_, hasResult := sections[FixtureResult]
	_, hasError := sections[FixtureError]
	if hasResult && hasError {
		return ToolFixture{}, fmt.Errorf("fixture may not have both %q and %q", FixtureResult, FixtureError)
	}

	return ToolFixture{
		Description: strings.TrimSpace(string(arc.Comment)),
		sections:    sections,
	}, nil
}

func MustToolFixture(t testing.TB, data []byte) ToolFixture {
	t.Helper()
	f, err := ParseToolFixture(data)
	mustNoError(t, err, "parse tool fixture")
	return f
}

// Sections lists the sections present, sorted.
func (f ToolFixture) Sections() []string {
	return sortedKeys(f.sections)
}

// Args returns the decoded tool arguments.
func (f ToolFixture) Args() (map[string]any, error) {
	var args map[string]any
	if err := json.Unmarshal(f.sections[FixtureArgs], &args); err != nil {
		return nil, fmt.Errorf("decode %q section: %w", FixtureArgs, err)
	}
	return args, nil
}

func (f ToolFixture) MustArgs(t testing.TB) map[string]any {
	t.Helper()
	args, err := f.Args()
	mustNoError(t, err, "fixture args")
	return args
}

// Response returns the status and body the fake upstream should answer with.
func (f ToolFixture) Response() (int, []byte, error) {
	status := 200
	if raw, ok := f.sections[FixtureStatus]; ok {
		var err error
		if status, err = strconv.Atoi(strings.TrimSpace(string(raw))); err != nil {
			return 0, nil, fmt.Errorf("parse %q section: %w", FixtureStatus, err)
		}
	}
	body, ok := f.sections[FixtureResponse]
	if !ok {
		return status, []byte(`{}`), nil
	}
	return status, bytes.TrimRight(body, "\n"), nil
}

// Request returns the expected upstream request, if the fixture has one.
func (f ToolFixture) Request() (ExpectedRequest, bool, error) {
	raw, ok := f.sections[FixtureRequest]
	if !ok {
		return ExpectedRequest{}, false, nil
	}

	line, body, _ := bytes.Cut(raw, []byte("\n"))
	method, target, ok := strings.Cut(strings.TrimSpace(string(line)), " ")
	if !ok {
		return ExpectedRequest{}, false, fmt.Errorf("%q section: want \"METHOD /path\", got %q", FixtureRequest, line)
	}

	u, err := url.Parse(target)
	if err != nil {
		return ExpectedRequest{}, false, fmt.Errorf("%q section: %w", FixtureRequest, err)
	}

	return ExpectedRequest{
		Method: method,
		Path:   u.EscapedPath(),
		Query:  u.Query(),
		Body:   bytes.TrimSpace(body),
	}, true, nil
}

// Result returns the expected result text and whether it is an error.
func (f ToolFixture) Result() (text string, isError bool, ok bool) {
	if raw, found := f.sections[FixtureError]; found {
		return strings.TrimSpace(string(raw)), true, true
	}
	if raw, found := f.sections[FixtureResult]; found {
		return strings.TrimSpace(string(raw)), false, true
	}
	return "", false, false
}
