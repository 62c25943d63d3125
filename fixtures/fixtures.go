// Package fixtures holds txtar fixtures describing tool calls against fake
// vendor APIs, one directory per provider.
//
// A fixture named <tool>.txtar or <tool>__<case>.txtar exercises the tool
// <provider>_<tool>. See testutil.ToolFixture for the sections.
package fixtures

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed */*.txtar
var files embed.FS

// ToolFixture is a raw fixture file.
type ToolFixture struct {
	// Name is the file name without extension, e.g. "list_folder__invalid_limit".
	Name string
	// Tool is the unprefixed tool name, e.g. "list_folder".
	Tool string
	Data []byte
}

// Tools returns the fixtures of provider sorted by name.
func Tools(provider string) ([]ToolFixture, error) {
	entries, err := fs.ReadDir(files, provider)
	if err != nil {
		return nil, fmt.Errorf("read %s fixtures: %w", provider, err)
	}

	var out []ToolFixture
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".txtar" {
			continue
		}
		data, err := files.ReadFile(path.Join(provider, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".txtar")
		tool, _, _ := strings.Cut(name, "__")
		out = append(out, ToolFixture{Name: name, Tool: tool, Data: data})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Providers lists the providers which have fixtures.
func Providers() []string {
	entries, _ := fs.ReadDir(files, ".")
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out
}
