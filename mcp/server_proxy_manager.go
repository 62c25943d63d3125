package mcp

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/exp/maps"

	"github.com/coder/mcpbridge/utils"
)

// Upper bound of remote servers contacted at once during Init and Shutdown.
const maxConcurrentProxies = 8

var _ ServerProxier = &ServerProxyManager{}

// ServerProxyManager fans out over several [ServerProxier]s, keyed by server
// name, and presents their tools as a single catalog.
type ServerProxyManager struct {
	proxiers map[string]ServerProxier

	mu      sync.RWMutex
	catalog map[string]*Tool
}

func NewServerProxyManager(proxiers map[string]ServerProxier) *ServerProxyManager {
	return &ServerProxyManager{proxiers: proxiers}
}

// Init connects every server. Tools of servers which connected are listed
// even when others failed; the error names each failing server.
func (s *ServerProxyManager) Init(ctx context.Context) error {
	err := s.each(func(name string, p ServerProxier) error {
		if err := p.Init(ctx); err != nil {
			return fmt.Errorf("init %q: %w", name, err)
		}
		return nil
	})

	catalog := make(map[string]*Tool)
	for _, p := range s.proxiers {
		for _, tool := range p.ListTools() {
			catalog[tool.ID] = tool
		}
	}

	s.mu.Lock()
	s.catalog = catalog
	s.mu.Unlock()

	return err
}

func (s *ServerProxyManager) GetTool(id string) *Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog[id]
}

// ListTools returns the catalog ordered by tool ID.
func (s *ServerProxyManager) ListTools() []*Tool {
	s.mu.RLock()
	tools := maps.Values(s.catalog)
	s.mu.RUnlock()

	slices.SortFunc(tools, func(a, b *Tool) int { return cmp.Compare(a.ID, b.ID) })
	return tools
}

// CallTool routes the call to the server which advertised the tool.
func (s *ServerProxyManager) CallTool(ctx context.Context, id string, input any) (*mcp.CallToolResult, error) {
	tool := s.GetTool(id)
	if tool == nil {
		return nil, fmt.Errorf("%q tool not known", id)
	}

	p, ok := s.proxiers[tool.ServerName]
	if !ok {
		return nil, fmt.Errorf("%q server not known", tool.ServerName)
	}
	return p.CallTool(ctx, id, input)
}

// Shutdown closes every server session, waiting for all of them.
func (s *ServerProxyManager) Shutdown(ctx context.Context) error {
	return s.each(func(name string, p ServerProxier) error {
		if err := p.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown %q: %w", name, err)
		}
		return nil
	})
}

func (s *ServerProxyManager) each(fn func(name string, p ServerProxier) error) error {
	g := utils.NewConcurrentGroup(maxConcurrentProxies)
	for name, p := range s.proxiers {
		g.Go(func() error { return fn(name, p) })
	}
	return g.Wait()
}
