package utils

import (
	"sync"

	"github.com/hashicorp/go-multierror"
)

// ConcurrentGroup runs tasks in their own goroutines and collects every
// failure. Unlike errgroup.Group a failing task never cancels its siblings.
// A positive limit bounds how many tasks run at once.
type ConcurrentGroup struct {
	wg  sync.WaitGroup
	sem chan struct{}

	mu     sync.Mutex
	result *multierror.Error
}

func NewConcurrentGroup(limit int) *ConcurrentGroup {
	g := &ConcurrentGroup{}
	if limit > 0 {
		g.sem = make(chan struct{}, limit)
	}
	return g
}

// Go schedules fn. It blocks while the group is at its limit.
func (g *ConcurrentGroup) Go(fn func() error) {
	if g.sem != nil {
		g.sem <- struct{}{}
	}
	g.wg.Add(1)
	go func() {
		defer func() {
			if g.sem != nil {
				<-g.sem
			}
			g.wg.Done()
		}()

		err := fn()
		if err == nil {
			return
		}
		g.mu.Lock()
		g.result = multierror.Append(g.result, err)
		g.mu.Unlock()
	}()
}

// Wait blocks until every scheduled task returned. The error aggregates all
// task failures and is nil when none failed.
func (g *ConcurrentGroup) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result.ErrorOrNil()
}
