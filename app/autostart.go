package app

import (
	"context"
	"sync"
)

// autostart runs the start-all pass in the background so the bot answers at
// once, and lets shutdown wait for it before stopping workers.
type autostart struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *autostart) launch(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		fn(ctx)
	}()
}

// halt cancels a running pass and waits for it to return.
func (s *autostart) halt() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
