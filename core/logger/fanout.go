package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errSinkClosed = errors.New("logger: sink closed")

// fanout copies each line to every sink from a single goroutine so callers
// never block on a slow terminal or disk. A full queue makes WriteLine wait
// rather than drop lines.
type fanout struct {
	lines chan []byte
	done  chan struct{}

	sinks []*bufio.Writer

	// mu guards closed; writers hold it shared while queueing.
	mu     sync.RWMutex
	closed bool

	errMu sync.Mutex
	err   error
}

func newFanout(sinks []io.Writer) *fanout {
	f := &fanout{
		lines: make(chan []byte, 512),
		done:  make(chan struct{}),
	}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, bufio.NewWriterSize(s, 32*1024))
		}
	}
	go f.drain()
	return f
}

func (f *fanout) drain() {
	defer close(f.done)
	for line := range f.lines {
		f.record(f.write(line))
		if len(f.lines) == 0 {
			f.record(f.flush())
		}
	}
	f.record(f.flush())
}

// WriteLine queues a copy of p.
func (f *fanout) WriteLine(p []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return errSinkClosed
	}
	if err := f.firstErr(); err != nil {
		return err
	}
	f.lines <- append([]byte(nil), p...)
	return nil
}

// Close drains the queue and flushes the sinks. It is safe to call twice.
func (f *fanout) Close() error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.lines)
	}
	f.mu.Unlock()
	<-f.done
	return f.firstErr()
}

func (f *fanout) write(line []byte) error {
	var errs []error
	for _, s := range f.sinks {
		if _, err := s.Write(line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) flush() error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) record(err error) {
	if err == nil {
		return
	}
	f.errMu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.errMu.Unlock()
}

func (f *fanout) firstErr() error {
	f.errMu.Lock()
	defer f.errMu.Unlock()
	return f.err
}
