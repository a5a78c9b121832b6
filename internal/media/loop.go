package media

import (
	"sync"
)

// A loopFunc is a long-running function, e.g. a feed loop. It should return
// promptly when the quit channel is closed.
type loopFunc func(quit <-chan struct{}) error

// A task runs a loopFunc once, in its own goroutine, and lets other
// goroutines stop it and wait for its result.
type task struct {
	run loopFunc

	// Closed when stop() is requested, to trigger run loop exit.
	quit     chan struct{}
	quitOnce sync.Once

	// Closed when the run loop actually terminates.
	terminated chan struct{}

	// Result of run, valid once terminated is closed.
	err error

	sync.Mutex
	started bool
}

func newTask(run loopFunc) *task {
	return &task{
		run:        run,
		quit:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

// start launches the run loop. A task can only be started once.
func (t *task) start() {
	t.Lock()
	defer t.Unlock()

	if t.started {
		panic("task: already started")
	}
	t.started = true

	go func() {
		defer close(t.terminated)
		t.err = t.run(t.quit)
	}()
}

// stop requests termination and waits for the run loop to return. It is safe
// to call more than once, and from several goroutines.
func (t *task) stop() error {
	t.quitOnce.Do(func() { close(t.quit) })

	t.Lock()
	started := t.started
	t.Unlock()
	if !started {
		return nil
	}
	return t.wait()
}

// wait blocks until the run loop returns, then returns its result.
func (t *task) wait() error {
	<-t.terminated
	return t.err
}

// done is closed when the run loop has returned.
func (t *task) done() <-chan struct{} {
	return t.terminated
}
