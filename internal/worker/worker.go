// Package worker provides background worker tasks.
package worker

import "sync"

// Worker is a set of managed background go routines.
type Worker struct {
	sync.WaitGroup
	initOnce sync.Once
	haltOnce sync.Once

	haltCh chan struct{}
}

// Go executes fn in a new go routine. fn must watch HaltCh and return once it
// is closed.
func (w *Worker) Go(fn func()) {
	w.initOnce.Do(w.init)
	w.Add(1)
	go func() {
		defer w.Done()
		fn()
	}()
}

// Halt signals every go routine started under the Worker to stop and waits for
// them to return. It is safe to call more than once.
func (w *Worker) Halt() {
	w.initOnce.Do(w.init)
	w.haltOnce.Do(func() { close(w.haltCh) })
	w.Wait()
}

// HaltCh returns the channel closed by Halt.
func (w *Worker) HaltCh() <-chan struct{} {
	w.initOnce.Do(w.init)
	return w.haltCh
}

func (w *Worker) init() {
	w.haltCh = make(chan struct{})
}
