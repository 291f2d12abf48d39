package safe_close

import "sync"

// SafeClose coordinates the shutdown of a service and its helper
// goroutines. CloseWait does not return until the main goroutine called
// Done and every goroutine started through Attach has finished.
//
// Usage:
//  1. The main service goroutine waits on ReceiveCloseSignal and calls
//     Done before it returns.
//  2. Helper goroutines are started via Attach and also wait on
//     ReceiveCloseSignal.
//  3. On a fatal error any goroutine may call SendCloseSignal. Calling
//     CloseWait from inside the service deadlocks.
//  4. External callers shut the service down with CloseWait.
type SafeClose struct {
	m           sync.Mutex
	wg          sync.WaitGroup
	closeSignal chan struct{}
	done        chan struct{}
	doneOnce    sync.Once
	closeErr    error
}

func NewSafeClose() *SafeClose {
	return &SafeClose{
		closeSignal: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// CloseWait signals close and blocks until Done was called and all
// attached goroutines returned. Safe to call multiple times and from
// multiple goroutines.
func (s *SafeClose) CloseWait() {
	s.SendCloseSignal(nil)
	s.wg.Wait()
	<-s.done
}

// SendCloseSignal closes the signal channel. Only the first non-nil err
// is kept.
func (s *SafeClose) SendCloseSignal(err error) {
	s.m.Lock()
	defer s.m.Unlock()

	select {
	case <-s.closeSignal:
		return
	default:
		if err != nil {
			s.closeErr = err
		}
		close(s.closeSignal)
	}
}

// Err returns the error recorded by the first SendCloseSignal call.
func (s *SafeClose) Err() error {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closeErr
}

func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.closeSignal
}

// Attach starts f in a new goroutine tracked by CloseWait. f must watch
// closeSignal and call done when it exits. If the close signal was
// already sent, f does not run.
func (s *SafeClose) Attach(f func(done func(), closeSignal <-chan struct{})) {
	s.m.Lock()
	select {
	case <-s.closeSignal:
		s.m.Unlock()
		return
	default:
		s.wg.Add(1)
	}
	s.m.Unlock()

	go func() {
		f(s.wg.Done, s.closeSignal)
	}()
}

// Done marks the main goroutine as finished. Safe to call multiple
// times.
func (s *SafeClose) Done() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
