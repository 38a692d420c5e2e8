package policy

import "sync"

// refCounter counts attachments and runs onZero exactly once, when the count
// drops back to zero.
type refCounter struct {
	mu     sync.Mutex
	n      int
	done   bool
	onZero func()
}

func newRefCounter(onZero func()) *refCounter {
	return &refCounter{onZero: onZero}
}

// Retain adds one reference. It fails once the counter has been released.
func (r *refCounter) Retain() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return 0, ErrPolicyReleased
	}
	r.n++
	return r.n, nil
}

// Release drops one reference and returns the remaining count. onZero runs
// on the calling goroutine, outside the counter lock.
func (r *refCounter) Release() int {
	r.mu.Lock()
	if r.done || r.n == 0 {
		r.mu.Unlock()
		return 0
	}
	r.n--
	n := r.n
	var fire func()
	if n == 0 {
		r.done = true
		fire = r.onZero
	}
	r.mu.Unlock()

	if fire != nil {
		fire()
	}
	return n
}

func (r *refCounter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func (r *refCounter) Released() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}
