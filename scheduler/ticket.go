package scheduler

import "github.com/t2bot/image-loader/cache_key"

// Ticket is one caller's stake in a job.
type Ticket[T any] struct {
	s            *Scheduler[T]
	l            *listener[T]
	key          cache_key.Key
	deduplicated bool
}

// Cancel withdraws the request. Its OnDone will not be called. Returns false if the request had
// already finished.
func (t *Ticket[T]) Cancel() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.s.detachLocked(t.l)
}

func (t *Ticket[T]) Key() cache_key.Key {
	return t.key
}

// Deduplicated reports whether the request joined a job started by an earlier request.
func (t *Ticket[T]) Deduplicated() bool {
	return t.deduplicated
}
