package bindings

import (
	"image"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/t2bot/image-loader/metrics"
)

// Target is the display surface an image is loaded into. Both methods are only ever called from
// the dispatcher the loader was built with, while the registry is locked: they must not call back
// into the loader before returning.
type Target interface {
	SetImage(img image.Image)
	SetError(err error)
}

// Task is the part of a load task the registry needs.
type Task interface {
	Cancel() bool
	Finished() bool
}

// Releaser gives back whatever keeps a displayed image alive (a memory cache handle).
type Releaser interface {
	Release()
}

// Handle is issued once per target and identifies it to the registry. The registry never keeps a
// pointer to the handle, so dropping every reference to it lets the binding be collected.
type Handle struct {
	id     uint64
	target Target
}

func (h *Handle) Id() uint64 {
	return h.id
}

func (h *Handle) Target() Target {
	return h.target
}

type binding struct {
	current   Task
	displayed Releaser
}

// Registry tracks which task currently owns each target.
type Registry struct {
	mu       sync.Mutex
	nextId   uint64
	bindings map[uint64]*binding
	log      *logrus.Entry
}

func NewRegistry(log *logrus.Entry) *Registry {
	if log == nil {
		log = logrus.WithField("component", "bindings")
	}
	return &Registry{
		bindings: make(map[uint64]*binding),
		log:      log,
	}
}

// NewHandle registers a target. If the handle is garbage collected without Release being called,
// its binding is torn down as if it had been.
func (r *Registry) NewHandle(target Target) *Handle {
	r.mu.Lock()
	r.nextId++
	h := &Handle{id: r.nextId, target: target}
	r.mu.Unlock()

	runtime.AddCleanup(h, func(id uint64) {
		if r.forget(id) {
			r.log.Debugf("Target %d was collected without being released", id)
		}
	}, h.id)
	return h
}

// Bind makes task the current task for h, cancelling the previous one unless it already finished.
// The superseded task (if any) is returned.
func (r *Registry) Bind(h *Handle, task Task) Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[h.id]
	if !ok {
		b = &binding{}
		r.bindings[h.id] = b
		metrics.BoundTargets.Set(float64(len(r.bindings)))
	}
	prev := b.current
	if prev != nil && prev != task && !prev.Finished() {
		prev.Cancel()
	}
	b.current = task
	return prev
}

// Unbind cancels and forgets the current task for h. Whatever the target displays stays.
func (r *Registry) Unbind(h *Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bindings[h.id]
	if !ok || b.current == nil {
		return false
	}
	if !b.current.Finished() {
		b.current.Cancel()
	}
	b.current = nil
	return true
}

// Show delivers to the target if task is still current for h. deliver runs under the registry lock
// so no Bind can slip in between the check and the delivery. On success the previously displayed
// image is released and displayed (which may be nil) takes its place. On failure the caller keeps
// ownership of displayed.
func (r *Registry) Show(h *Handle, task Task, displayed Releaser, deliver func(t Target)) bool {
	r.mu.Lock()
	b, ok := r.bindings[h.id]
	if !ok || b.current != task {
		r.mu.Unlock()
		return false
	}
	if deliver != nil {
		deliver(h.target)
	}
	prev := b.displayed
	b.displayed = displayed
	r.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	return true
}

func (r *Registry) IsCurrent(h *Handle, task Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[h.id]
	return ok && b.current == task
}

// Current returns the current task for h, if any.
func (r *Registry) Current(h *Handle) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[h.id]; ok {
		return b.current
	}
	return nil
}

// Release tears down the target: its task is cancelled and its displayed image released.
func (r *Registry) Release(h *Handle) {
	r.forget(h.id)
}

func (r *Registry) forget(id uint64) bool {
	r.mu.Lock()
	b, ok := r.bindings[id]
	if ok {
		delete(r.bindings, id)
		metrics.BoundTargets.Set(float64(len(r.bindings)))
		if b.current != nil && !b.current.Finished() {
			b.current.Cancel()
		}
	}
	r.mu.Unlock()

	if ok && b.displayed != nil {
		b.displayed.Release()
	}
	return ok
}

// Len is the number of targets with a binding.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}
