package scheduler

import "container/heap"

// jobHeap orders queued jobs by priority (highest first) and then by arrival.
type jobHeap[T any] []*job[T]

func (h jobHeap[T]) Len() int {
	return len(h)
}

func (h jobHeap[T]) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap[T]) Push(x any) {
	j := x.(*job[T])
	j.index = len(*h)
	*h = append(*h, j)
}

func (h *jobHeap[T]) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	j.index = -1
	*h = old[:n-1]
	return j
}

var _ heap.Interface = (*jobHeap[int])(nil)
