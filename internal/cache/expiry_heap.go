package cache

import (
	"container/heap"
	"time"
)

// expiryNode is one pending TTL deadline. generation lets tick() detect a
// stale heap entry left behind by a key that was re-set or deleted since
// the node was pushed, without needing a decrease-key operation.
type expiryNode struct {
	deadline   time.Time
	key        string
	generation uint64
}

type expiryHeap []expiryNode

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x interface{}) { *h = append(*h, x.(expiryNode)) }
func (h *expiryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (h *expiryHeap) push(n expiryNode) { heap.Push(h, n) }
func (h *expiryHeap) peek() (expiryNode, bool) {
	if h.Len() == 0 {
		return expiryNode{}, false
	}
	return (*h)[0], true
}
func (h *expiryHeap) pop() expiryNode { return heap.Pop(h).(expiryNode) }
