package vecindex

import "container/heap"

type neighbor struct {
	ordinal  int
	distance float32
}

// closer orders by distance, then by ordinal so ties resolve to the earlier insertion.
func closer(a, b neighbor) bool {
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	return a.ordinal < b.ordinal
}

// neighborQueue is a max-heap on (distance, ordinal): the root is the worst
// of the k candidates kept so far.
type neighborQueue []neighbor

func (q neighborQueue) Len() int           { return len(q) }
func (q neighborQueue) Less(i, j int) bool { return closer(q[j], q[i]) }
func (q neighborQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *neighborQueue) Push(x any) {
	*q = append(*q, x.(neighbor))
}

func (q *neighborQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// offer keeps at most k candidates.
func (q *neighborQueue) offer(item neighbor, k int) {
	if q.Len() < k {
		heap.Push(q, item)
		return
	}
	if closer(item, (*q)[0]) {
		(*q)[0] = item
		heap.Fix(q, 0)
	}
}

// drain empties the queue nearest first.
func (q *neighborQueue) drain() []neighbor {
	out := make([]neighbor, q.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(q).(neighbor)
	}
	return out
}
