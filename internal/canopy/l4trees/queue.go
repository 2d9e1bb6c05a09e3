package l4trees

import "math"

// bucketQueue is a hierarchical priority queue over cell indices. Buckets
// have fixed height width and are FIFO; bucket 0 holds the highest cells.
// The current bucket only advances, so a push into an already drained
// bucket lands in the current one instead.
type bucketQueue struct {
	buckets [][]int
	heads   []int
	current int
	size    int
	top     float64
	width   float64
}

func newBucketQueue(low, high, width float64) *bucketQueue {
	n := int(math.Ceil((high - low) / width))
	if n < 1 {
		n = 1
	}
	return &bucketQueue{
		buckets: make([][]int, n),
		heads:   make([]int, n),
		top:     high,
		width:   width,
	}
}

func (q *bucketQueue) bucketOf(h float64) int {
	b := int(math.Floor((q.top - h) / q.width))
	if b < 0 {
		return 0
	}
	if b >= len(q.buckets) {
		return len(q.buckets) - 1
	}
	return b
}

func (q *bucketQueue) push(cell int, h float64) {
	b := q.bucketOf(h)
	if b < q.current {
		b = q.current
	}
	q.buckets[b] = append(q.buckets[b], cell)
	q.size++
}

func (q *bucketQueue) pop() (int, bool) {
	if q.size == 0 {
		return 0, false
	}
	for q.heads[q.current] == len(q.buckets[q.current]) {
		q.buckets[q.current] = nil
		q.heads[q.current] = 0
		q.current++
	}
	cell := q.buckets[q.current][q.heads[q.current]]
	q.heads[q.current]++
	q.size--
	return cell, true
}

func (q *bucketQueue) len() int { return q.size }
