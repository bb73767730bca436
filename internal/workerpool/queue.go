package workerpool

import "sync"

// resultQueue is an unbounded FIFO of finished results. Workers push without
// ever blocking on the consumer; the frame loop pops without blocking.
type resultQueue struct {
	mu    sync.Mutex
	items []Result
	head  int
}

func (q *resultQueue) push(r Result) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
}

func (q *resultQueue) pop() (Result, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.items) {
		return Result{}, false
	}
	r := q.items[q.head]
	q.items[q.head] = Result{}
	q.head++
	q.compact()
	return r, true
}

// popN removes up to max results in FIFO order
func (q *resultQueue) popN(max int) []Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items) - q.head
	if max < n {
		n = max
	}
	if n <= 0 {
		return nil
	}
	out := make([]Result, n)
	copy(out, q.items[q.head:q.head+n])
	clear(q.items[q.head : q.head+n])
	q.head += n
	q.compact()
	return out
}

func (q *resultQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// compact drops the consumed prefix once it dominates the backing array
func (q *resultQueue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head > 64 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
}
