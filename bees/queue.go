package bees

import "container/heap"

// Queue holds ready jobs. Pop returns the job with the least sequence number.
type Queue[T any] struct {
	h seqHeap[T]
}

func (q *Queue[T]) Len() int { return len(q.h) }

func (q *Queue[T]) Push(seq uint64, job T) {
	heap.Push(&q.h, queued[T]{seq: seq, job: job})
}

func (q *Queue[T]) Pop() (job T, ok bool) {
	if len(q.h) == 0 {
		return job, false
	}
	e := heap.Pop(&q.h).(queued[T])
	return e.job, true
}

type queued[T any] struct {
	seq uint64
	job T
}

type seqHeap[T any] []queued[T]

func (sh seqHeap[T]) Len() int { return len(sh) }

func (sh seqHeap[T]) Less(i, j int) bool { return sh[i].seq < sh[j].seq }

func (sh seqHeap[T]) Swap(i, j int) { sh[i], sh[j] = sh[j], sh[i] }

func (sh *seqHeap[T]) Push(x any) { *sh = append(*sh, x.(queued[T])) }

func (sh *seqHeap[T]) Pop() any {
	lm1 := len(*sh) - 1
	res := (*sh)[lm1]
	*sh = (*sh)[:lm1]
	return res
}
