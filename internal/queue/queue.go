// Package queue serializes work per conversation while allowing
// different conversations to proceed in parallel.
//
// Each conversation gets a FIFO lane: a second message arriving while
// the first is still being processed waits its turn. Across lanes, a
// semaphore bounds how many tasks run at once.
package queue

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
)

// Task is a unit of work bound to one conversation.
type Task func(ctx context.Context)

// Queue dispatches tasks with per-conversation ordering.
type Queue struct {
	mu     sync.Mutex
	lanes  map[string]*list.List // conversation id -> pending tasks
	active map[string]bool       // lanes with a running drain goroutine
	closed bool

	sem    chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a queue running at most workers tasks concurrently.
func New(workers int, logger *slog.Logger) *Queue {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		lanes:  make(map[string]*list.List),
		active: make(map[string]bool),
		sem:    make(chan struct{}, workers),
		logger: logger,
	}
}

// Submit enqueues a task for the conversation. Tasks for the same
// conversation run in submission order, one at a time; tasks for
// different conversations may run concurrently. Submit never blocks.
// Tasks submitted after Close are dropped.
func (q *Queue) Submit(conversationID string, task Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.logger.Warn("task dropped, queue closed", "conversation", conversationID)
		return
	}

	lane, ok := q.lanes[conversationID]
	if !ok {
		lane = list.New()
		q.lanes[conversationID] = lane
	}
	lane.PushBack(task)

	if !q.active[conversationID] {
		q.active[conversationID] = true
		q.wg.Add(1)
		go q.drain(conversationID)
	}
}

// drain runs the conversation's lane until it is empty, then retires.
// Lanes always drain fully: Close only stops new submissions, so every
// task accepted by Submit eventually runs.
func (q *Queue) drain(conversationID string) {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		lane := q.lanes[conversationID]
		front := lane.Front()
		if front == nil {
			delete(q.lanes, conversationID)
			delete(q.active, conversationID)
			q.mu.Unlock()
			return
		}
		lane.Remove(front)
		q.mu.Unlock()

		task := front.Value.(Task)

		q.sem <- struct{}{}
		q.runOne(conversationID, task)
		<-q.sem
	}
}

// runOne executes a single task, containing panics so one bad turn
// cannot kill the lane. A started turn always runs to completion, so
// tasks get a context that shutdown does not cancel.
func (q *Queue) runOne(conversationID string, task Task) {
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("task panicked", "conversation", conversationID, "panic", p)
		}
	}()
	task(context.Background())
}

// Pending returns the number of queued (not yet started) tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, lane := range q.lanes {
		n += lane.Len()
	}
	return n
}

// Close stops accepting new tasks and waits for every already-accepted
// task to finish. In-flight turns are never canceled.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
