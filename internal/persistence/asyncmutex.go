package persistence

// AsyncMutex serializes a stream of operations one at a time via a single
// goroutine draining a channel of closures, exactly the teacher's chained-
// promise durability posture in recovery/state.Store — except here the
// "promise" is a Go channel-backed future. Run never blocks the caller
// longer than it takes to enqueue; the result arrives on the returned
// channel once every previously queued operation has completed.
type AsyncMutex struct {
	jobs chan func()
	done chan struct{}
}

// NewAsyncMutex starts the draining goroutine and returns a ready mutex.
func NewAsyncMutex() *AsyncMutex {
	m := &AsyncMutex{
		jobs: make(chan func(), 256),
		done: make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *AsyncMutex) loop() {
	for job := range m.jobs {
		job()
	}
	close(m.done)
}

// Run enqueues fn and returns a channel that receives fn's error once fn has
// run, after every operation enqueued before it. Per spec.md §4.8, a failure
// inside fn is the caller's responsibility to log; the mutex itself never
// stops draining because one operation failed.
func (m *AsyncMutex) Run(fn func() error) <-chan error {
	resultCh := make(chan error, 1)
	m.jobs <- func() {
		resultCh <- fn()
	}
	return resultCh
}

// Close stops accepting new work and waits for the queue to drain. Per
// spec.md §9, in-flight operations are allowed to complete; there is no
// flush barrier beyond that.
func (m *AsyncMutex) Close() {
	close(m.jobs)
	<-m.done
}
