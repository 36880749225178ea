package dispatch

import "sync"

// lanes runs submitted jobs one at a time per key, in submission order.
// Jobs for different keys run concurrently. A key's goroutine exits once its queue drains.
type lanes struct {
	mu     sync.Mutex
	queues map[string][]func()
	wg     sync.WaitGroup
}

func newLanes() *lanes {
	return &lanes{queues: make(map[string][]func())}
}

func (l *lanes) submit(key string, job func()) {
	l.mu.Lock()
	if pending, busy := l.queues[key]; busy {
		l.queues[key] = append(pending, job)
		l.mu.Unlock()
		return
	}
	l.queues[key] = []func(){}
	l.wg.Add(1)
	l.mu.Unlock()

	go l.drain(key, job)
}

func (l *lanes) drain(key string, job func()) {
	defer l.wg.Done()
	for {
		job()

		l.mu.Lock()
		pending := l.queues[key]
		if len(pending) == 0 {
			delete(l.queues, key)
			l.mu.Unlock()
			return
		}
		job = pending[0]
		l.queues[key] = pending[1:]
		l.mu.Unlock()
	}
}

// wait blocks until every submitted job has run.
func (l *lanes) wait() {
	l.wg.Wait()
}

func (l *lanes) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
