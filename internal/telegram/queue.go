package telegram

import "sync"

// chatQueue runs tasks one at a time per chat, in submission order. Tasks
// of different chats run in parallel.
type chatQueue struct {
	mu      sync.Mutex
	pending map[int64][]func()
	wg      sync.WaitGroup
}

func newChatQueue() *chatQueue {
	return &chatQueue{pending: make(map[int64][]func())}
}

// Submit schedules fn after every task already queued for chatID.
func (q *chatQueue) Submit(chatID int64, fn func()) {
	q.mu.Lock()
	tasks, running := q.pending[chatID]
	q.pending[chatID] = append(tasks, fn)
	if !running {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if !running {
		go q.drain(chatID)
	}
}

func (q *chatQueue) drain(chatID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		tasks := q.pending[chatID]
		if len(tasks) == 0 {
			delete(q.pending, chatID)
			q.mu.Unlock()
			return
		}
		fn := tasks[0]
		q.pending[chatID] = tasks[1:]
		q.mu.Unlock()

		fn()
	}
}

// Wait blocks until every submitted task has finished.
func (q *chatQueue) Wait() {
	q.wg.Wait()
}
