package telegram

import "sync"

// chatQueues runs jobs one at a time per chat. Different chats run concurrently.
type chatQueues struct {
	mu      sync.Mutex
	pending map[int64][]func()
	wg      sync.WaitGroup
}

func newChatQueues() *chatQueues {
	return &chatQueues{pending: make(map[int64][]func())}
}

// Enqueue appends job to the chat's queue, starting a worker if none is running
func (q *chatQueues) Enqueue(chatID int64, job func()) {
	q.mu.Lock()
	jobs, running := q.pending[chatID]
	q.pending[chatID] = append(jobs, job)
	if !running {
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if !running {
		go q.drain(chatID)
	}
}

// Wait blocks until every queued job has finished
func (q *chatQueues) Wait() {
	q.wg.Wait()
}

func (q *chatQueues) drain(chatID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[chatID]
		if len(jobs) == 0 {
			delete(q.pending, chatID)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[chatID] = jobs[1:]
		q.mu.Unlock()

		job()
	}
}
