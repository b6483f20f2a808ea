package utils

import (
	"sync"

	"go.uber.org/zap"
)

// WorkerPool is a bounded goroutine pool. Submissions queue instead of
// being rejected; a full queue blocks the submitter.
type WorkerPool struct {
	jobs      chan func()
	workerNum int
	log       *zap.Logger
	wg        sync.WaitGroup
	quit      chan struct{}
	stopOnce  sync.Once
}

func NewWorkerPool(workerNum, queueSize int, log *zap.Logger) *WorkerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	return &WorkerPool{
		jobs:      make(chan func(), queueSize),
		workerNum: workerNum,
		log:       log,
		quit:      make(chan struct{}),
	}
}

// Start launches the workers. A panicking job is logged and does not
// take its worker down.
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for {
				select {
				case job := <-p.jobs:
					func() {
						defer func() {
							if r := recover(); r != nil {
								p.log.Error("worker recovered from panic",
									zap.Int("worker_id", workerID),
									zap.Any("panic", r))
							}
						}()
						job()
					}()
				case <-p.quit:
					return
				}
			}
		}(i)
	}
}

// Submit queues a job, blocking while the queue is full.
func (p *WorkerPool) Submit(job func()) {
	select {
	case p.jobs <- job:
	case <-p.quit:
	}
}

// Stop shuts the pool down and waits for the workers to exit.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.wg.Wait()
}
