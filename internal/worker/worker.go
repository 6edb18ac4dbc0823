package worker

import (
	"context"
	"fmt"

	"legalease/internal/logging"

	"go.uber.org/zap"
)

// Job is a unit of work. Jobs sharing a Key run one at a time, in submission order.
// Abort, when set, is called instead of Run for a job dropped before it started.
type Job struct {
	Key   string
	Name  string
	Run   func(ctx context.Context)
	Abort func(err error)

	stop bool
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool, id int) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case job := <-w.jobChannel:
				if job.stop {
					w.pool.retire(w.jobChannel)
					debugLog("worker retired", zap.Int("worker", w.id))
					return
				}
				w.run(ctx, job)
				if w.pool.onDone != nil {
					w.pool.onDone(job)
				}
				w.pool.Release(w.jobChannel)
			case <-ctx.Done():
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

func (w *Worker) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			logging.L().Error("job panicked",
				zap.Int("worker", w.id),
				zap.String("job", job.Name),
				zap.String("key", job.Key),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if job.Run != nil {
		job.Run(ctx)
	}
}
