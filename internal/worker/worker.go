package worker

import (
	"context"
	"log/slog"
)

// poolWorker executes jobs handed to it by the pool until told to stop.
type poolWorker struct {
	id         int
	pool       *jobChannelPool
	jobChannel chan Job
}

func newPoolWorker(id int, pool *jobChannelPool) *poolWorker {
	return &poolWorker{id: id, pool: pool, jobChannel: make(chan Job)}
}

func (w *poolWorker) Start() {
	go func() {
		w.pool.Release(w.jobChannel)
		for job := range w.jobChannel {
			if job.Type == Stop {
				debugLog("[pool] worker-%d retired", w.id)
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

func (w *poolWorker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker job panicked", "job", job.Name, "visitor_id", job.VisitorID, "panic", r)
		}
	}()
	if job.Run != nil {
		job.Run(context.Background())
	}
}
