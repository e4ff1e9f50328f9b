package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"imgsearch/internal/port"
)

type MessageKind int

const (
	MessageProgress MessageKind = iota
	MessageResult
	MessageError
)

func (k MessageKind) String() string {
	switch k {
	case MessageProgress:
		return "progress"
	case MessageResult:
		return "result"
	case MessageError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is what a job reports back to the foreground. Every job ends with
// exactly one MessageResult or MessageError.
type Message struct {
	JobID    string
	Kind     MessageKind
	Progress float64
	Result   any
	Err      error
}

// Job is a unit of background work. report may be called any number of
// times with a fraction in [0,1].
type Job func(ctx context.Context, report ProgressFunc) (any, error)

type queuedJob struct {
	id  string
	run Job
}

// Worker runs jobs one at a time, in submission order, on a single
// goroutine, so index mutations never overlap. Callers drain Messages until
// it is closed.
type Worker struct {
	jobs     chan queuedJob
	messages chan Message

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func NewWorker(buffer int) *Worker {
	if buffer <= 0 {
		buffer = 16
	}
	return &Worker{
		jobs:     make(chan queuedJob, buffer),
		messages: make(chan Message, buffer),
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. ctx is handed to every job.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		defer close(w.messages)

		for job := range w.jobs {
			w.run(ctx, job)
		}
	}()
}

func (w *Worker) run(ctx context.Context, job queuedJob) {
	report := func(fraction float64) {
		// progress is advisory; drop it rather than stall the job
		select {
		case w.messages <- Message{JobID: job.id, Kind: MessageProgress, Progress: fraction}:
		default:
		}
	}

	result, err := safeRun(ctx, job.run, report)
	if err != nil {
		w.messages <- Message{JobID: job.id, Kind: MessageError, Err: err}
		return
	}
	w.messages <- Message{JobID: job.id, Kind: MessageResult, Result: result}
}

func safeRun(ctx context.Context, job Job, report ProgressFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job(ctx, report)
}

// Submit queues job and returns its ID.
func (w *Worker) Submit(job Job) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", port.ErrWorkerClosed
	}

	id := uuid.NewString()
	w.jobs <- queuedJob{id: id, run: job}
	return id, nil
}

func (w *Worker) Messages() <-chan Message {
	return w.messages
}

// Close stops accepting jobs. Queued jobs still run; Messages is closed
// after the last one finishes.
func (w *Worker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.jobs)
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() {
	<-w.done
}

// RunSync submits job, drains its messages and returns its outcome.
// onProgress receives the job's progress reports.
func (w *Worker) RunSync(job Job, onProgress ProgressFunc) (any, error) {
	id, err := w.Submit(job)
	if err != nil {
		return nil, err
	}
	for msg := range w.messages {
		if msg.JobID != id {
			continue
		}
		switch msg.Kind {
		case MessageProgress:
			report(onProgress, msg.Progress)
		case MessageResult:
			return msg.Result, nil
		case MessageError:
			return nil, msg.Err
		}
	}
	return nil, port.ErrWorkerClosed
}
