package render

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	// TaskRender is the asynq task type of render jobs.
	TaskRender = "manim:render"
	// QueueName is the asynq queue render jobs go through.
	QueueName = "manim"
)

// Dispatcher hands a job to whatever renders it and returns the job state
// at hand-off.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) (*Result, error)
}

// InlineDispatcher renders in this process. With Background set, rendering
// continues after Dispatch returns the queued state.
type InlineDispatcher struct {
	Service    *Service
	Background bool
}

func (d *InlineDispatcher) Dispatch(ctx context.Context, job Job) (*Result, error) {
	if !d.Background {
		return d.Service.Render(ctx, job)
	}
	res := d.Service.Queued(ctx, job)
	go func() {
		_, _ = d.Service.Render(context.WithoutCancel(ctx), job)
	}()
	return res, nil
}

// Queue sends jobs to asynq workers through Redis.
type Queue struct {
	client   *asynq.Client
	service  *Service
	Name     string
	MaxRetry int
	Timeout  time.Duration
}

func NewQueue(redisURL string, service *Service) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return &Queue{
		client:   asynq.NewClient(opt),
		service:  service,
		Name:     QueueName,
		MaxRetry: 2,
		Timeout:  10 * time.Minute,
	}, nil
}

func (q *Queue) Dispatch(ctx context.Context, job Job) (*Result, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Wrap(err, "encode job")
	}
	// a worker may finish the job before EnqueueContext returns
	res := q.service.Queued(ctx, job)
	task := asynq.NewTask(TaskRender, payload)
	info, err := q.client.EnqueueContext(ctx, task,
		asynq.TaskID(job.ID),
		asynq.Queue(q.Name),
		asynq.MaxRetry(q.MaxRetry),
		asynq.Timeout(q.Timeout),
	)
	if err != nil {
		return nil, errors.Wrap(err, "enqueue render")
	}
	log.Info().Str("job", job.ID).Str("queue", info.Queue).Msg("[QUEUE] Render enqueued")
	return res, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// Worker consumes render tasks.
type Worker struct {
	server  *asynq.Server
	service *Service
}

func NewWorker(redisURL string, concurrency int, service *Service) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	server := asynq.NewServer(opt, workerConfig(concurrency))
	return &Worker{server: server, service: service}, nil
}

func workerConfig(concurrency int) asynq.Config {
	return asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(1<<uint(n)) * 10 * time.Second
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("type", task.Type()).Msg("[QUEUE] Task failed")
		}),
	}
}

// Run processes tasks until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskRender, w.handleRender)

	log.Info().Msg("[QUEUE] Starting render worker")
	if err := w.server.Start(mux); err != nil {
		return errors.Wrap(err, "start worker")
	}
	<-ctx.Done()
	log.Info().Msg("[QUEUE] Shutting down render worker")
	w.server.Shutdown()
	return nil
}

func (w *Worker) handleRender(ctx context.Context, task *asynq.Task) error {
	var job Job
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return errors.Wrap(asynq.SkipRetry, "bad render payload: "+err.Error())
	}
	_, err := w.service.Render(ctx, job)
	if errors.Is(err, ErrRenderFailed) || errors.Is(err, ErrVideoNotFound) {
		// the same script fails the same way on retry
		return errors.Wrap(asynq.SkipRetry, err.Error())
	}
	return err
}
