package render

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Job is one request to render a script.
type Job struct {
	ID      string  `json:"id"`
	SceneID string  `json:"scene_id,omitempty"`
	Command Command `json:"command"`
	Script  string  `json:"script"`
}

// Result is the state of a job.
type Result struct {
	JobID    string     `json:"job_id"`
	Status   Status     `json:"status"`
	Command  string     `json:"command"`
	Video    string     `json:"video,omitempty"`
	Log      string     `json:"log,omitempty"`
	Error    string     `json:"error,omitempty"`
	Info     *VideoInfo `json:"info,omitempty"`
	Cached   bool       `json:"cached,omitempty"`
	Started  time.Time  `json:"started,omitempty"`
	Finished time.Time  `json:"finished,omitempty"`
}

// Recorder persists job state. It is called for every status change.
type Recorder interface {
	RecordRender(ctx context.Context, res *Result) error
}

type ServiceOption func(*Service)

func WithCache(c Cache) ServiceOption { return func(s *Service) { s.cache = c } }

func WithEvents(e *Events) ServiceOption { return func(s *Service) { s.events = e } }

func WithRecorder(r Recorder) ServiceOption { return func(s *Service) { s.recorder = r } }

func WithProber(p Prober) ServiceOption { return func(s *Service) { s.prober = p } }

// Service renders jobs, at most concurrency at a time.
type Service struct {
	renderer *Renderer
	sem      *semaphore.Weighted
	cache    Cache
	events   *Events
	recorder Recorder
	prober   Prober
}

func NewService(renderer *Renderer, concurrency int, options ...ServiceOption) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	s := &Service{renderer: renderer, sem: semaphore.NewWeighted(int64(concurrency))}
	for _, o := range options {
		o(s)
	}
	return s
}

// Render runs job and returns its final state. A failed render returns the
// result together with an error wrapping ErrRenderFailed or ErrVideoNotFound.
func (s *Service) Render(ctx context.Context, job Job) (*Result, error) {
	cmd := job.Command.withDefaults()
	res := &Result{JobID: job.ID, Status: StatusRunning, Command: cmd.String(), Started: time.Now()}
	key := CacheKey(cmd, job.Script)

	if cached := s.lookup(ctx, key); cached != nil {
		res.Status = StatusDone
		res.Video = cached.Video
		res.Info = cached.Info
		res.Log = cached.Log
		res.Cached = true
		res.Finished = time.Now()
		s.update(ctx, res, "reused a previous render")
		return res, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.fail(ctx, res, err)
	}
	defer s.sem.Release(1)

	s.update(ctx, res, "rendering")
	log.Info().Str("job", job.ID).Msg("[RENDER] Rendering scene")
	out, err := s.renderer.Render(ctx, job.ID, cmd, job.Script)
	if out != nil {
		res.Log = out.Log
	}
	if err != nil {
		return s.fail(ctx, res, err)
	}
	res.Video = out.Video
	if s.prober != nil {
		info, err := s.prober.Probe(ctx, out.Video)
		if err != nil {
			log.Warn().Err(err).Str("job", job.ID).Msg("[RENDER] Could not probe video")
		}
		res.Info = info
	}
	res.Status = StatusDone
	res.Finished = time.Now()

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, res); err != nil {
			log.Warn().Err(err).Str("job", job.ID).Msg("[RENDER] Could not cache render")
		}
	}
	log.Info().Str("job", job.ID).Dur("took", out.Took).Msg("[RENDER] Video ready")
	s.update(ctx, res, "video ready")
	return res, nil
}

// Queued records and announces a job that will be rendered later.
func (s *Service) Queued(ctx context.Context, job Job) *Result {
	res := &Result{JobID: job.ID, Status: StatusQueued, Command: job.Command.withDefaults().String()}
	s.update(ctx, res, "waiting for a worker")
	return res
}

func (s *Service) lookup(ctx context.Context, key string) *Result {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("[RENDER] Cache lookup failed")
		return nil
	}
	if cached == nil || cached.Video == "" {
		return nil
	}
	if _, err := os.Stat(cached.Video); err != nil {
		return nil
	}
	return cached
}

func (s *Service) fail(ctx context.Context, res *Result, err error) (*Result, error) {
	res.Status = StatusFailed
	res.Error = err.Error()
	res.Finished = time.Now()
	log.Warn().Err(err).Str("job", res.JobID).Msg("[RENDER] Render failed")
	// record even when the job context is gone
	s.update(context.WithoutCancel(ctx), res, res.Error)
	return res, err
}

func (s *Service) update(ctx context.Context, res *Result, msg string) {
	if s.recorder != nil {
		if err := s.recorder.RecordRender(ctx, res); err != nil {
			log.Error().Err(err).Str("job", res.JobID).Msg("[RENDER] Could not record render state")
		}
	}
	if s.events != nil {
		ev := Event{JobID: res.JobID, Status: res.Status, Message: msg}
		if err := s.events.Publish(ev); err != nil {
			log.Warn().Err(errors.Wrap(err, "publish")).Str("job", res.JobID).Msg("[RENDER] Could not publish event")
		}
	}
}
