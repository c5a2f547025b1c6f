package render

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Finished reports whether no further events follow s.
func (s Status) Finished() bool {
	return s == StatusDone || s == StatusFailed
}

// Event is a status change of a render job.
type Event struct {
	JobID   string    `json:"job_id"`
	Status  Status    `json:"status"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Events fans render status changes out to subscribers in this process.
// Publish waits until every subscriber took the event, which keeps events of
// a job in order.
type Events struct {
	pubsub *gochannel.GoChannel
}

func NewEvents() *Events {
	return &Events{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16, BlockPublishUntilSubscriberAck: true}, newWatermillLogger(log.Logger)),
	}
}

func topic(jobID string) string {
	return "render." + jobID
}

func (e *Events) Publish(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return e.pubsub.Publish(topic(ev.JobID), message.NewMessage(watermill.NewUUID(), payload))
}

// Subscribe streams the events of one job until ctx is done or a finished
// status arrives.
func (e *Events) Subscribe(ctx context.Context, jobID string) (<-chan Event, error) {
	ctx, cancel := context.WithCancel(ctx)
	messages, err := e.pubsub.Subscribe(ctx, topic(jobID))
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "subscribe")
	}
	out := make(chan Event)
	go func() {
		defer close(out)
		defer cancel()
		for msg := range messages {
			var ev Event
			err := json.Unmarshal(msg.Payload, &ev)
			msg.Ack()
			if err != nil {
				log.Warn().Err(err).Msg("[EVENTS] Dropping undecodable event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Status.Finished() {
				return
			}
		}
	}()
	return out, nil
}

func (e *Events) Close() error {
	return e.pubsub.Close()
}

type watermillLogger struct {
	logger zerolog.Logger
}

func newWatermillLogger(logger zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger}
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error().Fields(map[string]interface{}(fields)).Err(err).Msg(msg)
}

// Info maps to debug; watermill is chatty.
func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}
