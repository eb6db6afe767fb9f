// Package queue delivers error notifications in the background so that
// handlers never wait on a slow webhook.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrQueueFull = errors.New("queue is full")

type Message struct {
	ID         string
	CreatedAt  time.Time
	RetryCount int
	Err        error
}

type Processor interface {
	Process(ctx context.Context, m Message) error
}

// ProcessorFunc adapts a function to a Processor
type ProcessorFunc func(ctx context.Context, m Message) error

func (f ProcessorFunc) Process(ctx context.Context, m Message) error {
	return f(ctx, m)
}

type Service struct {
	name       string
	queue      chan Message
	quit       chan struct{}
	closeOnce  sync.Once
	maxRetries int
	retryDelay time.Duration

	logs *zap.SugaredLogger
}

func NewService(name string, maxRetries, bufferSize int, logger *zap.SugaredLogger) *Service {
	return &Service{
		name:       name,
		queue:      make(chan Message, bufferSize),
		quit:       make(chan struct{}),
		maxRetries: maxRetries,
		retryDelay: time.Second,
		logs:       logger,
	}
}

// WithRetryDelay sets the base delay before a failed message is retried,
// multiplied by the retry count
func (s *Service) WithRetryDelay(d time.Duration) *Service {
	s.retryDelay = d
	return s
}

// Enqueue never blocks, a full buffer drops the message
func (s *Service) Enqueue(m Message) error {
	select {
	case s.queue <- m:
		return nil
	default:
		s.logs.Warnw("queue is full, dropping message", "queue", s.name, "id", m.ID)
		return ErrQueueFull
	}
}

// NotifyError queues err for delivery. The request context is not kept,
// delivery happens after the request is gone.
func (s *Service) NotifyError(ctx context.Context, err error) error {
	return s.Enqueue(Message{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		Err:       err,
	})
}

func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
}

// Start processes messages until Close is called or ctx is done
func (s *Service) Start(ctx context.Context, p Processor) error {
	for {
		select {
		case m := <-s.queue:
			err := p.Process(ctx, m)
			if err == nil {
				continue
			}

			if m.RetryCount >= s.maxRetries {
				s.logs.Errorw("message dropped after retries", "queue", s.name, "id", m.ID, "retries", m.RetryCount, "error", err)
				continue
			}

			m.RetryCount++
			time.AfterFunc(time.Duration(m.RetryCount)*s.retryDelay, func() {
				s.Enqueue(m)
			})
		case <-s.quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
