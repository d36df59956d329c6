package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Queue is a Publisher backed by a buffered channel and one worker.
// A full queue drops messages.
type Queue struct {
	provider  Provider
	directory RoleDirectory
	logger    *zap.Logger
	timeout   time.Duration

	messages chan Message
	wg       sync.WaitGroup
	once     sync.Once
}

func NewQueue(provider Provider, directory RoleDirectory, logger *zap.Logger, size int, timeout time.Duration) *Queue {
	if size <= 0 {
		size = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Queue{
		provider:  provider,
		directory: directory,
		logger:    logger.Named("notify"),
		timeout:   timeout,
		messages:  make(chan Message, size),
	}
}

// Start launches the delivery worker.
func (q *Queue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for msg := range q.messages {
			q.deliver(msg)
		}
	}()
}

// Stop closes the queue and waits until queued messages are delivered.
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.messages) })
	q.wg.Wait()
}

// Publish enqueues msg. It never blocks.
func (q *Queue) Publish(msg Message) (accepted bool) {
	defer func() {
		// publishing after Stop
		if recover() != nil {
			accepted = false
		}
	}()
	select {
	case q.messages <- msg:
		return true
	default:
		q.logger.Warn("notification queue full, dropping message",
			zap.String("channel", msg.Channel), zap.String("tenant", msg.TenantID))
		return false
	}
}

func (q *Queue) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	var err error
	if msg.Recipient != nil {
		to := *msg.Recipient
		if to.Email == "" && q.directory != nil {
			if found, lookupErr := q.directory.User(ctx, to.UserID); lookupErr == nil {
				to = found
			}
		}
		err = q.provider.Send(ctx, msg.Channel, to, msg.Notification)
	} else {
		err = q.provider.SendToRoles(ctx, msg.Channel, msg.TenantID, msg.Notification)
	}
	if err != nil {
		q.logger.Error("notification delivery failed",
			zap.String("channel", msg.Channel),
			zap.String("tenant", msg.TenantID),
			zap.Error(err))
	}
}
