// Package dispatch decouples subscription state transitions from email
// delivery. Transitions commit first; notifications are enqueued into a
// Redis-backed queue and sent by a background worker. A failed send is
// recorded on the task for operational visibility and never propagated back
// to the request that caused it.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	redisc "github.com/mailblog/core/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Kind identifies the email a notification produces.
type Kind string

const (
	KindVerify     Kind = "verify"
	KindWelcome    Kind = "welcome"
	KindGoodbye    Kind = "goodbye"
	KindNewsletter Kind = "newsletter"
)

// Notification is a single email the core has decided to send. Token carries
// the link token for verify (verify token) and welcome/newsletter (standing
// unsubscribe token); it is empty for goodbye.
type Notification struct {
	Email string `json:"email"`
	Kind  Kind   `json:"kind"`
	Token string `json:"token,omitempty"`

	// Newsletter-only fields.
	Title     string `json:"title,omitempty"`
	Text      string `json:"text,omitempty"`
	DetailURL string `json:"detail_url,omitempty"`
}

// TaskStatus represents the delivery state of a queued notification.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskSending TaskStatus = "sending"
	TaskSent    TaskStatus = "sent"
	TaskFailed  TaskStatus = "failed"
)

// Task is a queued notification stored in Redis.
type Task struct {
	ID           string       `json:"id"`
	Notification Notification `json:"notification"`
	Status       TaskStatus   `json:"status"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

const (
	keyPrefix = "mb:dispatch:task:"
	keyQueue  = "mb:dispatch:queue"
	keyIndex  = "mb:dispatch:index" // sorted set: score=created_at, member=task_id
	taskTTL   = 7 * 24 * time.Hour
)

// Queue enqueues notifications into Redis.
type Queue struct {
	rc  *redisc.Client
	log *zap.Logger
}

func NewQueue(rc *redisc.Client, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{rc: rc, log: logger.Named("DispatchQueue")}
}

func (q *Queue) taskKey(id string) string { return keyPrefix + id }

// Dispatch records and enqueues a notification. The returned error is for the
// caller's log only; callers must not fail their request on it.
func (q *Queue) Dispatch(ctx context.Context, n Notification) error {
	task := &Task{
		ID:           uuid.New().String(),
		Notification: n,
		Status:       TaskPending,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	data, err := json.Marshal(task)
	if err != nil {
		return err
	}

	pipe := q.rc.Raw().TxPipeline()
	pipe.Set(ctx, q.taskKey(task.ID), data, taskTTL)
	pipe.ZAdd(ctx, keyIndex, redis.Z{
		Score:  float64(task.CreatedAt.UnixMilli()),
		Member: task.ID,
	})
	pipe.LPush(ctx, keyQueue, task.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Warn("enqueue failed",
			zap.String("kind", string(n.Kind)),
			zap.String("email", n.Email),
			zap.Error(err))
		return err
	}
	return nil
}

// GetByID retrieves a task by its ID.
func (q *Queue) GetByID(ctx context.Context, id string) (*Task, error) {
	data, err := q.rc.Raw().Get(ctx, q.taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var task Task
	return &task, json.Unmarshal(data, &task)
}

func (q *Queue) updateStatus(ctx context.Context, task *Task, status TaskStatus, errMsg string) error {
	task.Status = status
	task.Error = errMsg
	task.UpdatedAt = time.Now()
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return q.rc.Raw().Set(ctx, q.taskKey(task.ID), data, taskTTL).Err()
}

// Counts returns the number of tasks per delivery status.
func (q *Queue) Counts(ctx context.Context) (map[TaskStatus]int64, error) {
	ids, err := q.rc.Raw().ZRange(ctx, keyIndex, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	counts := map[TaskStatus]int64{}
	for _, id := range ids {
		task, err := q.GetByID(ctx, id)
		if err != nil || task == nil {
			continue
		}
		counts[task.Status]++
	}
	return counts, nil
}

// Purge removes terminal (sent/failed) tasks created before the cutoff.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	ids, err := q.rc.Raw().ZRange(ctx, keyIndex, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	var removed int64
	pipe := q.rc.Raw().TxPipeline()
	for _, id := range ids {
		task, err := q.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if task == nil {
			// Task record expired; drop the dangling index entry.
			pipe.ZRem(ctx, keyIndex, id)
			continue
		}
		if task.Status != TaskSent && task.Status != TaskFailed {
			continue
		}
		if task.CreatedAt.UnixMilli() >= cutoff {
			continue
		}
		pipe.Del(ctx, q.taskKey(id))
		pipe.ZRem(ctx, keyIndex, id)
		removed++
	}
	_, err = pipe.Exec(ctx)
	return removed, err
}
