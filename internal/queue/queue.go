package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CheckinJob is one pending check-in awaiting face identification.
type CheckinJob struct {
	ID       string    `json:"id"`
	PhotoURL string    `json:"photo_url"`
	TakenAt  time.Time `json:"taken_at"`
}

// NewCheckinJob creates a job with a fresh id.
func NewCheckinJob(photoURL string, takenAt time.Time) CheckinJob {
	return CheckinJob{ID: uuid.NewString(), PhotoURL: photoURL, TakenAt: takenAt}
}

// Queue is the abstraction over different backends.
type Queue interface {
	Publish(ctx context.Context, job CheckinJob) error
	Consume(ctx context.Context) (<-chan CheckinJob, error)
}

// InMemory is a minimal channel-backed queue for dev/testing.
type InMemory struct {
	ch chan CheckinJob
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan CheckinJob, size)}
}

// Publish enqueues a job.
func (q *InMemory) Publish(ctx context.Context, job CheckinJob) error {
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns a channel for workers.
func (q *InMemory) Consume(ctx context.Context) (<-chan CheckinJob, error) {
	out := make(chan CheckinJob)
	go func() {
		defer close(out)
		for {
			select {
			case job := <-q.ch:
				select {
				case out <- job:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue implements a Redis list-backed queue with JSON payloads.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue using LPUSH/BRPOP semantics.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "secureattend:checkins"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a job.
func (q *RedisQueue) Publish(ctx context.Context, job CheckinJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Consume streams jobs using BRPOP. Malformed payloads are skipped.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan CheckinJob, error) {
	out := make(chan CheckinJob)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) != 2 {
				continue
			}
			var job CheckinJob
			if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
				continue
			}
			select {
			case out <- job:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
