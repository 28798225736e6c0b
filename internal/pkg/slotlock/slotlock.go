// Package slotlock serialises writers that compete for the same slot.
package slotlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy means another holder owns the key. Callers retry.
var ErrBusy = errors.New("slot is locked")

type Locker interface {
	// Acquire takes the lock for key. The returned func releases it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

func BookingKey(tenantID, sessionID, resourceID int64) string {
	return fmt.Sprintf("tenant:%d:session:%d:resource:%d", tenantID, sessionID, resourceID)
}

func WaitlistKey(tenantID, sessionID, resourceID int64) string {
	return fmt.Sprintf("tenant:%d:waitlist:%d:%d", tenantID, sessionID, resourceID)
}

// ReservationKey covers every class session on a date, since overlapping
// sessions share resources and always share a date.
func ReservationKey(tenantID int64, date string) string {
	return fmt.Sprintf("tenant:%d:reservations:%s", tenantID, date)
}

// Local is an in-process Locker. Acquire blocks until the key is free or
// ctx is done; ttl is ignored.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) sem(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	ch := l.sem(key)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Redis is a Locker shared by every API replica. It never blocks: a held key
// yields ErrBusy.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", fullKey, err)
	}
	if !ok {
		return nil, ErrBusy
	}

	return func() {
		// The request context may already be cancelled; releasing must still happen.
		_ = releaseScript.Run(context.WithoutCancel(ctx), r.client, []string{fullKey}, token).Err()
	}, nil
}
