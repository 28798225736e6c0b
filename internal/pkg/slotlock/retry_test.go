package slotlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errTransient = errors.New("transient")

func TestDo_RetriesAcceptedErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), NewLocal(), "k", DefaultPolicy(3, func(err error) bool { return errors.Is(err, errTransient) }), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), NewLocal(), "k", DefaultPolicy(5, nil), func(context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

type busyLocker struct{ calls int }

func (b *busyLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	b.calls++
	return nil, ErrBusy
}

func TestDo_GivesUpWhenAlwaysBusy(t *testing.T) {
	l := &busyLocker{}
	err := Do(context.Background(), l, "k", DefaultPolicy(3, nil), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 3, l.calls)
}
