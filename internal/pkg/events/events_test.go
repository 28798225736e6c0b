package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, ev Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func TestNew(t *testing.T) {
	ev := New(BookingCreated, 1, 2, map[string]any{"booking_id": 3})
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, BookingCreated, ev.Type)
	assert.Equal(t, int64(1), ev.TenantID)
	assert.Equal(t, int64(2), ev.SessionID)
	assert.False(t, ev.OccurredAt.IsZero())
	assert.NotEqual(t, ev.ID, New(BookingCreated, 1, 2, nil).ID)
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	ok := &Recorder{}
	failing := new(mockPublisher)
	failing.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	err := Multi{ok, failing, nil}.Publish(context.Background(), New(WaitlistJoined, 1, 1, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, []string{WaitlistJoined}, ok.Types())
	failing.AssertExpectations(t)
}

func TestEmit_SurvivesCancelledContext(t *testing.T) {
	rec := &Recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	Emit(ctx, rec, New(ReservationCreated, 1, 1, nil))

	require.Eventually(t, func() bool { return len(rec.Events()) == 1 }, time.Second, 5*time.Millisecond)
}
