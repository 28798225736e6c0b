package waitlist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"kilnstudio/internal/domain"
)

type processorMock struct{ mock.Mock }

func (m *processorMock) Process(_ context.Context, tenantID int64, slot domain.Slot) (*ProcessResult, error) {
	args := m.Called(tenantID, slot)
	res, _ := args.Get(0).(*ProcessResult)
	return res, args.Error(1)
}

func slotAt(sessionID int64, hour int) domain.Slot {
	return domain.Slot{SessionID: sessionID, ResourceID: 1, StartTime: time.Date(2025, 3, 1, hour, 0, 0, 0, time.UTC)}
}

func TestPromoter_DeduplicatesPendingSlots(t *testing.T) {
	proc := &processorMock{}
	slot := slotAt(1, 9)
	proc.On("Process", int64(1), slot).Return(&ProcessResult{}, nil).Once()

	p := NewPromoter(proc, 1, 4)
	assert.True(t, p.Enqueue(1, slot))
	assert.True(t, p.Enqueue(1, slot))

	p.Start(context.Background())
	p.Stop()

	proc.AssertExpectations(t)
	assert.Empty(t, p.Failures())
}

func TestPromoter_FullQueueIsRecorded(t *testing.T) {
	proc := &processorMock{}
	p := NewPromoter(proc, 1, 1)

	assert.True(t, p.Enqueue(1, slotAt(1, 9)))
	assert.False(t, p.Enqueue(1, slotAt(2, 9)))

	failures := p.Failures()
	if assert.Len(t, failures, 1) {
		assert.Equal(t, int64(2), failures[0].Slot.SessionID)
	}

	p.Stop()
	assert.False(t, p.Enqueue(1, slotAt(3, 9)), "closed promoter rejects work")
}

func TestPromoter_PromoteNowRecordsFailures(t *testing.T) {
	proc := &processorMock{}
	slot := slotAt(1, 10)
	proc.On("Process", int64(7), slot).Return(nil, errors.New("db down")).Once()

	p := NewPromoter(proc, 1, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.PromoteNow(ctx, 7, slot)

	proc.AssertExpectations(t)
	failures := p.Failures()
	if assert.Len(t, failures, 1) {
		assert.Equal(t, "db down", failures[0].Error)
		assert.Equal(t, int64(7), failures[0].TenantID)
	}
}

func TestPromoter_KeepsLatestFailures(t *testing.T) {
	proc := &processorMock{}
	proc.On("Process", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	p := NewPromoter(proc, 1, 1)
	for i := 0; i < maxFailures+5; i++ {
		p.PromoteNow(context.Background(), int64(i), slotAt(1, 9))
	}

	failures := p.Failures()
	assert.Len(t, failures, maxFailures)
	assert.Equal(t, int64(5), failures[0].TenantID)
}
