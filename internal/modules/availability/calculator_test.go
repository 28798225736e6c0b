package availability

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilnstudio/internal/database/dbtest"
	"kilnstudio/internal/domain"
	"kilnstudio/internal/repository"
)

type recordingQueue struct {
	mu    sync.Mutex
	slots []domain.Slot
}

func (q *recordingQueue) Enqueue(_ int64, slot domain.Slot) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.slots = append(q.slots, slot)
	return true
}

type env struct {
	fx   *dbtest.Fixture
	calc *Calculator
}

func newEnv(t *testing.T, now time.Time) *env {
	fx := dbtest.NewFixture(t)
	calc := NewCalculator(
		repository.NewSessionRepository(fx.DB),
		repository.NewAllocationRepository(fx.DB),
		repository.NewResourceRepository(fx.DB),
		repository.NewOpenStudioBookingRepository(fx.DB),
		repository.NewWaitlistRepository(fx.DB),
		time.UTC,
	)
	calc.SetClock(func() time.Time { return now })
	return &env{fx: fx, calc: calc}
}

func (e *env) book(sessionID, resourceID, customerID int64, start, end time.Time) {
	e.fx.Create(&domain.OpenStudioBooking{
		TenantID: e.fx.TenantID, CustomerID: customerID, SessionID: sessionID, ResourceID: resourceID,
		StartTime: start, EndTime: end, Status: domain.OpenStudioReserved, ReservedAt: start.Add(-24 * time.Hour),
	})
}

func at(h, m int) time.Time {
	return time.Date(2024, 1, 15, h, m, 0, 0, time.UTC)
}

func TestGetSessionAvailability_FullCapacityHoldBeforeCutoff(t *testing.T) {
	// Two days before the class: the 24h release cutoff has not passed.
	e := newEnv(t, at(9, 0).Add(-48*time.Hour))
	wheels := e.fx.Resource("Wheel", 6)
	class := e.fx.Class("Wheel basics", false, false)
	e.fx.Require(class.ID, wheels.ID, 1)

	open := e.fx.OpenSession("2024-01-15", "09:00", "12:00")
	cs := e.fx.ClassSession(class.ID, "2024-01-15", "10:00", "12:00", 4, func(s *domain.Session) {
		s.ReserveFullCapacity = true
		s.ResourceReleaseHours = 24
	})
	e.fx.Create(&domain.SessionResourceAllocation{TenantID: 1, SessionID: cs.ID, ResourceID: wheels.ID, RegistrationID: 1, Quantity: 1})
	e.book(open.ID, wheels.ID, 7, at(9, 0), at(10, 0))

	got, err := e.calc.GetSessionAvailability(context.Background(), 1, open.ID)
	require.NoError(t, err)
	require.Len(t, got.Resources, 1)

	ra := got.Resources[0]
	assert.Equal(t, 6, ra.TotalQuantity)
	assert.Equal(t, 4, ra.HeldByClasses)
	assert.Equal(t, 1, ra.CurrentlyBooked)
	assert.Equal(t, 1, ra.Available)
	require.Len(t, ra.HeldSlots, 1)
	assert.Equal(t, HoldClass, ra.HeldSlots[0].Source)
	assert.Equal(t, cs.ID, *ra.HeldSlots[0].SessionID)
	assert.Equal(t, at(10, 0), ra.HeldSlots[0].StartTime.UTC())
}

func TestGetSessionAvailability_ActualUsageAfterCutoff(t *testing.T) {
	e := newEnv(t, at(8, 0))
	wheels := e.fx.Resource("Wheel", 6)
	class := e.fx.Class("Wheel basics", false, false)
	e.fx.Require(class.ID, wheels.ID, 1)

	open := e.fx.OpenSession("2024-01-15", "09:00", "12:00")
	cs := e.fx.ClassSession(class.ID, "2024-01-15", "10:00", "12:00", 4, func(s *domain.Session) {
		s.ReserveFullCapacity = true
		s.ResourceReleaseHours = 24
	})
	e.fx.Create(&domain.SessionResourceAllocation{TenantID: 1, SessionID: cs.ID, ResourceID: wheels.ID, RegistrationID: 1, Quantity: 1})

	got, err := e.calc.GetSessionAvailability(context.Background(), 1, open.ID)
	require.NoError(t, err)
	ra := got.Resources[0]
	assert.Equal(t, 1, ra.HeldByClasses)
	assert.Equal(t, 5, ra.Available)
}

func TestGetSessionAvailability_IgnoresCancelledAndDisjointSessions(t *testing.T) {
	e := newEnv(t, at(8, 0).Add(-72*time.Hour))
	wheels := e.fx.Resource("Wheel", 6)
	class := e.fx.Class("Wheel basics", false, false)
	e.fx.Require(class.ID, wheels.ID, 1)

	open := e.fx.OpenSession("2024-01-15", "09:00", "12:00")
	e.fx.ClassSession(class.ID, "2024-01-15", "10:00", "12:00", 4, func(s *domain.Session) {
		s.ReserveFullCapacity = true
		s.IsCancelled = true
	})
	e.fx.ClassSession(class.ID, "2024-01-15", "12:00", "14:00", 4, func(s *domain.Session) {
		s.ReserveFullCapacity = true
	})

	got, err := e.calc.GetSessionAvailability(context.Background(), 1, open.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Resources[0].HeldByClasses)
	assert.Equal(t, 6, got.Resources[0].Available)
}

func TestGetSessionAvailability_SyntheticHeldSlotsAndWaitlist(t *testing.T) {
	e := newEnv(t, at(7, 0))
	kiln := e.fx.Resource("Kiln", 1)
	wheel := e.fx.Resource("Wheel", 2)
	open := e.fx.OpenSession("2024-01-15", "09:00", "12:00")

	e.book(open.ID, kiln.ID, 7, at(9, 0), at(10, 0))
	e.fx.Create(&domain.OpenStudioWaitlist{
		TenantID: 1, CustomerID: 8, SubscriptionID: 80, SessionID: open.ID, ResourceID: kiln.ID,
		StartTime: at(9, 0), EndTime: at(10, 0), Position: 1, JoinedAt: at(6, 0),
	})
	e.fx.Create(&domain.OpenStudioWaitlist{
		TenantID: 1, CustomerID: 9, SubscriptionID: 90, SessionID: open.ID, ResourceID: wheel.ID,
		StartTime: at(11, 0), EndTime: at(12, 0), Position: 1, JoinedAt: at(6, 0),
	})

	queue := &recordingQueue{}
	e.calc.SetPromotionQueue(queue)

	got, err := e.calc.GetSessionAvailability(context.Background(), 1, open.ID)
	require.NoError(t, err)
	require.Len(t, got.Resources, 2)

	byName := map[string]ResourceAvailability{}
	for _, ra := range got.Resources {
		byName[ra.ResourceName] = ra
	}

	k := byName["Kiln"]
	assert.Equal(t, 0, k.Available)
	require.Len(t, k.HeldSlots, 1)
	assert.Equal(t, HoldBookings, k.HeldSlots[0].Source)
	assert.Equal(t, at(9, 0), k.HeldSlots[0].StartTime.UTC())
	assert.Equal(t, at(10, 0), k.HeldSlots[0].EndTime.UTC())
	assert.Equal(t, 1, k.WaitlistCounts[at(9, 0).Format(time.RFC3339)])

	w := byName["Wheel"]
	assert.Equal(t, 2, w.Available)
	assert.Empty(t, w.HeldSlots)
	assert.Equal(t, 1, w.WaitlistCounts[at(11, 0).Format(time.RFC3339)])

	require.Len(t, queue.slots, 1)
	assert.Equal(t, wheel.ID, queue.slots[0].ResourceID)
	assert.True(t, queue.slots[0].StartTime.Equal(at(11, 0)))
}

func TestFreeCapacity(t *testing.T) {
	e := newEnv(t, at(7, 0))
	wheel := e.fx.Resource("Wheel", 2)
	class := e.fx.Class("Throwing", false, false)
	e.fx.Require(class.ID, wheel.ID, 1)
	open := e.fx.OpenSession("2024-01-15", "09:00", "12:00")
	cs := e.fx.ClassSession(class.ID, "2024-01-15", "11:00", "12:00", 1)
	e.fx.Create(&domain.SessionResourceAllocation{TenantID: 1, SessionID: cs.ID, ResourceID: wheel.ID, RegistrationID: 1, Quantity: 1})
	e.book(open.ID, wheel.ID, 7, at(9, 0), at(10, 0))

	ctx := context.Background()
	free, err := e.calc.FreeCapacity(ctx, 1, open.ID, wheel.ID, at(9, 0), at(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, free)

	free, err = e.calc.FreeCapacity(ctx, 1, open.ID, wheel.ID, at(10, 0), at(11, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, free)

	free, err = e.calc.FreeCapacity(ctx, 1, open.ID, wheel.ID, at(9, 30), at(11, 30))
	require.NoError(t, err)
	assert.Equal(t, 0, free)

	_, err = e.calc.FreeCapacity(ctx, 1, 999, wheel.ID, at(9, 0), at(10, 0))
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = e.calc.FreeCapacity(ctx, 1, open.ID, 999, at(9, 0), at(10, 0))
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestGetSessionAvailability_NotFound(t *testing.T) {
	e := newEnv(t, at(7, 0))
	_, err := e.calc.GetSessionAvailability(context.Background(), 1, 42)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
