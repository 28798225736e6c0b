package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kilnstudio/internal/database/dbtest"
	"kilnstudio/internal/domain"
	"kilnstudio/internal/modules/availability"
	"kilnstudio/internal/modules/entitlement"
	"kilnstudio/internal/pkg/events"
	"kilnstudio/internal/repository"
)

type triggerMock struct{ mock.Mock }

func (m *triggerMock) PromoteNow(_ context.Context, tenantID int64, slot domain.Slot) {
	m.Called(tenantID, slot)
}

type env struct {
	fx     *dbtest.Fixture
	engine *Engine
	calc   *availability.Calculator
	rec    *events.Recorder
}

// Friday before the session day.
var testNow = time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)

func newEnv(t *testing.T) *env {
	fx := dbtest.NewFixture(t)
	ents := repository.NewEntitlementRepository(fx.DB)
	sessions := repository.NewSessionRepository(fx.DB)
	resources := repository.NewResourceRepository(fx.DB)
	bookings := repository.NewOpenStudioBookingRepository(fx.DB)

	calc := availability.NewCalculator(sessions, repository.NewAllocationRepository(fx.DB), resources, bookings, repository.NewWaitlistRepository(fx.DB), time.UTC)
	calc.SetClock(func() time.Time { return testNow })

	rec := &events.Recorder{}
	engine := NewEngine(Deps{
		Tx:            repository.NewTransactor(fx.DB),
		Bookings:      bookings,
		Sessions:      sessions,
		Resources:     resources,
		Suspensions:   ents,
		Funding:       entitlement.NewResolver(ents, ents),
		Capacity:      calc,
		Events:        rec,
		Location:      time.UTC,
		RetryAttempts: 3,
	})
	engine.SetClock(func() time.Time { return testNow })
	return &env{fx: fx, engine: engine, calc: calc, rec: rec}
}

func hm(h, m int) time.Time {
	return time.Date(2025, 3, 1, h, m, 0, 0, time.UTC)
}

func customer(id int64) domain.Actor {
	return domain.Actor{UserID: id, Role: domain.RoleCustomer}
}

func subReq(subID, sessionID, resourceID int64, start, end time.Time) CreateBookingRequest {
	return CreateBookingRequest{SubscriptionID: &subID, SessionID: sessionID, ResourceID: resourceID, StartTime: start, EndTime: end}
}

func TestCreateBooking_OverlapConflict(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	wheel := e.fx.Resource("Wheel A", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	m1 := e.fx.Subscription(1, domain.MembershipBenefits{MaxBlockMinutes: 120})
	m2 := e.fx.Subscription(2, domain.MembershipBenefits{MaxBlockMinutes: 120})

	b, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(m1.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 0)))
	require.NoError(t, err)
	assert.Equal(t, domain.OpenStudioReserved, b.Status)
	assert.Equal(t, "Wheel A", b.ResourceName)
	assert.Equal(t, sess.ID, b.Session.ID)
	assert.Equal(t, int64(1), b.CustomerID)

	_, err = e.engine.CreateBooking(ctx, 1, customer(2), subReq(m2.ID, sess.ID, wheel.ID, hm(9, 30), hm(10, 30)))
	assert.ErrorIs(t, err, ErrConflict)

	// Touching intervals do not overlap.
	_, err = e.engine.CreateBooking(ctx, 1, customer(2), subReq(m2.ID, sess.ID, wheel.ID, hm(10, 0), hm(11, 0)))
	assert.NoError(t, err)
}

func TestCreateBooking_ConcurrentRequestsRespectQuantity(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const quantity = 3
	tables := e.fx.Resource("Handbuilding table", quantity)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")

	subs := make([]*domain.Subscription, quantity+2)
	for i := range subs {
		subs[i] = e.fx.Subscription(int64(100+i), domain.MembershipBenefits{})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := range subs {
		wg.Add(1)
		go func(s *domain.Subscription) {
			defer wg.Done()
			_, err := e.engine.CreateBooking(ctx, 1, domain.SystemActor(), subReq(s.ID, sess.ID, tables.ID, hm(9, 0), hm(10, 0)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(subs[i])
	}
	wg.Wait()

	assert.Equal(t, quantity, ok)
	assert.Equal(t, 2, conflicts)

	free, err := e.calc.FreeCapacity(ctx, 1, sess.ID, tables.ID, hm(9, 0), hm(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, free)
}

func TestCreateBooking_SubscriptionRules(t *testing.T) {
	ctx := context.Background()

	t.Run("block too long", func(t *testing.T) {
		e := newEnv(t)
		wheel := e.fx.Resource("Wheel", 1)
		sess := e.fx.OpenSession("2025-03-01", "09:00", "12:00")
		sub := e.fx.Subscription(1, domain.MembershipBenefits{MaxBlockMinutes: 60})

		_, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 30)))
		assert.ErrorIs(t, err, ErrBlockTooLong)
	})

	t.Run("weekly limit", func(t *testing.T) {
		e := newEnv(t)
		wheel := e.fx.Resource("Wheel", 2)
		sess := e.fx.OpenSession("2025-03-01", "09:00", "12:00")
		sub := e.fx.Subscription(1, domain.MembershipBenefits{MaxBookingsPerWeek: 1})

		_, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 0)))
		require.NoError(t, err)
		_, err = e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(10, 0), hm(11, 0)))
		assert.ErrorIs(t, err, ErrWeeklyLimitReached)
	})

	t.Run("advance window", func(t *testing.T) {
		e := newEnv(t)
		wheel := e.fx.Resource("Wheel", 1)
		sess := e.fx.OpenSession("2025-03-10", "09:00", "12:00")
		sub := e.fx.Subscription(1, domain.MembershipBenefits{AdvanceBookingDays: 7})

		start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
		_, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, start, start.Add(time.Hour)))
		assert.ErrorIs(t, err, ErrOutsideBookingWindow)
	})

	t.Run("inactive subscription", func(t *testing.T) {
		e := newEnv(t)
		wheel := e.fx.Resource("Wheel", 1)
		sess := e.fx.OpenSession("2025-03-01", "09:00", "12:00")
		sub := e.fx.Subscription(1, domain.MembershipBenefits{})
		require.NoError(t, e.fx.DB.Model(sub).Update("status", domain.SubscriptionPaused).Error)

		_, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 0)))
		assert.ErrorIs(t, err, entitlement.ErrSubscriptionInactive)
	})

	t.Run("foreign subscription", func(t *testing.T) {
		e := newEnv(t)
		wheel := e.fx.Resource("Wheel", 1)
		sess := e.fx.OpenSession("2025-03-01", "09:00", "12:00")
		sub := e.fx.Subscription(1, domain.MembershipBenefits{})

		_, err := e.engine.CreateBooking(ctx, 1, customer(2), subReq(sub.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 0)))
		assert.ErrorIs(t, err, entitlement.ErrEntitlementNotOwned)
	})
}

func TestCreateBooking_CommonRules(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	sub := e.fx.Subscription(1, domain.MembershipBenefits{})
	pass := e.fx.PunchPass(1, 3, nil)

	_, err := e.engine.CreateBooking(ctx, 1, customer(1), CreateBookingRequest{
		SessionID: sess.ID, ResourceID: wheel.ID, StartTime: hm(9, 0), EndTime: hm(10, 0),
	})
	assert.ErrorIs(t, err, entitlement.ErrMissingEntitlement)

	_, err = e.engine.CreateBooking(ctx, 1, customer(1), CreateBookingRequest{
		SubscriptionID: &sub.ID, PunchPassID: &pass.ID,
		SessionID: sess.ID, ResourceID: wheel.ID, StartTime: hm(9, 0), EndTime: hm(10, 0),
	})
	assert.ErrorIs(t, err, entitlement.ErrMissingEntitlement)

	_, err = e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(10, 0), hm(10, 0)))
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(10, 0), hm(12, 0)))
	assert.ErrorIs(t, err, ErrOutsideSession)

	e.fx.Suspend(1, testNow.Add(-time.Hour), nil)
	_, err = e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 0)))
	assert.ErrorIs(t, err, ErrCustomerSuspended)
	assert.True(t, IsRuleViolation(err))
}

func TestCreateBooking_PunchPassConsumesAndRefunds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 2)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	pass := e.fx.PunchPass(1, 1, nil)

	req := CreateBookingRequest{PunchPassID: &pass.ID, SessionID: sess.ID, ResourceID: wheel.ID, StartTime: hm(9, 0), EndTime: hm(11, 0)}
	b, err := e.engine.CreateBooking(ctx, 1, customer(1), req)
	require.NoError(t, err)
	require.NotNil(t, b.PunchPassID)
	assert.Nil(t, b.SubscriptionID)

	var stored domain.PunchPass
	e.fx.Reload(&stored, pass.ID)
	assert.Equal(t, 0, stored.PunchesRemaining)

	_, err = e.engine.CreateBooking(ctx, 1, customer(1), req)
	assert.ErrorIs(t, err, entitlement.ErrNoPunchesRemaining)

	_, err = e.engine.CancelBooking(ctx, 1, b.ID, customer(1))
	require.NoError(t, err)
	e.fx.Reload(&stored, pass.ID)
	assert.Equal(t, 1, stored.PunchesRemaining)
}

func TestCreateBooking_ExpiredPunchPass(t *testing.T) {
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	expired := testNow.Add(-time.Hour)
	pass := e.fx.PunchPass(1, 5, &expired)

	_, err := e.engine.CreateBooking(context.Background(), 1, customer(1), CreateBookingRequest{
		PunchPassID: &pass.ID, SessionID: sess.ID, ResourceID: wheel.ID, StartTime: hm(9, 0), EndTime: hm(10, 0),
	})
	assert.ErrorIs(t, err, entitlement.ErrPunchPassExpired)
}

func TestCancelBooking(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	sub := e.fx.Subscription(1, domain.MembershipBenefits{})

	trigger := &triggerMock{}
	e.engine.SetWaitlistTrigger(trigger)

	b, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 0)))
	require.NoError(t, err)

	_, err = e.engine.CancelBooking(ctx, 1, b.ID, customer(2))
	assert.ErrorIs(t, err, ErrForbidden)

	trigger.On("PromoteNow", int64(1), mock.MatchedBy(func(s domain.Slot) bool {
		return s.SessionID == sess.ID && s.ResourceID == wheel.ID && s.StartTime.Equal(hm(9, 0))
	})).Once()

	cancelled, err := e.engine.CancelBooking(ctx, 1, b.ID, customer(1))
	require.NoError(t, err)
	assert.Equal(t, domain.OpenStudioCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	trigger.AssertExpectations(t)

	_, err = e.engine.CancelBooking(ctx, 1, b.ID, customer(1))
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	assert.Eventually(t, func() bool {
		types := e.rec.Types()
		return len(types) == 2
	}, time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{events.BookingCreated, events.BookingCancelled}, e.rec.Types())
}

func TestCheckIn_OnlyFromReserved(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	sub := e.fx.Subscription(1, domain.MembershipBenefits{})
	staff := domain.Actor{UserID: 50, Role: domain.RoleStaff}

	b, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 0)))
	require.NoError(t, err)

	checked, err := e.engine.CheckIn(ctx, 1, b.ID, staff)
	require.NoError(t, err)
	assert.Equal(t, domain.OpenStudioCheckedIn, checked.Status)
	assert.NotNil(t, checked.CheckedInAt)

	_, err = e.engine.CheckIn(ctx, 1, b.ID, staff)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = e.engine.CancelBooking(ctx, 1, b.ID, staff)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	_, err = e.engine.CheckIn(ctx, 1, 999, staff)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWalkInCheckIn(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	walker := e.fx.Subscription(1, domain.MembershipBenefits{MaxBlockMinutes: 90, AllowWalkIns: true})
	noWalk := e.fx.Subscription(2, domain.MembershipBenefits{MaxBlockMinutes: 90})

	now := hm(10, 0)
	e.engine.SetClock(func() time.Time { return now })

	_, err := e.engine.WalkInCheckIn(ctx, 1, customer(2), WalkInRequest{SubscriptionID: noWalk.ID, SessionID: sess.ID, ResourceID: wheel.ID})
	assert.ErrorIs(t, err, ErrWalkInNotAllowed)

	b, err := e.engine.WalkInCheckIn(ctx, 1, customer(1), WalkInRequest{SubscriptionID: walker.ID, SessionID: sess.ID, ResourceID: wheel.ID})
	require.NoError(t, err)
	assert.True(t, b.IsWalkIn)
	assert.Equal(t, domain.OpenStudioCheckedIn, b.Status)
	assert.True(t, b.StartTime.Equal(now))
	// now+90m runs past the session, so the block is clipped.
	assert.True(t, b.EndTime.Equal(hm(11, 0)))

	e.engine.SetClock(func() time.Time { return hm(11, 30) })
	_, err = e.engine.WalkInCheckIn(ctx, 1, customer(1), WalkInRequest{SubscriptionID: walker.ID, SessionID: sess.ID, ResourceID: wheel.ID})
	assert.ErrorIs(t, err, ErrOutsideSession)
}

func TestCompleteFinished(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 2)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	sub := e.fx.Subscription(1, domain.MembershipBenefits{})
	staff := domain.Actor{UserID: 50, Role: domain.RoleStaff}

	early, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(9, 0), hm(10, 0)))
	require.NoError(t, err)
	late, err := e.engine.CreateBooking(ctx, 1, customer(1), subReq(sub.ID, sess.ID, wheel.ID, hm(10, 0), hm(11, 0)))
	require.NoError(t, err)
	_, err = e.engine.CheckIn(ctx, 1, early.ID, staff)
	require.NoError(t, err)
	_, err = e.engine.CheckIn(ctx, 1, late.ID, staff)
	require.NoError(t, err)

	n, err := e.engine.CompleteFinished(ctx, 1, hm(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var stored domain.OpenStudioBooking
	e.fx.Reload(&stored, early.ID)
	assert.Equal(t, domain.OpenStudioCompleted, stored.Status)
	e.fx.Reload(&stored, late.ID)
	assert.Equal(t, domain.OpenStudioCheckedIn, stored.Status)
}
