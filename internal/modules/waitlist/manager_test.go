package waitlist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilnstudio/internal/database/dbtest"
	"kilnstudio/internal/domain"
	"kilnstudio/internal/modules/availability"
	"kilnstudio/internal/modules/booking"
	"kilnstudio/internal/modules/entitlement"
	"kilnstudio/internal/pkg/slotlock"
	"kilnstudio/internal/repository"
)

var testNow = time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)

type env struct {
	fx       *dbtest.Fixture
	engine   *booking.Engine
	manager  *Manager
	promoter *Promoter
}

func newEnv(t *testing.T) *env {
	fx := dbtest.NewFixture(t)
	tx := repository.NewTransactor(fx.DB)
	ents := repository.NewEntitlementRepository(fx.DB)
	sessions := repository.NewSessionRepository(fx.DB)
	resources := repository.NewResourceRepository(fx.DB)
	bookings := repository.NewOpenStudioBookingRepository(fx.DB)
	entries := repository.NewWaitlistRepository(fx.DB)

	calc := availability.NewCalculator(sessions, repository.NewAllocationRepository(fx.DB), resources, bookings, entries, time.UTC)
	calc.SetClock(func() time.Time { return testNow })

	engine := booking.NewEngine(booking.Deps{
		Tx:            tx,
		Bookings:      bookings,
		Sessions:      sessions,
		Resources:     resources,
		Suspensions:   ents,
		Funding:       entitlement.NewResolver(ents, ents),
		Capacity:      calc,
		RetryAttempts: 3,
	})
	engine.SetClock(func() time.Time { return testNow })

	manager := NewManager(Deps{
		Tx:            tx,
		Entries:       entries,
		Subscriptions: ents,
		Capacity:      calc,
		Bookings:      engine,
		RetryAttempts: 3,
	})
	manager.SetClock(func() time.Time { return testNow })

	promoter := NewPromoter(manager, 1, 16)
	engine.SetWaitlistTrigger(promoter)
	calc.SetPromotionQueue(promoter)

	return &env{fx: fx, engine: engine, manager: manager, promoter: promoter}
}

func hm(h, m int) time.Time {
	return time.Date(2025, 3, 1, h, m, 0, 0, time.UTC)
}

func member(id int64) domain.Actor {
	return domain.Actor{UserID: id, Role: domain.RoleCustomer}
}

func (e *env) book(t *testing.T, sub *domain.Subscription, sessionID, resourceID int64, start, end time.Time) *booking.BookingDetails {
	t.Helper()
	b, err := e.engine.CreateBooking(context.Background(), 1, member(sub.CustomerID), booking.CreateBookingRequest{
		SubscriptionID: &sub.ID, SessionID: sessionID, ResourceID: resourceID, StartTime: start, EndTime: end,
	})
	require.NoError(t, err)
	return b
}

func (e *env) join(sub *domain.Subscription, sessionID, resourceID int64, start, end time.Time) (*domain.OpenStudioWaitlist, error) {
	return e.manager.Join(context.Background(), 1, member(sub.CustomerID), JoinRequest{
		SubscriptionID: sub.ID, SessionID: sessionID, ResourceID: resourceID, StartTime: start, EndTime: end,
	})
}

func TestCancelPromotesWaitlist_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel A", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	m1 := e.fx.Subscription(1, domain.MembershipBenefits{MaxBlockMinutes: 120})
	m2 := e.fx.Subscription(2, domain.MembershipBenefits{MaxBlockMinutes: 120})

	first := e.book(t, m1, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	assert.Equal(t, domain.OpenStudioReserved, first.Status)

	_, err := e.engine.CreateBooking(ctx, 1, member(2), booking.CreateBookingRequest{
		SubscriptionID: &m2.ID, SessionID: sess.ID, ResourceID: wheel.ID, StartTime: hm(9, 30), EndTime: hm(10, 30),
	})
	require.ErrorIs(t, err, booking.ErrConflict)

	entry, err := e.join(m2, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Position)

	cancelled, err := e.engine.CancelBooking(ctx, 1, first.ID, member(1))
	require.NoError(t, err)
	assert.Equal(t, domain.OpenStudioCancelled, cancelled.Status)

	var stored domain.OpenStudioWaitlist
	e.fx.Reload(&stored, entry.ID)
	require.NotNil(t, stored.FulfilledAt)
	assert.Nil(t, stored.CancelledAt)
	require.NotNil(t, stored.BookingID)

	var promoted domain.OpenStudioBooking
	e.fx.Reload(&promoted, *stored.BookingID)
	assert.Equal(t, int64(2), promoted.CustomerID)
	assert.Equal(t, domain.OpenStudioReserved, promoted.Status)
	assert.True(t, promoted.StartTime.Equal(hm(9, 0)))
	assert.True(t, promoted.EndTime.Equal(hm(10, 0)))
	assert.Empty(t, e.promoter.Failures())
}

func TestProcess_FIFOSkipsInvalidEntitlement(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	holder := e.fx.Subscription(10, domain.MembershipBenefits{})
	a := e.fx.Subscription(11, domain.MembershipBenefits{})
	b := e.fx.Subscription(12, domain.MembershipBenefits{})
	c := e.fx.Subscription(13, domain.MembershipBenefits{})

	held := e.book(t, holder, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))

	var entries []*domain.OpenStudioWaitlist
	for _, s := range []*domain.Subscription{a, b, c} {
		entry, err := e.join(s, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	assert.Equal(t, []int{1, 2, 3}, []int{entries[0].Position, entries[1].Position, entries[2].Position})

	_, err := e.manager.Leave(ctx, 1, entries[0].ID, member(11))
	require.NoError(t, err)
	require.NoError(t, e.fx.DB.Model(b).Update("status", domain.SubscriptionPastDue).Error)

	_, err = e.engine.CancelBooking(ctx, 1, held.ID, member(10))
	require.NoError(t, err)

	var got domain.OpenStudioWaitlist
	e.fx.Reload(&got, entries[1].ID)
	assert.NotNil(t, got.CancelledAt, "entry with lapsed membership is dropped")
	assert.Nil(t, got.FulfilledAt)

	e.fx.Reload(&got, entries[2].ID)
	assert.NotNil(t, got.FulfilledAt)
	assert.NotNil(t, got.BookingID)
}

func TestProcess_KeepsEntriesThatDoNotFit(t *testing.T) {
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	holder := e.fx.Subscription(10, domain.MembershipBenefits{})
	waiting := e.fx.Subscription(11, domain.MembershipBenefits{})

	e.book(t, holder, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	entry, err := e.join(waiting, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	require.NoError(t, err)

	res, err := e.manager.Process(context.Background(), 1, entry.Slot())
	require.NoError(t, err)
	assert.True(t, res.NoCapacity)
	assert.Nil(t, res.Fulfilled)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, entry.ID, res.Skipped[0].EntryID)

	var got domain.OpenStudioWaitlist
	e.fx.Reload(&got, entry.ID)
	assert.True(t, got.IsActive())
}

func TestProcess_TriesNextEntryWhenOneDoesNotFit(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	early := e.fx.Subscription(10, domain.MembershipBenefits{})
	late := e.fx.Subscription(11, domain.MembershipBenefits{})
	long := e.fx.Subscription(12, domain.MembershipBenefits{})
	short := e.fx.Subscription(13, domain.MembershipBenefits{})

	first := e.book(t, early, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	e.book(t, late, sess.ID, wheel.ID, hm(10, 0), hm(11, 0))

	wide, err := e.join(long, sess.ID, wheel.ID, hm(9, 0), hm(11, 0))
	require.NoError(t, err)
	narrow, err := e.join(short, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, []int{wide.Position, narrow.Position})

	_, err = e.engine.CancelBooking(ctx, 1, first.ID, member(10))
	require.NoError(t, err)

	var got domain.OpenStudioWaitlist
	e.fx.Reload(&got, wide.ID)
	assert.True(t, got.IsActive(), "an entry that does not fit keeps its place")

	e.fx.Reload(&got, narrow.ID)
	require.NotNil(t, got.FulfilledAt)
	require.NotNil(t, got.BookingID)

	var promoted domain.OpenStudioBooking
	e.fx.Reload(&promoted, *got.BookingID)
	assert.Equal(t, int64(13), promoted.CustomerID)
	assert.True(t, promoted.EndTime.Equal(hm(10, 0)))
	assert.Empty(t, e.promoter.Failures())
}

// leavingBooker cancels the entry just before the booking is written, as a
// member leaving from another replica would.
type leavingBooker struct {
	Booker
	entries EntryStore
	entryID int64
}

func (b leavingBooker) CreateBookingThen(ctx context.Context, tenantID int64, actor domain.Actor, req booking.CreateBookingRequest, then booking.AfterInsert) (*booking.BookingDetails, error) {
	if err := b.entries.MarkCancelled(ctx, tenantID, b.entryID, testNow); err != nil {
		return nil, err
	}
	return b.Booker.CreateBookingThen(ctx, tenantID, actor, req, then)
}

func TestProcess_BookingRollsBackWhenEntryIsGone(t *testing.T) {
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	holder := e.fx.Subscription(10, domain.MembershipBenefits{})
	waiting := e.fx.Subscription(12, domain.MembershipBenefits{})

	held := e.book(t, holder, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	entry, err := e.join(waiting, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	require.NoError(t, err)
	require.NoError(t, e.fx.DB.Model(&domain.OpenStudioBooking{}).Where("id = ?", held.ID).
		Update("status", domain.OpenStudioCancelled).Error)

	e.manager.bookings = leavingBooker{Booker: e.engine, entries: e.manager.entries, entryID: entry.ID}
	res, err := e.manager.Process(context.Background(), 1, entry.Slot())
	require.NoError(t, err)
	assert.Nil(t, res.Fulfilled)
	require.Len(t, res.Skipped, 1)

	var count int64
	require.NoError(t, e.fx.DB.Model(&domain.OpenStudioBooking{}).
		Where("customer_id = ? AND status = ?", 12, domain.OpenStudioReserved).Count(&count).Error)
	assert.Zero(t, count, "no booking survives for a member who left")

	var got domain.OpenStudioWaitlist
	e.fx.Reload(&got, entry.ID)
	assert.NotNil(t, got.CancelledAt)
	assert.Nil(t, got.FulfilledAt)
}

func TestLeave_WaitsForPromotion(t *testing.T) {
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	holder := e.fx.Subscription(10, domain.MembershipBenefits{})
	waiting := e.fx.Subscription(11, domain.MembershipBenefits{})

	e.book(t, holder, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	entry, err := e.join(waiting, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	require.NoError(t, err)

	release, err := e.manager.locker.Acquire(context.Background(), slotlock.WaitlistKey(1, sess.ID, wheel.ID), time.Second)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := e.manager.Leave(context.Background(), 1, entry.ID, member(11))
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("leave finished while promotion held the slot")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	require.NoError(t, <-done)

	var got domain.OpenStudioWaitlist
	e.fx.Reload(&got, entry.ID)
	assert.NotNil(t, got.CancelledAt)
}

func TestJoin_Rules(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	wheel := e.fx.Resource("Wheel", 1)
	sess := e.fx.OpenSession("2025-03-01", "09:00", "11:00")
	holder := e.fx.Subscription(10, domain.MembershipBenefits{})
	a := e.fx.Subscription(11, domain.MembershipBenefits{})
	d := e.fx.Subscription(12, domain.MembershipBenefits{})

	_, err := e.join(a, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	assert.ErrorIs(t, err, ErrSlotAvailable)

	e.book(t, holder, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))

	first, err := e.join(a, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	require.NoError(t, err)
	_, err = e.join(a, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	assert.ErrorIs(t, err, ErrAlreadyWaiting)

	_, err = e.manager.Join(ctx, 1, member(99), JoinRequest{SubscriptionID: d.ID, SessionID: sess.ID, ResourceID: wheel.ID, StartTime: hm(9, 0), EndTime: hm(10, 0)})
	assert.ErrorIs(t, err, entitlement.ErrEntitlementNotOwned)

	_, err = e.manager.Leave(ctx, 1, first.ID, member(12))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.manager.Leave(ctx, 1, first.ID, member(11))
	require.NoError(t, err)
	_, err = e.manager.Leave(ctx, 1, first.ID, member(11))
	assert.ErrorIs(t, err, ErrNotActive)

	// Positions are never reused within a slot.
	next, err := e.join(d, sess.ID, wheel.ID, hm(9, 0), hm(10, 0))
	require.NoError(t, err)
	assert.Equal(t, 2, next.Position)
}
