package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/modules/entitlement"
	"kilnstudio/internal/pkg/events"
	"kilnstudio/internal/pkg/slotlock"
	"kilnstudio/internal/pkg/timeslot"
	"kilnstudio/internal/pkg/tracing"
	"kilnstudio/internal/repository"
)

type Deps struct {
	Tx            Transactor
	Bookings      BookingStore
	Sessions      SessionReader
	Resources     ResourceReader
	Suspensions   SuspensionChecker
	Funding       FundingResolver
	Capacity      CapacityChecker
	Locker        slotlock.Locker
	Events        events.Publisher
	Location      *time.Location
	RetryAttempts uint
}

// Engine creates and moves open-studio bookings through their lifecycle.
type Engine struct {
	tx          Transactor
	bookings    BookingStore
	sessions    SessionReader
	resources   ResourceReader
	suspensions SuspensionChecker
	funding     FundingResolver
	capacity    CapacityChecker
	locker      slotlock.Locker
	events      events.Publisher
	waitlist    WaitlistTrigger
	loc         *time.Location
	attempts    uint
	now         func() time.Time
}

func NewEngine(d Deps) *Engine {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Locker == nil {
		d.Locker = slotlock.NewLocal()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Engine{
		tx:          d.Tx,
		bookings:    d.Bookings,
		sessions:    d.Sessions,
		resources:   d.Resources,
		suspensions: d.Suspensions,
		funding:     d.Funding,
		capacity:    d.Capacity,
		locker:      d.Locker,
		events:      d.Events,
		loc:         d.Location,
		attempts:    d.RetryAttempts,
		now:         time.Now,
	}
}

// SetWaitlistTrigger wires promotion after cancellations. The waitlist
// manager depends on the engine, so it is attached after construction.
func (e *Engine) SetWaitlistTrigger(t WaitlistTrigger) {
	e.waitlist = t
}

func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

type openSession struct {
	session  *domain.Session
	resource *domain.Resource
	window   timeslot.Range
}

func (e *Engine) loadTarget(ctx context.Context, tenantID, sessionID, resourceID int64) (*openSession, error) {
	sess, err := e.sessions.GetByID(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.IsCancelled {
		return nil, ErrSessionCancelled
	}
	if !sess.IsOpenStudio() {
		return nil, ErrNotOpenStudio
	}
	start, end, err := sess.Bounds(e.loc)
	if err != nil {
		return nil, err
	}

	res, err := e.resources.GetByID(ctx, tenantID, resourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, fmt.Errorf("failed to load resource: %w", err)
	}
	if !res.IsActive {
		return nil, ErrResourceInactive
	}
	return &openSession{session: sess, resource: res, window: timeslot.New(start, end)}, nil
}

// fund resolves the entitlement and checks it may pay for a booking now.
func (e *Engine) fund(ctx context.Context, tenantID int64, actor domain.Actor, subscriptionID, punchPassID *int64, now time.Time) (entitlement.Funding, error) {
	f, err := e.funding.Resolve(ctx, tenantID, subscriptionID, punchPassID)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(f.CustomerID()) {
		return nil, entitlement.ErrEntitlementNotOwned
	}
	if err := f.IsEligible(now); err != nil {
		return nil, err
	}

	susp, err := e.suspensions.ActiveSuspension(ctx, tenantID, f.CustomerID(), now)
	if err != nil {
		return nil, fmt.Errorf("failed to check suspension: %w", err)
	}
	if susp != nil {
		return nil, ErrCustomerSuspended
	}
	return f, nil
}

func (e *Engine) checkWeeklyLimit(ctx context.Context, tenantID int64, f entitlement.Funding, now time.Time) error {
	limit := f.Limits().MaxBookingsPerWeek
	if f.Kind() != entitlement.KindSubscription || limit <= 0 {
		return nil
	}
	since := timeslot.StartOfWeek(now.In(e.loc))
	n, err := e.bookings.CountForSubscriptionSince(ctx, tenantID, f.ID(), since)
	if err != nil {
		return fmt.Errorf("failed to count weekly bookings: %w", err)
	}
	if n >= limit {
		return ErrWeeklyLimitReached
	}
	return nil
}

// CreateBooking reserves one unit of a resource for [StartTime, EndTime).
// The capacity check and the insert run under the slot lock in one
// transaction; a punch pass pays with one punch inside the same transaction.
func (e *Engine) CreateBooking(ctx context.Context, tenantID int64, actor domain.Actor, req CreateBookingRequest) (*BookingDetails, error) {
	return e.CreateBookingThen(ctx, tenantID, actor, req, nil)
}

// CreateBookingThen creates a booking and runs then inside the same
// transaction, under the slot lock. An error from then rolls the booking
// back.
func (e *Engine) CreateBookingThen(ctx context.Context, tenantID int64, actor domain.Actor, req CreateBookingRequest, then AfterInsert) (out *BookingDetails, err error) {
	ctx, span := tracing.Start(ctx, "booking.CreateBooking")
	defer func() { tracing.End(span, err) }()

	now := e.now()
	start, end := req.StartTime.UTC(), req.EndTime.UTC()
	if !end.After(start) {
		return nil, ErrInvalidDuration
	}

	target, err := e.loadTarget(ctx, tenantID, req.SessionID, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if !target.window.Contains(timeslot.New(start, end)) {
		return nil, ErrOutsideSession
	}

	f, err := e.fund(ctx, tenantID, actor, req.SubscriptionID, req.PunchPassID, now)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != 0 && req.CustomerID != f.CustomerID() {
		return nil, entitlement.ErrEntitlementNotOwned
	}

	limits := f.Limits()
	if limits.MaxBlock > 0 && end.Sub(start) > limits.MaxBlock {
		return nil, ErrBlockTooLong
	}
	if limits.AdvanceWindow > 0 && target.window.Start.After(now.Add(limits.AdvanceWindow)) {
		return nil, ErrOutsideBookingWindow
	}
	if err := e.checkWeeklyLimit(ctx, tenantID, f, now); err != nil {
		return nil, err
	}

	b := &domain.OpenStudioBooking{
		TenantID:   tenantID,
		CustomerID: f.CustomerID(),
		SessionID:  target.session.ID,
		ResourceID: target.resource.ID,
		StartTime:  start,
		EndTime:    end,
		Status:     domain.OpenStudioReserved,
		ReservedAt: now.UTC(),
	}
	f.Attach(b)

	if err := e.insert(ctx, tenantID, b, f, then); err != nil {
		return nil, err
	}

	log.Info().
		Int64("tenant_id", tenantID).
		Int64("booking_id", b.ID).
		Int64("session_id", b.SessionID).
		Int64("resource_id", b.ResourceID).
		Str("funding", string(f.Kind())).
		Msg("open studio booking created")
	events.Emit(ctx, e.events, events.New(events.BookingCreated, tenantID, b.SessionID, b))

	return details(b, target), nil
}

// AfterInsert runs in the booking's transaction once the row exists.
type AfterInsert func(ctx context.Context, b *domain.OpenStudioBooking) error

// insert re-checks capacity and persists b while holding the slot lock.
func (e *Engine) insert(ctx context.Context, tenantID int64, b *domain.OpenStudioBooking, f entitlement.Funding, then AfterInsert) error {
	key := slotlock.BookingKey(tenantID, b.SessionID, b.ResourceID)
	policy := slotlock.DefaultPolicy(e.attempts, repository.IsUniqueViolation)

	err := slotlock.Do(ctx, e.locker, key, policy, func(ctx context.Context) error {
		b.ID = 0
		return e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			free, err := e.capacity.FreeCapacity(ctx, tenantID, b.SessionID, b.ResourceID, b.StartTime, b.EndTime)
			if err != nil {
				return fmt.Errorf("failed to check capacity: %w", err)
			}
			if free <= 0 {
				return ErrConflict
			}
			if err := f.Consume(ctx); err != nil {
				return err
			}
			if err := e.bookings.Create(ctx, b); err != nil {
				return fmt.Errorf("failed to create booking: %w", err)
			}
			if then != nil {
				return then(ctx, b)
			}
			return nil
		})
	})
	if err != nil && !IsRuleViolation(err) && !errors.Is(err, repository.ErrStaleState) {
		log.Error().Err(err).
			Int64("tenant_id", tenantID).
			Int64("session_id", b.SessionID).
			Int64("resource_id", b.ResourceID).
			Msg("failed to insert booking")
	}
	return err
}

// CancelBooking releases a RESERVED booking, refunds a punch pass and then
// promotes the slot's waitlist. Promotion problems never fail the call.
func (e *Engine) CancelBooking(ctx context.Context, tenantID, bookingID int64, actor domain.Actor) (out *domain.OpenStudioBooking, err error) {
	ctx, span := tracing.Start(ctx, "booking.CancelBooking")
	defer func() { tracing.End(span, err) }()

	now := e.now().UTC()
	var b *domain.OpenStudioBooking
	err = e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		b, err = e.lockBooking(ctx, tenantID, bookingID, actor)
		if err != nil {
			return err
		}
		if !b.Status.CanTransitionTo(domain.OpenStudioCancelled) {
			return ErrInvalidStatusTransition
		}
		if err := e.transition(ctx, b, domain.OpenStudioCancelled, map[string]any{"cancelled_at": now}); err != nil {
			return err
		}
		b.CancelledAt = &now

		if b.PunchPassID == nil {
			return nil
		}
		f, err := e.funding.ForBooking(ctx, b)
		if err != nil {
			return fmt.Errorf("failed to resolve punch pass: %w", err)
		}
		return f.Refund(ctx)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("tenant_id", tenantID).Int64("booking_id", b.ID).Msg("open studio booking cancelled")
	events.Emit(ctx, e.events, events.New(events.BookingCancelled, tenantID, b.SessionID, b))

	if e.waitlist != nil {
		e.waitlist.PromoteNow(ctx, tenantID, b.Slot())
	}
	return b, nil
}

// CheckIn marks a RESERVED booking as started.
func (e *Engine) CheckIn(ctx context.Context, tenantID, bookingID int64, actor domain.Actor) (out *domain.OpenStudioBooking, err error) {
	ctx, span := tracing.Start(ctx, "booking.CheckIn")
	defer func() { tracing.End(span, err) }()

	now := e.now().UTC()
	var b *domain.OpenStudioBooking
	err = e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		b, err = e.lockBooking(ctx, tenantID, bookingID, actor)
		if err != nil {
			return err
		}
		if !b.Status.CanTransitionTo(domain.OpenStudioCheckedIn) {
			return ErrInvalidStatusTransition
		}
		if err := e.transition(ctx, b, domain.OpenStudioCheckedIn, map[string]any{"checked_in_at": now}); err != nil {
			return err
		}
		b.CheckedInAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, e.events, events.New(events.BookingCheckedIn, tenantID, b.SessionID, b))
	return b, nil
}

// WalkInCheckIn books and checks in a member on the spot. The block starts
// now and ends after the membership's max block or at session end,
// whichever comes first.
func (e *Engine) WalkInCheckIn(ctx context.Context, tenantID int64, actor domain.Actor, req WalkInRequest) (out *BookingDetails, err error) {
	ctx, span := tracing.Start(ctx, "booking.WalkInCheckIn")
	defer func() { tracing.End(span, err) }()

	now := e.now().UTC()
	subID := req.SubscriptionID
	f, err := e.fund(ctx, tenantID, actor, &subID, nil, now)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != 0 && req.CustomerID != f.CustomerID() {
		return nil, entitlement.ErrEntitlementNotOwned
	}
	limits := f.Limits()
	if !limits.AllowWalkIns {
		return nil, ErrWalkInNotAllowed
	}

	target, err := e.loadTarget(ctx, tenantID, req.SessionID, req.ResourceID)
	if err != nil {
		return nil, err
	}
	if now.Before(target.window.Start) || !now.Before(target.window.End) {
		return nil, ErrOutsideSession
	}
	if err := e.checkWeeklyLimit(ctx, tenantID, f, now); err != nil {
		return nil, err
	}

	end := target.window.End.UTC()
	if limits.MaxBlock > 0 && now.Add(limits.MaxBlock).Before(end) {
		end = now.Add(limits.MaxBlock)
	}

	b := &domain.OpenStudioBooking{
		TenantID:    tenantID,
		CustomerID:  f.CustomerID(),
		SessionID:   target.session.ID,
		ResourceID:  target.resource.ID,
		StartTime:   now,
		EndTime:     end,
		Status:      domain.OpenStudioCheckedIn,
		IsWalkIn:    true,
		ReservedAt:  now,
		CheckedInAt: &now,
	}
	f.Attach(b)

	if err := e.insert(ctx, tenantID, b, f, nil); err != nil {
		return nil, err
	}

	log.Info().Int64("tenant_id", tenantID).Int64("booking_id", b.ID).Msg("walk-in checked in")
	events.Emit(ctx, e.events, events.New(events.BookingCheckedIn, tenantID, b.SessionID, b))
	return details(b, target), nil
}

// CompleteFinished moves checked-in bookings whose block has ended to
// COMPLETED and returns how many moved.
func (e *Engine) CompleteFinished(ctx context.Context, tenantID int64, now time.Time) (int, error) {
	ctx, span := tracing.Start(ctx, "booking.CompleteFinished")
	defer span.End()

	due, err := e.bookings.ListCheckedInEndedBy(ctx, tenantID, now.UTC())
	if err != nil {
		log.Error().Err(err).Int64("tenant_id", tenantID).Msg("failed to list finished bookings")
		return 0, fmt.Errorf("failed to list finished bookings: %w", err)
	}

	done := 0
	at := now.UTC()
	for i := range due {
		b := &due[i]
		err := e.bookings.Transition(ctx, tenantID, b.ID, domain.OpenStudioCheckedIn, domain.OpenStudioCompleted, map[string]any{"completed_at": at})
		if errors.Is(err, repository.ErrStaleState) {
			continue
		}
		if err != nil {
			return done, fmt.Errorf("failed to complete booking %d: %w", b.ID, err)
		}
		b.Status = domain.OpenStudioCompleted
		b.CompletedAt = &at
		done++
		events.Emit(ctx, e.events, events.New(events.BookingCompleted, tenantID, b.SessionID, b))
	}
	return done, nil
}

func (e *Engine) GetBooking(ctx context.Context, tenantID, bookingID int64, actor domain.Actor) (*BookingDetails, error) {
	b, err := e.bookings.GetByID(ctx, tenantID, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if !actor.Owns(b.CustomerID) {
		return nil, ErrForbidden
	}

	sess, err := e.sessions.GetByID(ctx, tenantID, b.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	res, err := e.resources.GetByID(ctx, tenantID, b.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource: %w", err)
	}
	start, end, err := sess.Bounds(e.loc)
	if err != nil {
		return nil, err
	}
	return details(b, &openSession{session: sess, resource: res, window: timeslot.New(start, end)}), nil
}

func (e *Engine) ListForCustomer(ctx context.Context, tenantID, customerID int64) ([]domain.OpenStudioBooking, error) {
	list, err := e.bookings.ListForCustomer(ctx, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return list, nil
}

func (e *Engine) lockBooking(ctx context.Context, tenantID, bookingID int64, actor domain.Actor) (*domain.OpenStudioBooking, error) {
	b, err := e.bookings.GetByIDForUpdate(ctx, tenantID, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if !actor.Owns(b.CustomerID) {
		return nil, ErrForbidden
	}
	return b, nil
}

func (e *Engine) transition(ctx context.Context, b *domain.OpenStudioBooking, to domain.OpenStudioBookingStatus, fields map[string]any) error {
	err := e.bookings.Transition(ctx, b.TenantID, b.ID, b.Status, to, fields)
	if errors.Is(err, repository.ErrStaleState) {
		return ErrInvalidStatusTransition
	}
	if err != nil {
		log.Error().Err(err).Int64("tenant_id", b.TenantID).Int64("booking_id", b.ID).Str("to", string(to)).Msg("failed to update booking status")
		return fmt.Errorf("failed to update booking: %w", err)
	}
	b.Status = to
	return nil
}

func details(b *domain.OpenStudioBooking, t *openSession) *BookingDetails {
	return &BookingDetails{
		OpenStudioBooking: *b,
		ResourceName:      t.resource.Name,
		Session: SessionSummary{
			ID:        t.session.ID,
			Date:      t.session.Date,
			StartTime: t.window.Start,
			EndTime:   t.window.End,
		},
	}
}
