package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/modules/availability"
	"kilnstudio/internal/modules/booking"
	"kilnstudio/internal/modules/entitlement"
	"kilnstudio/internal/pkg/events"
	"kilnstudio/internal/pkg/slotlock"
	"kilnstudio/internal/pkg/tracing"
	"kilnstudio/internal/repository"
)

type Deps struct {
	Tx            Transactor
	Entries       EntryStore
	Subscriptions SubscriptionSource
	Capacity      CapacityChecker
	Bookings      Booker
	Locker        slotlock.Locker
	Events        events.Publisher
	RetryAttempts uint
}

// Manager keeps one FIFO queue per (session, resource, start time).
type Manager struct {
	tx            Transactor
	entries       EntryStore
	subscriptions SubscriptionSource
	capacity      CapacityChecker
	bookings      Booker
	locker        slotlock.Locker
	events        events.Publisher
	attempts      uint
	now           func() time.Time
}

func NewManager(d Deps) *Manager {
	if d.Locker == nil {
		d.Locker = slotlock.NewLocal()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Manager{
		tx:            d.Tx,
		entries:       d.Entries,
		subscriptions: d.Subscriptions,
		capacity:      d.Capacity,
		bookings:      d.Bookings,
		locker:        d.Locker,
		events:        d.Events,
		attempts:      d.RetryAttempts,
		now:           time.Now,
	}
}

func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Join queues an active membership for a slot that is currently taken.
func (m *Manager) Join(ctx context.Context, tenantID int64, actor domain.Actor, req JoinRequest) (out *domain.OpenStudioWaitlist, err error) {
	ctx, span := tracing.Start(ctx, "waitlist.Join")
	defer func() { tracing.End(span, err) }()

	start, end := req.StartTime.UTC(), req.EndTime.UTC()
	if !end.After(start) {
		return nil, ErrInvalidDuration
	}

	sub, err := m.subscriptions.GetSubscription(ctx, tenantID, req.SubscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, entitlement.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if !actor.Owns(sub.CustomerID) {
		return nil, entitlement.ErrEntitlementNotOwned
	}
	if !sub.IsActive() {
		return nil, entitlement.ErrSubscriptionInactive
	}

	free, err := m.capacity.FreeCapacity(ctx, tenantID, req.SessionID, req.ResourceID, start, end)
	switch {
	case errors.Is(err, availability.ErrSessionNotFound):
		return nil, booking.ErrSessionNotFound
	case errors.Is(err, availability.ErrResourceNotFound):
		return nil, booking.ErrResourceNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to check capacity: %w", err)
	}
	if free > 0 {
		return nil, ErrSlotAvailable
	}

	slot := domain.Slot{SessionID: req.SessionID, ResourceID: req.ResourceID, StartTime: start}
	entry := &domain.OpenStudioWaitlist{
		TenantID:       tenantID,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		SessionID:      req.SessionID,
		ResourceID:     req.ResourceID,
		StartTime:      start,
		EndTime:        end,
	}

	key := slotlock.WaitlistKey(tenantID, req.SessionID, req.ResourceID)
	policy := slotlock.DefaultPolicy(m.attempts, repository.IsUniqueViolation)
	err = slotlock.Do(ctx, m.locker, key, policy, func(ctx context.Context) error {
		return m.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			_, err := m.entries.FindActiveForSubscription(ctx, tenantID, sub.ID, slot)
			if err == nil {
				return ErrAlreadyWaiting
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("failed to check existing entry: %w", err)
			}

			highest, err := m.entries.MaxPosition(ctx, tenantID, slot)
			if err != nil {
				return fmt.Errorf("failed to read waitlist position: %w", err)
			}
			entry.ID = 0
			entry.Position = highest + 1
			entry.JoinedAt = m.now().UTC()
			return m.entries.Create(ctx, entry)
		})
	})
	if err != nil {
		if !errors.Is(err, ErrAlreadyWaiting) {
			log.Error().Err(err).Int64("tenant_id", tenantID).Int64("session_id", req.SessionID).Int64("resource_id", req.ResourceID).Msg("failed to join waitlist")
		}
		return nil, err
	}

	log.Info().Int64("tenant_id", tenantID).Int64("waitlist_id", entry.ID).Int("position", entry.Position).Msg("joined waitlist")
	events.Emit(ctx, m.events, events.New(events.WaitlistJoined, tenantID, entry.SessionID, entry))
	return entry, nil
}

// Leave cancels an active entry owned by the actor.
func (m *Manager) Leave(ctx context.Context, tenantID, entryID int64, actor domain.Actor) (*domain.OpenStudioWaitlist, error) {
	entry, err := m.entries.GetByID(ctx, tenantID, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load waitlist entry: %w", err)
	}
	if !actor.Owns(entry.CustomerID) {
		return nil, ErrForbidden
	}
	if !entry.IsActive() {
		return nil, ErrNotActive
	}

	// Promotion holds the same key, so an entry cannot be left while it is
	// being booked.
	at := m.now().UTC()
	key := slotlock.WaitlistKey(tenantID, entry.SessionID, entry.ResourceID)
	err = slotlock.Do(ctx, m.locker, key, slotlock.DefaultPolicy(m.attempts, nil), func(ctx context.Context) error {
		return m.entries.MarkCancelled(ctx, tenantID, entry.ID, at)
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, ErrNotActive
		}
		return nil, fmt.Errorf("failed to cancel waitlist entry: %w", err)
	}
	entry.CancelledAt = &at

	events.Emit(ctx, m.events, events.New(events.WaitlistCancelled, tenantID, entry.SessionID, entry))
	return entry, nil
}

// Process offers a freed slot to waiting members in position order. The
// first successful booking fulfils its entry and ends the run. Entries whose
// booking is refused by a rule are cancelled. Entries whose interval does not
// fit the free capacity stay queued. Either way the next entry is tried.
func (m *Manager) Process(ctx context.Context, tenantID int64, slot domain.Slot) (out *ProcessResult, err error) {
	ctx, span := tracing.Start(ctx, "waitlist.Process")
	defer func() { tracing.End(span, err) }()

	slot.StartTime = slot.StartTime.UTC()
	res := &ProcessResult{Slot: slot, Skipped: []Skipped{}}

	key := slotlock.WaitlistKey(tenantID, slot.SessionID, slot.ResourceID)
	err = slotlock.Do(ctx, m.locker, key, slotlock.DefaultPolicy(m.attempts, nil), func(ctx context.Context) error {
		return m.process(ctx, tenantID, slot, res)
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func (m *Manager) process(ctx context.Context, tenantID int64, slot domain.Slot, res *ProcessResult) error {
	entries, err := m.entries.ListActiveForSlot(ctx, tenantID, slot)
	if err != nil {
		return fmt.Errorf("failed to list waitlist: %w", err)
	}

	conflicts := 0
	for i := range entries {
		entry := &entries[i]
		at := m.now().UTC()
		subID := entry.SubscriptionID
		b, err := m.bookings.CreateBookingThen(ctx, tenantID, domain.SystemActor(), booking.CreateBookingRequest{
			SubscriptionID: &subID,
			SessionID:      entry.SessionID,
			ResourceID:     entry.ResourceID,
			StartTime:      entry.StartTime,
			EndTime:        entry.EndTime,
		}, func(ctx context.Context, created *domain.OpenStudioBooking) error {
			return m.entries.MarkFulfilled(ctx, tenantID, entry.ID, created.ID, at)
		})

		switch {
		case err == nil:
			entry.FulfilledAt = &at
			entry.BookingID = &b.ID
			res.Fulfilled = entry
			res.BookingID = &b.ID
			log.Info().Int64("tenant_id", tenantID).Int64("waitlist_id", entry.ID).Int64("booking_id", b.ID).Msg("waitlist entry fulfilled")
			events.Emit(ctx, m.events, events.New(events.WaitlistFulfilled, tenantID, entry.SessionID, entry))
			return nil

		case errors.Is(err, repository.ErrStaleState):
			// Left or fulfilled elsewhere; the booking was rolled back.
			res.Skipped = append(res.Skipped, Skipped{EntryID: entry.ID, Reason: ErrNotActive.Error()})

		case errors.Is(err, booking.ErrConflict):
			conflicts++
			res.Skipped = append(res.Skipped, Skipped{EntryID: entry.ID, Reason: err.Error()})
			log.Debug().Int64("tenant_id", tenantID).Int64("waitlist_id", entry.ID).Msg("waitlist entry does not fit free capacity")

		case booking.IsRuleViolation(err):
			if err := m.entries.MarkCancelled(ctx, tenantID, entry.ID, at); err != nil && !errors.Is(err, repository.ErrStaleState) {
				return fmt.Errorf("failed to cancel waitlist entry: %w", err)
			}
			entry.CancelledAt = &at
			res.Skipped = append(res.Skipped, Skipped{EntryID: entry.ID, Reason: err.Error()})
			log.Info().Int64("tenant_id", tenantID).Int64("waitlist_id", entry.ID).Str("reason", err.Error()).Msg("waitlist entry dropped")
			events.Emit(ctx, m.events, events.New(events.WaitlistCancelled, tenantID, entry.SessionID, entry))

		default:
			return fmt.Errorf("failed to book waitlist entry %d: %w", entry.ID, err)
		}
	}
	res.NoCapacity = conflicts > 0
	return nil
}
