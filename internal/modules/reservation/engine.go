package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/pkg/events"
	"kilnstudio/internal/pkg/slotlock"
	"kilnstudio/internal/pkg/tracing"
	"kilnstudio/internal/repository"
)

type EngineDeps struct {
	Tx            Transactor
	Validator     *Validator
	Registrations RegistrationStore
	Reservations  ReservationStore
	Sessions      SessionStore
	Allocations   AllocationStore
	History       HistoryStore
	Locker        slotlock.Locker
	Events        events.Publisher
	Location      *time.Location
	RetryAttempts uint
}

// Engine creates, cancels and reactivates class reservations together with
// their resource allocations and audit rows.
type Engine struct {
	tx            Transactor
	validator     *Validator
	registrations RegistrationStore
	reservations  ReservationStore
	sessions      SessionStore
	allocations   AllocationStore
	history       HistoryStore
	locker        slotlock.Locker
	events        events.Publisher
	seq           *sequencer
	loc           *time.Location
	attempts      uint
	now           func() time.Time
}

func NewEngine(d EngineDeps) *Engine {
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
		tx:            d.Tx,
		validator:     d.Validator,
		registrations: d.Registrations,
		reservations:  d.Reservations,
		sessions:      d.Sessions,
		allocations:   d.Allocations,
		history:       d.History,
		locker:        d.Locker,
		events:        d.Events,
		seq:           &sequencer{sessions: d.Sessions, reservations: d.Reservations},
		loc:           d.Location,
		attempts:      d.RetryAttempts,
		now:           time.Now,
	}
}

// SetClock also moves the validator's clock.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.validator.SetClock(now)
}

func (e *Engine) registration(ctx context.Context, tenantID, id int64, actor domain.Actor) (*domain.ClassRegistration, error) {
	reg, err := e.registrations.GetByID(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	if !actor.Owns(reg.CustomerID) {
		return nil, ErrForbidden
	}
	return reg, nil
}

// Validate runs the rule chain for the actor's registration.
func (e *Engine) Validate(ctx context.Context, tenantID int64, actor domain.Actor, req ValidateRequest) (ValidationResult, error) {
	reg, err := e.registration(ctx, tenantID, req.RegistrationID, actor)
	if err != nil {
		if errors.Is(err, ErrRegistrationNotFound) {
			return fail(CodeRegistrationNotFound, "registration %d not found", req.RegistrationID), nil
		}
		if errors.Is(err, ErrForbidden) {
			return fail(CodeUnauthorized, "registration belongs to another customer"), nil
		}
		return ValidationResult{}, err
	}
	return e.validator.Validate(ctx, tenantID, reg.CustomerID, reg.ID, req.SessionID)
}

// CreateReservation validates and books a seat. A previously cancelled row
// for the same session is reactivated instead of inserting a new one.
func (e *Engine) CreateReservation(ctx context.Context, tenantID int64, actor domain.Actor, req CreateRequest) (out *domain.SessionReservation, err error) {
	ctx, span := tracing.Start(ctx, "reservation.CreateReservation")
	defer func() { tracing.End(span, err) }()

	reg, err := e.registration(ctx, tenantID, req.RegistrationID, actor)
	if err != nil {
		return nil, err
	}
	sess, err := e.sessions.GetByID(ctx, tenantID, req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var (
		res    *domain.SessionReservation
		action domain.HistoryAction
	)
	key := slotlock.ReservationKey(tenantID, sess.Date)
	policy := slotlock.DefaultPolicy(e.attempts, repository.IsUniqueViolation)
	err = slotlock.Do(ctx, e.locker, key, policy, func(ctx context.Context) error {
		return e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
			result, err := e.validator.Validate(ctx, tenantID, reg.CustomerID, reg.ID, sess.ID)
			if err != nil {
				return err
			}
			if !result.Valid {
				return &RuleViolationError{Result: result}
			}

			res, action, err = e.upsertPending(ctx, reg, sess)
			if err != nil {
				return err
			}
			if err := e.history.Append(ctx, domain.NewHistory(res, action, prevStatus(action), actor, res.ReservedAt, nil)); err != nil {
				return fmt.Errorf("failed to write history: %w", err)
			}
			if err := e.allocate(ctx, reg, sess); err != nil {
				return err
			}
			return e.sessions.AdjustEnrollment(ctx, tenantID, sess.ID, reg.Guests())
		})
	})
	if err != nil {
		if _, isRule := AsRuleViolation(err); !isRule {
			log.Error().Err(err).Int64("tenant_id", tenantID).Int64("registration_id", reg.ID).Int64("session_id", sess.ID).Msg("failed to create reservation")
		}
		return nil, err
	}

	log.Info().Int64("tenant_id", tenantID).Int64("reservation_id", res.ID).Str("action", string(action)).Msg("reservation created")
	events.Emit(ctx, e.events, events.New(events.ReservationCreated, tenantID, sess.ID, res))
	return res, nil
}

func prevStatus(action domain.HistoryAction) *domain.ReservationStatus {
	if action != domain.HistoryReactivated {
		return nil
	}
	s := domain.ReservationCancelled
	return &s
}

func (e *Engine) upsertPending(ctx context.Context, reg *domain.ClassRegistration, sess *domain.Session) (*domain.SessionReservation, domain.HistoryAction, error) {
	now := e.now().UTC()
	existing, err := e.reservations.FindByRegistrationAndSession(ctx, reg.TenantID, reg.ID, sess.ID)
	switch {
	case err == nil && existing.Status == domain.ReservationCancelled:
		err := e.reservations.Transition(ctx, reg.TenantID, existing.ID, domain.ReservationCancelled, domain.ReservationPending, map[string]any{
			"reserved_at":         now,
			"cancelled_at":        nil,
			"cancellation_reason": "",
			"checked_in_at":       nil,
			"checked_in_method":   nil,
			"attended_at":         nil,
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to reactivate reservation: %w", err)
		}
		existing.Status = domain.ReservationPending
		existing.ReservedAt = now
		existing.CancelledAt = nil
		existing.CancellationReason = ""
		existing.CheckedInAt = nil
		existing.CheckedInMethod = nil
		existing.AttendedAt = nil
		return existing, domain.HistoryReactivated, nil

	case err == nil:
		return nil, "", &RuleViolationError{Result: fail(CodeDuplicateReservation, "session is already reserved")}

	case !errors.Is(err, repository.ErrNotFound):
		return nil, "", fmt.Errorf("failed to look up reservation: %w", err)
	}

	res := &domain.SessionReservation{
		TenantID:       reg.TenantID,
		CustomerID:     reg.CustomerID,
		RegistrationID: reg.ID,
		SessionID:      sess.ID,
		Status:         domain.ReservationPending,
		ReservedAt:     now,
	}
	if err := e.reservations.Create(ctx, res); err != nil {
		return nil, "", fmt.Errorf("failed to create reservation: %w", err)
	}
	return res, domain.HistoryCreated, nil
}

func (e *Engine) allocate(ctx context.Context, reg *domain.ClassRegistration, sess *domain.Session) error {
	reqs, err := e.sessions.ListRequirements(ctx, reg.TenantID, reg.ClassID)
	if err != nil {
		return fmt.Errorf("failed to list resource requirements: %w", err)
	}
	allocs := make([]domain.SessionResourceAllocation, 0, len(reqs))
	for _, r := range reqs {
		allocs = append(allocs, domain.SessionResourceAllocation{
			TenantID:       reg.TenantID,
			SessionID:      sess.ID,
			ResourceID:     r.ResourceID,
			RegistrationID: reg.ID,
			Quantity:       reg.Guests() * r.QuantityPerStudent,
		})
	}
	if err := e.allocations.CreateAll(ctx, allocs); err != nil {
		return fmt.Errorf("failed to allocate resources: %w", err)
	}
	return nil
}

// CancelReservation releases a PENDING reservation and its allocations.
func (e *Engine) CancelReservation(ctx context.Context, tenantID, reservationID int64, actor domain.Actor, reason string) (out *domain.SessionReservation, err error) {
	ctx, span := tracing.Start(ctx, "reservation.CancelReservation")
	defer func() { tracing.End(span, err) }()

	var res *domain.SessionReservation
	err = e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = e.reservations.GetByIDForUpdate(ctx, tenantID, reservationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to load reservation: %w", err)
		}
		if !actor.Owns(res.CustomerID) {
			return ErrForbidden
		}
		return e.release(ctx, res, domain.ReservationCancelled, domain.HistoryCancelled, actor, reason)
	})
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, e.events, events.New(events.ReservationCancelled, tenantID, res.SessionID, res))
	return res, nil
}

// release moves a PENDING reservation to a released status, frees its
// allocations and seats, and writes the history row.
func (e *Engine) release(ctx context.Context, res *domain.SessionReservation, to domain.ReservationStatus, action domain.HistoryAction, actor domain.Actor, reason string) error {
	if res.Status != domain.ReservationPending {
		return ErrInvalidStatusTransition
	}
	now := e.now().UTC()
	prev := res.Status
	err := e.reservations.Transition(ctx, res.TenantID, res.ID, prev, to, map[string]any{
		"cancelled_at":        now,
		"cancellation_reason": reason,
	})
	if errors.Is(err, repository.ErrStaleState) {
		return ErrInvalidStatusTransition
	}
	if err != nil {
		return fmt.Errorf("failed to cancel reservation: %w", err)
	}
	res.Status = to
	res.CancelledAt = &now
	res.CancellationReason = reason

	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}
	if err := e.history.Append(ctx, domain.NewHistory(res, action, &prev, actor, now, meta)); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	if err := e.allocations.Release(ctx, res.TenantID, res.RegistrationID, res.SessionID); err != nil {
		return fmt.Errorf("failed to release allocations: %w", err)
	}

	reg, err := e.registrations.GetByID(ctx, res.TenantID, res.RegistrationID)
	if err != nil {
		return fmt.Errorf("failed to load registration %d: %w", res.RegistrationID, err)
	}
	return e.sessions.AdjustEnrollment(ctx, res.TenantID, res.SessionID, -reg.Guests())
}

// AutoCancelSession cancels a session and moves its PENDING reservations to
// AUTO_CANCELLED. It returns how many reservations moved.
func (e *Engine) AutoCancelSession(ctx context.Context, tenantID, sessionID int64) (n int, err error) {
	ctx, span := tracing.Start(ctx, "reservation.AutoCancelSession")
	defer func() { tracing.End(span, err) }()

	var released []domain.SessionReservation
	err = e.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := e.sessions.SetCancelled(ctx, tenantID, sessionID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("failed to cancel session: %w", err)
		}
		pending, err := e.reservations.ListForSessions(ctx, tenantID, []int64{sessionID}, []domain.ReservationStatus{domain.ReservationPending})
		if err != nil {
			return fmt.Errorf("failed to list reservations: %w", err)
		}
		for i := range pending {
			if err := e.release(ctx, &pending[i], domain.ReservationAutoCancelled, domain.HistoryAutoCancelled, domain.SystemActor(), "session cancelled"); err != nil {
				return err
			}
		}
		released = pending
		return nil
	})
	if err != nil {
		return 0, err
	}

	for i := range released {
		events.Emit(ctx, e.events, events.New(events.ReservationCancelled, tenantID, sessionID, released[i]))
	}
	log.Info().Int64("tenant_id", tenantID).Int64("session_id", sessionID).Int("released", len(released)).Msg("session cancelled")
	return len(released), nil
}

// GetAvailableSessions lists upcoming sessions of the registration's class
// inside its validity window that it has not reserved yet. Sequential
// classes only offer the next step, never earlier than the last date
// reached.
func (e *Engine) GetAvailableSessions(ctx context.Context, tenantID, registrationID int64, actor domain.Actor) ([]AvailableSession, error) {
	reg, err := e.registration(ctx, tenantID, registrationID, actor)
	if err != nil {
		return nil, err
	}
	class, err := e.sessions.GetClass(ctx, tenantID, reg.ClassID)
	if err != nil {
		return nil, fmt.Errorf("failed to load class: %w", err)
	}
	sessions, err := e.sessions.ListForClass(ctx, tenantID, reg.ClassID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	var progress *Progress
	if class.IsMultiStep && class.RequiresSequence {
		progress, err = e.seq.progress(ctx, tenantID, reg)
		if err != nil {
			return nil, err
		}
	}

	mine, err := e.reservations.ListForRegistration(ctx, tenantID, reg.ID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	taken := make(map[int64]bool, len(mine))
	for _, r := range mine {
		if !r.Status.IsReleased() {
			taken[r.SessionID] = true
		}
	}

	now := e.now()
	var candidates []AvailableSession
	var ids []int64
	for i := range sessions {
		sess := sessions[i]
		if taken[sess.ID] {
			continue
		}
		start, end, err := sess.Bounds(e.loc)
		if err != nil || !start.After(now) {
			continue
		}
		if reg.ValidFrom != nil && start.Before(*reg.ValidFrom) {
			continue
		}
		if reg.ValidUntil != nil && start.After(*reg.ValidUntil) {
			continue
		}
		if progress != nil && !progress.Allows(&sess) {
			continue
		}
		candidates = append(candidates, AvailableSession{Session: sess, StartsAt: start, EndsAt: end})
		ids = append(ids, sess.ID)
	}

	seated, err := e.reservations.ListForSessions(ctx, tenantID, ids, domain.SeatedReservationStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to count seats: %w", err)
	}
	counts := make(map[int64]int, len(ids))
	for _, r := range seated {
		counts[r.SessionID]++
	}

	out := make([]AvailableSession, 0, len(candidates))
	for _, c := range candidates {
		c.SeatsLeft = c.MaxStudents - counts[c.ID]
		if c.SeatsLeft < 0 {
			c.SeatsLeft = 0
		}
		out = append(out, c)
	}
	return out, nil
}

// ListHistory returns the audit rows of a reservation in the order they
// were written.
func (e *Engine) ListHistory(ctx context.Context, tenantID, reservationID int64, actor domain.Actor) ([]domain.ReservationHistory, error) {
	res, err := e.reservations.GetByID(ctx, tenantID, reservationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if !actor.Owns(res.CustomerID) {
		return nil, ErrForbidden
	}
	rows, err := e.history.ListForReservation(ctx, tenantID, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return rows, nil
}
