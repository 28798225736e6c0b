package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/pkg/timeslot"
	"kilnstudio/internal/repository"
)

type Code string

const (
	CodeRegistrationNotFound    Code = "REGISTRATION_NOT_FOUND"
	CodeSessionNotFound         Code = "SESSION_NOT_FOUND"
	CodeSessionCancelled        Code = "SESSION_CANCELLED"
	CodeWrongClass              Code = "WRONG_CLASS"
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeCustomerSuspended       Code = "CUSTOMER_SUSPENDED"
	CodeNoPunchesRemaining      Code = "NO_PUNCHES_REMAINING"
	CodeReservationLimitReached Code = "RESERVATION_LIMIT_REACHED"
	CodePassNotYetValid         Code = "PASS_NOT_YET_VALID"
	CodePassExpired             Code = "PASS_EXPIRED"
	CodeSessionFull             Code = "SESSION_FULL"
	CodeInsufficientResources   Code = "INSUFFICIENT_RESOURCES"
	CodeDuplicateReservation    Code = "DUPLICATE_RESERVATION"
	CodeSequenceViolation       Code = "SEQUENCE_VIOLATION"
)

// ValidationResult is the outcome of the reservation rule chain. Business
// rule failures are reported here, never as errors.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Error     string `json:"error,omitempty"`
	ErrorCode Code   `json:"error_code,omitempty"`
}

func ok() ValidationResult {
	return ValidationResult{Valid: true}
}

func fail(code Code, format string, args ...any) ValidationResult {
	return ValidationResult{Valid: false, Error: fmt.Sprintf(format, args...), ErrorCode: code}
}

// subject is everything the rules look at, loaded once.
type subject struct {
	tenantID   int64
	customerID int64
	reg        *domain.ClassRegistration
	session    *domain.Session
	class      *domain.Class
	window     timeslot.Range
	now        time.Time
}

type rule struct {
	name  string
	check func(ctx context.Context, s *subject) (ValidationResult, error)
}

type ValidatorDeps struct {
	Suspensions     SuspensionChecker
	Registrations   RegistrationStore
	Reservations    ReservationStore
	Sessions        SessionStore
	Allocations     AllocationStore
	Resources       ResourceStore
	Bookings        BookingStore
	Location        *time.Location
	EnforceSequence bool
}

// Validator runs the ordered reservation rules and stops at the first
// failure.
type Validator struct {
	d     ValidatorDeps
	seq   *sequencer
	rules []rule
	now   func() time.Time
}

func NewValidator(d ValidatorDeps) *Validator {
	if d.Location == nil {
		d.Location = time.UTC
	}
	v := &Validator{
		d:   d,
		seq: &sequencer{sessions: d.Sessions, reservations: d.Reservations},
		now: time.Now,
	}
	v.rules = []rule{
		{"suspension", v.checkSuspension},
		{"remaining_punches", v.checkPunches},
		{"advance_limit", v.checkAdvanceLimit},
		{"validity_window", v.checkValidity},
		{"session_capacity", v.checkSessionCapacity},
		{"resource_capacity", v.checkResourceCapacity},
		{"duplicate", v.checkDuplicate},
		{"sequence", v.checkSequence},
	}
	return v
}

func (v *Validator) SetClock(now func() time.Time) {
	v.now = now
}

// Validate checks whether customerID may reserve sessionID with the given
// registration. The error is reserved for infrastructure faults.
func (v *Validator) Validate(ctx context.Context, tenantID, customerID, registrationID, sessionID int64) (ValidationResult, error) {
	s, res, err := v.load(ctx, tenantID, customerID, registrationID, sessionID)
	if err != nil || !res.Valid {
		return res, err
	}
	for _, r := range v.rules {
		res, err := r.check(ctx, s)
		if err != nil {
			return ValidationResult{}, fmt.Errorf("rule %s: %w", r.name, err)
		}
		if !res.Valid {
			return res, nil
		}
	}
	return ok(), nil
}

func (v *Validator) load(ctx context.Context, tenantID, customerID, registrationID, sessionID int64) (*subject, ValidationResult, error) {
	reg, err := v.d.Registrations.GetByID(ctx, tenantID, registrationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fail(CodeRegistrationNotFound, "registration %d not found", registrationID), nil
	}
	if err != nil {
		return nil, ValidationResult{}, fmt.Errorf("failed to load registration: %w", err)
	}
	if reg.CustomerID != customerID {
		return nil, fail(CodeUnauthorized, "registration belongs to another customer"), nil
	}

	sess, err := v.d.Sessions.GetByID(ctx, tenantID, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fail(CodeSessionNotFound, "session %d not found", sessionID), nil
	}
	if err != nil {
		return nil, ValidationResult{}, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.IsCancelled {
		return nil, fail(CodeSessionCancelled, "session is cancelled"), nil
	}
	if sess.ClassID == nil || *sess.ClassID != reg.ClassID {
		return nil, fail(CodeWrongClass, "session does not belong to the registered class"), nil
	}

	class, err := v.d.Sessions.GetClass(ctx, tenantID, reg.ClassID)
	if err != nil {
		return nil, ValidationResult{}, fmt.Errorf("failed to load class: %w", err)
	}
	start, end, err := sess.Bounds(v.d.Location)
	if err != nil {
		return nil, ValidationResult{}, err
	}

	return &subject{
		tenantID:   tenantID,
		customerID: customerID,
		reg:        reg,
		session:    sess,
		class:      class,
		window:     timeslot.New(start, end),
		now:        v.now(),
	}, ok(), nil
}

func (v *Validator) checkSuspension(ctx context.Context, s *subject) (ValidationResult, error) {
	susp, err := v.d.Suspensions.ActiveSuspension(ctx, s.tenantID, s.customerID, s.now)
	if err != nil {
		return ValidationResult{}, err
	}
	if susp != nil {
		return fail(CodeCustomerSuspended, "customer is suspended"), nil
	}
	return ok(), nil
}

func (v *Validator) checkPunches(_ context.Context, s *subject) (ValidationResult, error) {
	if s.reg.PassType.IsPunchBased() && s.reg.SessionsRemaining <= 0 {
		return fail(CodeNoPunchesRemaining, "no sessions remaining on this pass"), nil
	}
	return ok(), nil
}

func (v *Validator) checkAdvanceLimit(ctx context.Context, s *subject) (ValidationResult, error) {
	limit := -1
	if s.reg.MaxAdvanceReservations != nil {
		limit = *s.reg.MaxAdvanceReservations
	}
	if s.class.IsMultiStep && s.class.RequiresSequence {
		steps, err := v.d.Sessions.ListActiveSteps(ctx, s.tenantID, s.class.ID)
		if err != nil {
			return ValidationResult{}, err
		}
		limit = len(steps)
	}
	if limit < 0 {
		return ok(), nil
	}

	n, err := v.d.Reservations.CountForRegistration(ctx, s.tenantID, s.reg.ID, domain.UpcomingReservationStatuses)
	if err != nil {
		return ValidationResult{}, err
	}
	if n >= limit {
		return fail(CodeReservationLimitReached, "maximum of %d upcoming reservations reached", limit), nil
	}
	return ok(), nil
}

func (v *Validator) checkValidity(_ context.Context, s *subject) (ValidationResult, error) {
	if s.reg.ValidFrom != nil && s.now.Before(*s.reg.ValidFrom) {
		return fail(CodePassNotYetValid, "pass is not valid yet"), nil
	}
	if s.reg.ValidUntil != nil && s.now.After(*s.reg.ValidUntil) {
		return fail(CodePassExpired, "pass has expired"), nil
	}
	return ok(), nil
}

func (v *Validator) checkSessionCapacity(ctx context.Context, s *subject) (ValidationResult, error) {
	n, err := v.d.Reservations.CountForSession(ctx, s.tenantID, s.session.ID, domain.SeatedReservationStatuses)
	if err != nil {
		return ValidationResult{}, err
	}
	if n >= s.session.MaxStudents {
		return fail(CodeSessionFull, "session is full"), nil
	}
	return ok(), nil
}

// checkResourceCapacity adds the registration's need to what overlapping
// sessions already hold, counting both class allocations and open-studio
// bookings.
func (v *Validator) checkResourceCapacity(ctx context.Context, s *subject) (ValidationResult, error) {
	reqs, err := v.d.Sessions.ListRequirements(ctx, s.tenantID, s.class.ID)
	if err != nil || len(reqs) == 0 {
		return ok(), err
	}

	sameDay, err := v.d.Sessions.ListByDate(ctx, s.tenantID, s.session.Date)
	if err != nil {
		return ValidationResult{}, err
	}
	var overlapping []int64
	for i := range sameDay {
		start, end, err := sameDay[i].Bounds(v.d.Location)
		if err != nil {
			continue
		}
		if s.window.Overlaps(timeslot.New(start, end)) {
			overlapping = append(overlapping, sameDay[i].ID)
		}
	}

	allocated, err := v.d.Allocations.SumBySessions(ctx, s.tenantID, overlapping)
	if err != nil {
		return ValidationResult{}, err
	}
	bookings, err := v.d.Bookings.ListActiveForSessions(ctx, s.tenantID, overlapping)
	if err != nil {
		return ValidationResult{}, err
	}

	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ResourceID)
	}
	resources, err := v.d.Resources.ListByIDs(ctx, s.tenantID, ids)
	if err != nil {
		return ValidationResult{}, err
	}
	quantity := make(map[int64]domain.Resource, len(resources))
	for _, r := range resources {
		quantity[r.ID] = r
	}

	for _, req := range reqs {
		used := 0
		for _, bySession := range allocated {
			used += bySession[req.ResourceID]
		}
		for i := range bookings {
			if bookings[i].ResourceID == req.ResourceID && bookings[i].Overlaps(s.window.Start, s.window.End) {
				used++
			}
		}
		need := s.reg.Guests() * req.QuantityPerStudent
		res, found := quantity[req.ResourceID]
		if !found || used+need > res.Quantity {
			name := fmt.Sprintf("resource %d", req.ResourceID)
			if found {
				name = res.Name
			}
			return fail(CodeInsufficientResources, "not enough %s available", name), nil
		}
	}
	return ok(), nil
}

func (v *Validator) checkDuplicate(ctx context.Context, s *subject) (ValidationResult, error) {
	existing, err := v.d.Reservations.FindByRegistrationAndSession(ctx, s.tenantID, s.reg.ID, s.session.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return ok(), nil
	}
	if err != nil {
		return ValidationResult{}, err
	}
	if !existing.Status.IsReleased() {
		return fail(CodeDuplicateReservation, "session is already reserved"), nil
	}
	return ok(), nil
}

// checkSequence passes unless sequence enforcement is switched on.
func (v *Validator) checkSequence(ctx context.Context, s *subject) (ValidationResult, error) {
	if !v.d.EnforceSequence || !s.class.IsMultiStep || !s.class.RequiresSequence {
		return ok(), nil
	}
	p, err := v.seq.progress(ctx, s.tenantID, s.reg)
	if err != nil {
		return ValidationResult{}, err
	}
	if !p.Allows(s.session) {
		return fail(CodeSequenceViolation, "session is not the next step in sequence"), nil
	}
	return ok(), nil
}
