package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/pkg/events"
	"kilnstudio/internal/pkg/tracing"
	"kilnstudio/internal/repository"
)

type Code string

const (
	CodeReservationNotFound Code = "RESERVATION_NOT_FOUND"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeInvalidStatus       Code = "INVALID_STATUS"
	CodeOutsideWindow       Code = "OUTSIDE_CHECKIN_WINDOW"
)

type Result struct {
	Valid     bool    `json:"valid"`
	Error     string  `json:"error,omitempty"`
	ErrorCode Code    `json:"error_code,omitempty"`
	Window    *Window `json:"window,omitempty"`
}

func reject(code Code, msg string) Result {
	return Result{Error: msg, ErrorCode: code}
}

type Deps struct {
	Tx            Transactor
	Reservations  ReservationStore
	Registrations RegistrationStore
	Sessions      SessionStore
	History       HistoryStore
	Events        events.Publisher
	Location      *time.Location
}

// Service moves class reservations through check-in, attendance and
// no-show, keeping the registration's punch balance in step.
type Service struct {
	tx            Transactor
	reservations  ReservationStore
	registrations RegistrationStore
	sessions      SessionStore
	history       HistoryStore
	events        events.Publisher
	loc           *time.Location
	now           func() time.Time
}

func NewService(d Deps) *Service {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Service{
		tx:            d.Tx,
		reservations:  d.Reservations,
		registrations: d.Registrations,
		sessions:      d.Sessions,
		history:       d.History,
		events:        d.Events,
		loc:           d.Location,
		now:           time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ValidateCheckIn reports whether actor may check the reservation in right
// now. Staff get the whole session day, customers two hours either side of
// the start.
func (s *Service) ValidateCheckIn(ctx context.Context, tenantID, reservationID int64, actor domain.Actor) (Result, error) {
	res, err := s.reservations.GetByID(ctx, tenantID, reservationID)
	if errors.Is(err, repository.ErrNotFound) {
		return reject(CodeReservationNotFound, "reservation not found"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load reservation: %w", err)
	}
	return s.evaluate(ctx, res, actor, s.now())
}

func (s *Service) evaluate(ctx context.Context, res *domain.SessionReservation, actor domain.Actor, now time.Time) (Result, error) {
	if !actor.Owns(res.CustomerID) {
		return reject(CodeUnauthorized, "reservation belongs to another customer"), nil
	}
	if res.Status != domain.ReservationPending {
		return reject(CodeInvalidStatus, fmt.Sprintf("cannot check in a %s reservation", res.Status)), nil
	}

	sess, err := s.sessions.GetByID(ctx, res.TenantID, res.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return reject(CodeSessionNotFound, "session not found"), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to load session: %w", err)
	}
	start, _, err := sess.Bounds(s.loc)
	if err != nil {
		return Result{}, err
	}

	w := CustomerWindow(start)
	if actor.IsStaff() {
		w = StaffWindow(start)
	}
	if !w.Contains(now.In(s.loc)) {
		r := reject(CodeOutsideWindow, "check-in is not open for this session")
		r.Window = &w
		return r, nil
	}
	return Result{Valid: true, Window: &w}, nil
}

// CheckIn moves a PENDING reservation to CHECKED_IN. Punch-based passes pay
// for the session here, at most once per reservation.
func (s *Service) CheckIn(ctx context.Context, tenantID, reservationID int64, actor domain.Actor) (out *domain.SessionReservation, err error) {
	ctx, span := tracing.Start(ctx, "checkin.CheckIn")
	defer func() { tracing.End(span, err) }()

	now := s.now()
	method := domain.CheckInSelf
	if actor.IsStaff() {
		method = domain.CheckInStaff
	}

	var res *domain.SessionReservation
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.lock(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		result, err := s.evaluate(ctx, res, actor, now)
		if err != nil {
			return err
		}
		if !result.Valid {
			return &RejectedError{Result: result}
		}

		reg, err := s.registrations.GetByIDForUpdate(ctx, tenantID, res.RegistrationID)
		if err != nil {
			return fmt.Errorf("failed to load registration: %w", err)
		}
		deducted := false
		if reg.PassType.IsPunchBased() && !res.PunchUsed {
			switch err := s.registrations.DeductPunch(ctx, tenantID, reg.ID); {
			case err == nil:
				deducted = true
			case errors.Is(err, repository.ErrInsufficientPunches):
			default:
				return fmt.Errorf("failed to deduct punch: %w", err)
			}
		}
		if !deducted {
			if err := s.registrations.AdjustAttended(ctx, tenantID, reg.ID, 1); err != nil {
				return fmt.Errorf("failed to record attendance: %w", err)
			}
		}

		at := now.UTC()
		fields := map[string]any{"checked_in_at": at, "checked_in_method": method}
		if deducted {
			fields["punch_used"] = true
			fields["punch_deducted_at"] = at
		}
		if err := s.transition(ctx, res, domain.ReservationCheckedIn, fields); err != nil {
			return err
		}
		res.CheckedInAt = &at
		res.CheckedInMethod = &method
		if deducted {
			res.PunchUsed = true
			res.PunchDeductedAt = &at
		}

		meta := map[string]any{"method": string(method), "punch_deducted": deducted}
		if deducted {
			meta["sessions_remaining"] = reg.SessionsRemaining - 1
		}
		return s.record(ctx, res, domain.HistoryCheckedIn, domain.ReservationPending, actor, at, meta)
	})
	if err != nil {
		if _, rejected := AsRejected(err); !rejected {
			log.Error().Err(err).Int64("tenant_id", tenantID).Int64("reservation_id", reservationID).Msg("failed to check in")
		}
		return nil, err
	}

	log.Info().Int64("tenant_id", tenantID).Int64("reservation_id", res.ID).Bool("punch_used", res.PunchUsed).Msg("checked in")
	events.Emit(ctx, s.events, events.New(events.ReservationCheckedIn, tenantID, res.SessionID, res))
	return res, nil
}

// MarkAttended closes out a CHECKED_IN reservation. Only staff or the
// system may do this.
func (s *Service) MarkAttended(ctx context.Context, tenantID, reservationID int64, actor domain.Actor) (out *domain.SessionReservation, err error) {
	ctx, span := tracing.Start(ctx, "checkin.MarkAttended")
	defer func() { tracing.End(span, err) }()

	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	var res *domain.SessionReservation
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.lock(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		if res.Status != domain.ReservationCheckedIn {
			return ErrInvalidStatus
		}
		at := s.now().UTC()
		if err := s.transition(ctx, res, domain.ReservationAttended, map[string]any{"attended_at": at}); err != nil {
			return err
		}
		res.AttendedAt = &at
		return s.record(ctx, res, domain.HistoryAttended, domain.ReservationCheckedIn, actor, at, nil)
	})
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, s.events, events.New(events.ReservationAttended, tenantID, res.SessionID, res))
	return res, nil
}

// UndoCheckIn puts a CHECKED_IN reservation back to PENDING and gives back
// the punch it cost, if any.
func (s *Service) UndoCheckIn(ctx context.Context, tenantID, reservationID int64, actor domain.Actor) (out *domain.SessionReservation, err error) {
	ctx, span := tracing.Start(ctx, "checkin.UndoCheckIn")
	defer func() { tracing.End(span, err) }()

	if !actor.IsStaff() {
		return nil, ErrForbidden
	}
	var res *domain.SessionReservation
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.lock(ctx, tenantID, reservationID)
		if err != nil {
			return err
		}
		if res.Status != domain.ReservationCheckedIn {
			return ErrInvalidStatus
		}

		restored := res.PunchUsed
		if restored {
			err = s.registrations.RestorePunch(ctx, tenantID, res.RegistrationID)
		} else {
			err = s.registrations.AdjustAttended(ctx, tenantID, res.RegistrationID, -1)
		}
		if err != nil {
			return fmt.Errorf("failed to restore registration: %w", err)
		}

		err = s.transition(ctx, res, domain.ReservationPending, map[string]any{
			"checked_in_at":     nil,
			"checked_in_method": nil,
			"punch_used":        false,
			"punch_deducted_at": nil,
		})
		if err != nil {
			return err
		}
		res.CheckedInAt = nil
		res.CheckedInMethod = nil
		res.PunchUsed = false
		res.PunchDeductedAt = nil

		return s.record(ctx, res, domain.HistoryUndoCheckIn, domain.ReservationCheckedIn, actor, s.now().UTC(), map[string]any{"punch_restored": restored})
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("tenant_id", tenantID).Int64("reservation_id", res.ID).Msg("check-in undone")
	events.Emit(ctx, s.events, events.New(events.ReservationUndoCheckIn, tenantID, res.SessionID, res))
	return res, nil
}

// MarkNoShows moves PENDING reservations of sessions on date that have
// already ended to NO_SHOW and returns how many moved.
func (s *Service) MarkNoShows(ctx context.Context, tenantID int64, date string) (n int, err error) {
	ctx, span := tracing.Start(ctx, "checkin.MarkNoShows")
	defer func() { tracing.End(span, err) }()

	sessions, err := s.sessions.ListByDate(ctx, tenantID, date)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	now := s.now()
	var ended []int64
	for i := range sessions {
		if sessions[i].IsOpenStudio() {
			continue
		}
		_, end, err := sessions[i].Bounds(s.loc)
		if err != nil {
			log.Warn().Err(err).Int64("session_id", sessions[i].ID).Msg("skipping session with bad times")
			continue
		}
		if !end.After(now) {
			ended = append(ended, sessions[i].ID)
		}
	}
	if len(ended) == 0 {
		return 0, nil
	}

	var moved []domain.SessionReservation
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		pending, err := s.reservations.ListForSessions(ctx, tenantID, ended, []domain.ReservationStatus{domain.ReservationPending})
		if err != nil {
			return fmt.Errorf("failed to list reservations: %w", err)
		}
		at := now.UTC()
		for i := range pending {
			err := s.transition(ctx, &pending[i], domain.ReservationNoShow, nil)
			if errors.Is(err, ErrInvalidStatus) {
				continue
			}
			if err != nil {
				return err
			}
			if err := s.record(ctx, &pending[i], domain.HistoryNoShow, domain.ReservationPending, domain.SystemActor(), at, nil); err != nil {
				return err
			}
			moved = append(moved, pending[i])
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Int64("tenant_id", tenantID).Str("date", date).Msg("failed to mark no-shows")
		return 0, err
	}

	for i := range moved {
		events.Emit(ctx, s.events, events.New(events.ReservationNoShow, tenantID, moved[i].SessionID, moved[i]))
	}
	return len(moved), nil
}

func (s *Service) lock(ctx context.Context, tenantID, id int64) (*domain.SessionReservation, error) {
	res, err := s.reservations.GetByIDForUpdate(ctx, tenantID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	return res, nil
}

func (s *Service) transition(ctx context.Context, res *domain.SessionReservation, to domain.ReservationStatus, fields map[string]any) error {
	err := s.reservations.Transition(ctx, res.TenantID, res.ID, res.Status, to, fields)
	if errors.Is(err, repository.ErrStaleState) {
		return ErrInvalidStatus
	}
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	res.Status = to
	return nil
}

func (s *Service) record(ctx context.Context, res *domain.SessionReservation, action domain.HistoryAction, prev domain.ReservationStatus, actor domain.Actor, at time.Time, meta map[string]any) error {
	if err := s.history.Append(ctx, domain.NewHistory(res, action, &prev, actor, at, meta)); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}
