package domain

import (
	"time"

	"gorm.io/datatypes"
)

type PassType string

const (
	PassPunchPass  PassType = "PUNCH_PASS"
	PassFullCourse PassType = "FULL_COURSE"
	PassDropIn     PassType = "DROP_IN"
)

func (p PassType) IsPunchBased() bool {
	return p == PassPunchPass
}

// ClassRegistration entitles a customer to reserve sessions of one class.
type ClassRegistration struct {
	ID                     int64      `json:"id" gorm:"primaryKey"`
	TenantID               int64      `json:"tenant_id" gorm:"not null;index"`
	CustomerID             int64      `json:"customer_id" gorm:"not null;index"`
	ClassID                int64      `json:"class_id" gorm:"not null;index"`
	PassType               PassType   `json:"pass_type" gorm:"size:20;not null"`
	GuestCount             int        `json:"guest_count" gorm:"not null"`
	SessionsRemaining      int        `json:"sessions_remaining" gorm:"not null"`
	SessionsAttended       int        `json:"sessions_attended" gorm:"not null"`
	MaxAdvanceReservations *int       `json:"max_advance_reservations,omitempty"`
	ValidFrom              *time.Time `json:"valid_from,omitempty"`
	ValidUntil             *time.Time `json:"valid_until,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Guests is the number of seats the registration occupies, at least one.
func (r *ClassRegistration) Guests() int {
	if r.GuestCount < 1 {
		return 1
	}
	return r.GuestCount
}

type ReservationStatus string

const (
	ReservationPending       ReservationStatus = "PENDING"
	ReservationCheckedIn     ReservationStatus = "CHECKED_IN"
	ReservationAttended      ReservationStatus = "ATTENDED"
	ReservationNoShow        ReservationStatus = "NO_SHOW"
	ReservationCancelled     ReservationStatus = "CANCELLED"
	ReservationAutoCancelled ReservationStatus = "AUTO_CANCELLED"
)

var (
	// UpcomingReservationStatuses count against the advance reservation limit.
	UpcomingReservationStatuses = []ReservationStatus{ReservationPending, ReservationCheckedIn}
	// SeatedReservationStatuses occupy a seat in the session.
	SeatedReservationStatuses = []ReservationStatus{ReservationPending, ReservationCheckedIn, ReservationAttended}
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationPending:   {ReservationCheckedIn, ReservationCancelled, ReservationNoShow, ReservationAutoCancelled},
	ReservationCheckedIn: {ReservationAttended, ReservationPending},
	ReservationCancelled: {ReservationPending},
}

func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	for _, allowed := range reservationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsReleased reports whether the reservation no longer holds a seat.
func (s ReservationStatus) IsReleased() bool {
	return s == ReservationCancelled || s == ReservationAutoCancelled
}

type CheckInMethod string

const (
	CheckInSelf  CheckInMethod = "SELF"
	CheckInStaff CheckInMethod = "STAFF"
)

// SessionReservation is a customer's seat in a class session. There is at
// most one row per (registration, session); cancelled rows are reactivated.
type SessionReservation struct {
	ID                 int64             `json:"id" gorm:"primaryKey"`
	TenantID           int64             `json:"tenant_id" gorm:"not null;index"`
	CustomerID         int64             `json:"customer_id" gorm:"not null;index"`
	RegistrationID     int64             `json:"registration_id" gorm:"not null;uniqueIndex:uq_reservation_registration_session"`
	SessionID          int64             `json:"session_id" gorm:"not null;uniqueIndex:uq_reservation_registration_session;index"`
	Status             ReservationStatus `json:"status" gorm:"column:reservation_status;size:20;not null;index"`
	ReservedAt         time.Time         `json:"reserved_at" gorm:"not null"`
	CheckedInAt        *time.Time        `json:"checked_in_at,omitempty"`
	CheckedInMethod    *CheckInMethod    `json:"checked_in_method,omitempty" gorm:"size:10"`
	AttendedAt         *time.Time        `json:"attended_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty" gorm:"type:text"`
	PunchUsed          bool              `json:"punch_used" gorm:"not null"`
	PunchDeductedAt    *time.Time        `json:"punch_deducted_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type HistoryAction string

const (
	HistoryCreated       HistoryAction = "CREATED"
	HistoryReactivated   HistoryAction = "REACTIVATED"
	HistoryCancelled     HistoryAction = "CANCELLED"
	HistoryAutoCancelled HistoryAction = "AUTO_CANCELLED"
	HistoryCheckedIn     HistoryAction = "CHECKED_IN"
	HistoryUndoCheckIn   HistoryAction = "UNDO_CHECK_IN"
	HistoryAttended      HistoryAction = "ATTENDED"
	HistoryNoShow        HistoryAction = "NO_SHOW"
)

// ReservationHistory is append-only.
type ReservationHistory struct {
	ID              int64              `json:"id" gorm:"primaryKey"`
	TenantID        int64              `json:"tenant_id" gorm:"not null;index"`
	ReservationID   int64              `json:"reservation_id" gorm:"not null;index"`
	Action          HistoryAction      `json:"action" gorm:"size:20;not null"`
	PerformedBy     *int64             `json:"performed_by,omitempty"`
	PerformedByRole Role               `json:"performed_by_role" gorm:"size:20;not null"`
	PreviousStatus  *ReservationStatus `json:"previous_status,omitempty" gorm:"size:20"`
	NewStatus       ReservationStatus  `json:"new_status" gorm:"size:20;not null"`
	Metadata        datatypes.JSONMap  `json:"metadata,omitempty"`
	Timestamp       time.Time          `json:"timestamp" gorm:"not null;index"`
}

func (ReservationHistory) TableName() string {
	return "reservation_history"
}

// NewHistory builds a history row for a status change made by actor.
func NewHistory(r *SessionReservation, action HistoryAction, prev *ReservationStatus, actor Actor, at time.Time, meta map[string]any) *ReservationHistory {
	h := &ReservationHistory{
		TenantID:        r.TenantID,
		ReservationID:   r.ID,
		Action:          action,
		PerformedByRole: actor.Role,
		PreviousStatus:  prev,
		NewStatus:       r.Status,
		Timestamp:       at,
	}
	if actor.UserID != 0 {
		id := actor.UserID
		h.PerformedBy = &id
	}
	if len(meta) > 0 {
		h.Metadata = datatypes.JSONMap(meta)
	}
	return h
}
