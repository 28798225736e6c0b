// Package events publishes domain events after the owning transaction commits.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	BookingCreated   = "booking.created"
	BookingCancelled = "booking.cancelled"
	BookingCheckedIn = "booking.checked_in"
	BookingCompleted = "booking.completed"

	WaitlistJoined    = "waitlist.joined"
	WaitlistFulfilled = "waitlist.fulfilled"
	WaitlistCancelled = "waitlist.cancelled"

	ReservationCreated     = "reservation.created"
	ReservationCancelled   = "reservation.cancelled"
	ReservationCheckedIn   = "reservation.checked_in"
	ReservationAttended    = "reservation.attended"
	ReservationUndoCheckIn = "reservation.undo_check_in"
	ReservationNoShow      = "reservation.no_show"
)

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	TenantID   int64     `json:"tenant_id"`
	SessionID  int64     `json:"session_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func New(eventType string, tenantID, sessionID int64, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		SessionID:  sessionID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit publishes in the background. The caller's cancellation does not stop
// delivery and failures are only logged.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	go func() {
		c, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.Publish(c, ev); err != nil {
			log.Error().Err(err).Str("event_type", ev.Type).Str("event_id", ev.ID).Int64("tenant_id", ev.TenantID).Msg("failed to publish event")
		}
	}()
}
