package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/repository"
)

type Kind string

const (
	KindSubscription Kind = "SUBSCRIPTION"
	KindPunchPass    Kind = "PUNCH_PASS"
)

// Limits bound what a funding source may book. Zero means unlimited.
type Limits struct {
	MaxBlock           time.Duration
	MaxBookingsPerWeek int
	AdvanceWindow      time.Duration
	AllowWalkIns       bool
}

// Funding is what pays for an open-studio booking.
type Funding interface {
	Kind() Kind
	ID() int64
	CustomerID() int64
	// IsEligible returns nil when the source may fund a booking at now.
	IsEligible(now time.Time) error
	Limits() Limits
	// Consume and Refund run inside the booking transaction.
	Consume(ctx context.Context) error
	Refund(ctx context.Context) error
	// Attach records the source on a booking.
	Attach(b *domain.OpenStudioBooking)
}

type SubscriptionFunding struct {
	sub *domain.Subscription
}

func NewSubscriptionFunding(sub *domain.Subscription) *SubscriptionFunding {
	return &SubscriptionFunding{sub: sub}
}

func (f *SubscriptionFunding) Kind() Kind        { return KindSubscription }
func (f *SubscriptionFunding) ID() int64         { return f.sub.ID }
func (f *SubscriptionFunding) CustomerID() int64 { return f.sub.CustomerID }

func (f *SubscriptionFunding) IsEligible(time.Time) error {
	if !f.sub.IsActive() {
		return ErrSubscriptionInactive
	}
	return nil
}

func (f *SubscriptionFunding) Limits() Limits {
	b := f.sub.Benefits
	return Limits{
		MaxBlock:           time.Duration(b.MaxBlockMinutes) * time.Minute,
		MaxBookingsPerWeek: b.MaxBookingsPerWeek,
		AdvanceWindow:      time.Duration(b.AdvanceBookingDays) * 24 * time.Hour,
		AllowWalkIns:       b.AllowWalkIns,
	}
}

func (f *SubscriptionFunding) Consume(context.Context) error { return nil }
func (f *SubscriptionFunding) Refund(context.Context) error  { return nil }

func (f *SubscriptionFunding) Attach(b *domain.OpenStudioBooking) {
	id := f.sub.ID
	b.SubscriptionID = &id
	b.PunchPassID = nil
}

// PunchPassFunding spends one punch per booking.
type PunchPassFunding struct {
	pass   *domain.PunchPass
	ledger PunchLedger
}

func NewPunchPassFunding(pass *domain.PunchPass, ledger PunchLedger) *PunchPassFunding {
	return &PunchPassFunding{pass: pass, ledger: ledger}
}

func (f *PunchPassFunding) Kind() Kind        { return KindPunchPass }
func (f *PunchPassFunding) ID() int64         { return f.pass.ID }
func (f *PunchPassFunding) CustomerID() int64 { return f.pass.CustomerID }

func (f *PunchPassFunding) IsEligible(now time.Time) error {
	if f.pass.IsExpired(now) {
		return ErrPunchPassExpired
	}
	if f.pass.PunchesRemaining <= 0 {
		return ErrNoPunchesRemaining
	}
	return nil
}

func (f *PunchPassFunding) Limits() Limits {
	return Limits{}
}

func (f *PunchPassFunding) Consume(ctx context.Context) error {
	if err := f.ledger.AdjustPunches(ctx, f.pass.TenantID, f.pass.ID, -1); err != nil {
		if errors.Is(err, repository.ErrInsufficientPunches) {
			return ErrNoPunchesRemaining
		}
		return fmt.Errorf("failed to consume punch: %w", err)
	}
	f.pass.PunchesRemaining--
	return nil
}

func (f *PunchPassFunding) Refund(ctx context.Context) error {
	if err := f.ledger.AdjustPunches(ctx, f.pass.TenantID, f.pass.ID, 1); err != nil {
		return fmt.Errorf("failed to refund punch: %w", err)
	}
	f.pass.PunchesRemaining++
	return nil
}

func (f *PunchPassFunding) Attach(b *domain.OpenStudioBooking) {
	id := f.pass.ID
	b.PunchPassID = &id
	b.SubscriptionID = nil
}
