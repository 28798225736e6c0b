package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_Bounds(t *testing.T) {
	s := Session{ID: 1, Date: "2024-01-15", StartTime: "09:00", EndTime: "12:00"}

	start, end, err := s.Bounds(time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC), end)

	s.ResourceReleaseHours = 24
	assert.Equal(t, time.Date(2024, 1, 14, 9, 0, 0, 0, time.UTC), s.ReleaseCutoff(start))
}

func TestSession_BoundsRejectsInvertedTimes(t *testing.T) {
	s := Session{ID: 2, Date: "2024-01-15", StartTime: "12:00", EndTime: "09:00"}
	_, _, err := s.Bounds(time.UTC)
	assert.Error(t, err)
}

func TestOpenStudioStatus_Transitions(t *testing.T) {
	assert.True(t, OpenStudioReserved.CanTransitionTo(OpenStudioCheckedIn))
	assert.True(t, OpenStudioReserved.CanTransitionTo(OpenStudioCancelled))
	assert.True(t, OpenStudioCheckedIn.CanTransitionTo(OpenStudioCompleted))
	assert.False(t, OpenStudioCheckedIn.CanTransitionTo(OpenStudioCancelled))
	assert.False(t, OpenStudioCancelled.CanTransitionTo(OpenStudioReserved))
	assert.False(t, OpenStudioCompleted.CanTransitionTo(OpenStudioCheckedIn))
}

func TestReservationStatus_Transitions(t *testing.T) {
	assert.True(t, ReservationPending.CanTransitionTo(ReservationCheckedIn))
	assert.True(t, ReservationCheckedIn.CanTransitionTo(ReservationPending))
	assert.True(t, ReservationCancelled.CanTransitionTo(ReservationPending))
	assert.False(t, ReservationAttended.CanTransitionTo(ReservationPending))
	assert.False(t, ReservationNoShow.CanTransitionTo(ReservationCheckedIn))
	assert.False(t, ReservationAutoCancelled.CanTransitionTo(ReservationPending))
}

func TestBooking_OverlapIsHalfOpen(t *testing.T) {
	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	b := OpenStudioBooking{StartTime: base, EndTime: base.Add(time.Hour)}

	assert.True(t, b.Overlaps(base.Add(30*time.Minute), base.Add(90*time.Minute)))
	assert.False(t, b.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)))
	assert.False(t, b.Overlaps(base.Add(-time.Hour), base))
}

func TestSuspension_Covers(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	s := CustomerSuspension{StartsAt: start, EndsAt: &end}

	assert.False(t, s.Covers(start.Add(-time.Second)))
	assert.True(t, s.Covers(start))
	assert.True(t, s.Covers(end))
	assert.False(t, s.Covers(end.Add(time.Second)))

	s.EndsAt = nil
	assert.True(t, s.Covers(start.Add(365*24*time.Hour)))
}

func TestActor_Owns(t *testing.T) {
	assert.True(t, Actor{UserID: 5, Role: RoleCustomer}.Owns(5))
	assert.False(t, Actor{UserID: 5, Role: RoleCustomer}.Owns(6))
	assert.True(t, Actor{UserID: 1, Role: RoleStaff}.Owns(6))
	assert.True(t, SystemActor().Owns(6))
}

func TestRegistration_GuestsDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, (&ClassRegistration{}).Guests())
	assert.Equal(t, 3, (&ClassRegistration{GuestCount: 3}).Guests())
}
