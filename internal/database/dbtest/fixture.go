package dbtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"kilnstudio/internal/domain"
)

// Fixture seeds rows for one tenant.
type Fixture struct {
	T        testing.TB
	DB       *gorm.DB
	TenantID int64
}

func NewFixture(t testing.TB) *Fixture {
	return &Fixture{T: t, DB: Open(t), TenantID: 1}
}

func (f *Fixture) Create(v any) {
	f.T.Helper()
	require.NoError(f.T, f.DB.Create(v).Error)
}

func (f *Fixture) Resource(name string, quantity int) *domain.Resource {
	res := &domain.Resource{TenantID: f.TenantID, Name: name, Quantity: quantity, IsActive: true}
	f.Create(res)
	return res
}

func (f *Fixture) OpenSession(date, start, end string) *domain.Session {
	s := &domain.Session{TenantID: f.TenantID, Date: date, StartTime: start, EndTime: end}
	f.Create(s)
	return s
}

func (f *Fixture) Class(name string, multiStep, requiresSequence bool) *domain.Class {
	c := &domain.Class{TenantID: f.TenantID, Name: name, IsMultiStep: multiStep, RequiresSequence: requiresSequence}
	f.Create(c)
	return c
}

func (f *Fixture) Step(classID int64, number int) *domain.ClassStep {
	s := &domain.ClassStep{TenantID: f.TenantID, ClassID: classID, StepNumber: number, IsActive: true}
	f.Create(s)
	return s
}

func (f *Fixture) Require(classID, resourceID int64, perStudent int) {
	f.Create(&domain.ClassResourceRequirement{TenantID: f.TenantID, ClassID: classID, ResourceID: resourceID, QuantityPerStudent: perStudent})
}

func (f *Fixture) ClassSession(classID int64, date, start, end string, maxStudents int, mutate ...func(*domain.Session)) *domain.Session {
	id := classID
	s := &domain.Session{TenantID: f.TenantID, ClassID: &id, Date: date, StartTime: start, EndTime: end, MaxStudents: maxStudents}
	for _, m := range mutate {
		m(s)
	}
	f.Create(s)
	return s
}

func (f *Fixture) Subscription(customerID int64, benefits domain.MembershipBenefits) *domain.Subscription {
	s := &domain.Subscription{TenantID: f.TenantID, CustomerID: customerID, Status: domain.SubscriptionActive, Benefits: benefits}
	f.Create(s)
	return s
}

func (f *Fixture) PunchPass(customerID int64, punches int, expiresAt *time.Time) *domain.PunchPass {
	p := &domain.PunchPass{TenantID: f.TenantID, CustomerID: customerID, PunchesRemaining: punches, ExpiresAt: expiresAt}
	f.Create(p)
	return p
}

func (f *Fixture) Registration(customerID, classID int64, pass domain.PassType, remaining int, mutate ...func(*domain.ClassRegistration)) *domain.ClassRegistration {
	r := &domain.ClassRegistration{
		TenantID:          f.TenantID,
		CustomerID:        customerID,
		ClassID:           classID,
		PassType:          pass,
		GuestCount:        1,
		SessionsRemaining: remaining,
	}
	for _, m := range mutate {
		m(r)
	}
	f.Create(r)
	return r
}

func (f *Fixture) Suspend(customerID int64, from time.Time, to *time.Time) {
	f.Create(&domain.CustomerSuspension{TenantID: f.TenantID, CustomerID: customerID, StartsAt: from, EndsAt: to, Reason: "test"})
}

func (f *Fixture) Reload(v any, id int64) {
	f.T.Helper()
	require.NoError(f.T, f.DB.First(v, id).Error)
}
