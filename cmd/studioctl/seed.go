package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"kilnstudio/internal/database"
	"kilnstudio/internal/domain"
)

var seedFlags struct {
	tenant int64
	days   int
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load demo data for one tenant",
	Long: `seed migrates the schema and creates a demo studio: resources,
open studio sessions, a three-step wheel class with its sessions, and
customers 101-104 holding memberships, punch passes and registrations.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := open()
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		today := time.Now().In(cfg.Location())
		return db.WithContext(cmd.Context()).Transaction(func(tx *gorm.DB) error {
			return seed(tx, seedFlags.tenant, today, seedFlags.days)
		})
	},
}

func init() {
	seedCmd.Flags().Int64Var(&seedFlags.tenant, "tenant", 1, "tenant id to seed")
	seedCmd.Flags().IntVar(&seedFlags.days, "days", 7, "days of open studio sessions to create")
}

func seed(tx *gorm.DB, tenantID int64, today time.Time, days int) error {
	var existing int64
	if err := tx.Model(&domain.Resource{}).Where("tenant_id = ?", tenantID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return fmt.Errorf("tenant %d already has data", tenantID)
	}

	resources := []*domain.Resource{
		{TenantID: tenantID, Name: "Pottery wheel", Quantity: 8, IsActive: true},
		{TenantID: tenantID, Name: "Kiln", Quantity: 2, IsActive: true},
		{TenantID: tenantID, Name: "Glaze station", Quantity: 4, IsActive: true},
	}
	if err := tx.Create(&resources).Error; err != nil {
		return err
	}
	wheel := resources[0]

	var sessions []*domain.Session
	for d := 0; d < days; d++ {
		sessions = append(sessions, &domain.Session{
			TenantID:  tenantID,
			Date:      today.AddDate(0, 0, d).Format(domain.DateLayout),
			StartTime: "10:00",
			EndTime:   "20:00",
		})
	}

	class := &domain.Class{TenantID: tenantID, Name: "Wheel throwing series", IsMultiStep: true, RequiresSequence: true}
	if err := tx.Create(class).Error; err != nil {
		return err
	}
	if err := tx.Create(&domain.ClassResourceRequirement{
		TenantID: tenantID, ClassID: class.ID, ResourceID: wheel.ID, QuantityPerStudent: 1,
	}).Error; err != nil {
		return err
	}
	for i, name := range []string{"Centering", "Pulling walls", "Trimming"} {
		step := &domain.ClassStep{TenantID: tenantID, ClassID: class.ID, StepNumber: i + 1, Name: name, IsActive: true}
		if err := tx.Create(step).Error; err != nil {
			return err
		}
		classID, stepID := class.ID, step.ID
		sessions = append(sessions, &domain.Session{
			TenantID:             tenantID,
			ClassID:              &classID,
			StepID:               &stepID,
			Date:                 today.AddDate(0, 0, 2*(i+1)).Format(domain.DateLayout),
			StartTime:            "18:00",
			EndTime:              "20:00",
			MaxStudents:          6,
			ResourceReleaseHours: 24,
		})
	}
	if err := tx.Create(&sessions).Error; err != nil {
		return err
	}

	subs := []*domain.Subscription{
		{TenantID: tenantID, CustomerID: 101, Status: domain.SubscriptionActive, Benefits: domain.MembershipBenefits{
			MaxBlockMinutes: 180, MaxBookingsPerWeek: 3, AdvanceBookingDays: 14, AllowWalkIns: true,
		}},
		{TenantID: tenantID, CustomerID: 102, Status: domain.SubscriptionActive, Benefits: domain.MembershipBenefits{
			MaxBlockMinutes: 120, MaxBookingsPerWeek: 1, AdvanceBookingDays: 7,
		}},
		{TenantID: tenantID, CustomerID: 103, Status: domain.SubscriptionPastDue},
	}
	if err := tx.Create(&subs).Error; err != nil {
		return err
	}

	expires := today.AddDate(0, 3, 0)
	if err := tx.Create(&domain.PunchPass{TenantID: tenantID, CustomerID: 103, PunchesRemaining: 5, ExpiresAt: &expires}).Error; err != nil {
		return err
	}

	registrations := []*domain.ClassRegistration{
		{TenantID: tenantID, CustomerID: 101, ClassID: class.ID, PassType: domain.PassFullCourse, GuestCount: 1},
		{TenantID: tenantID, CustomerID: 104, ClassID: class.ID, PassType: domain.PassPunchPass, GuestCount: 2, SessionsRemaining: 6},
	}
	if err := tx.Create(&registrations).Error; err != nil {
		return err
	}

	log.Info().
		Int64("tenant_id", tenantID).
		Int("resources", len(resources)).
		Int("sessions", len(sessions)).
		Int("registrations", len(registrations)).
		Msg("demo data created")
	return nil
}
