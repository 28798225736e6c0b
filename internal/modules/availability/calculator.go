package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"kilnstudio/internal/domain"
	"kilnstudio/internal/pkg/timeslot"
	"kilnstudio/internal/pkg/tracing"
	"kilnstudio/internal/repository"
)

// Calculator derives per-resource capacity for a session. It never writes.
type Calculator struct {
	sessions    SessionStore
	allocations AllocationStore
	resources   ResourceStore
	bookings    BookingStore
	waitlist    WaitlistStore
	queue       PromotionQueue
	loc         *time.Location
	now         func() time.Time
}

func NewCalculator(
	sessions SessionStore,
	allocations AllocationStore,
	resources ResourceStore,
	bookings BookingStore,
	waitlist WaitlistStore,
	loc *time.Location,
) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{
		sessions:    sessions,
		allocations: allocations,
		resources:   resources,
		bookings:    bookings,
		waitlist:    waitlist,
		loc:         loc,
		now:         time.Now,
	}
}

// SetPromotionQueue wires the waitlist promoter once it exists.
func (c *Calculator) SetPromotionQueue(q PromotionQueue) {
	c.queue = q
}

func (c *Calculator) SetClock(now func() time.Time) {
	c.now = now
}

type classHold struct {
	total int
	slots []HeldSlot
}

func (c *Calculator) loadSession(ctx context.Context, tenantID, sessionID int64) (*domain.Session, timeslot.Range, error) {
	sess, err := c.sessions.GetByID(ctx, tenantID, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, timeslot.Range{}, ErrSessionNotFound
		}
		return nil, timeslot.Range{}, fmt.Errorf("failed to load session: %w", err)
	}
	start, end, err := sess.Bounds(c.loc)
	if err != nil {
		return nil, timeslot.Range{}, err
	}
	return sess, timeslot.New(start, end), nil
}

// classHolds sums, per resource, what other class sessions overlapping window
// hold. Before a session's release cutoff a full-capacity session holds
// max(actual, maxStudents*perStudent); afterwards only actual allocations.
func (c *Calculator) classHolds(ctx context.Context, tenantID int64, target *domain.Session, window timeslot.Range, now time.Time) (map[int64]*classHold, error) {
	out := make(map[int64]*classHold)

	sameDay, err := c.sessions.ListByDate(ctx, tenantID, target.Date)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	type placed struct {
		session domain.Session
		span    timeslot.Range
	}
	var overlapping []placed
	var sessionIDs, classIDs []int64
	seenClass := make(map[int64]bool)
	for _, s := range sameDay {
		if s.ID == target.ID || s.IsCancelled || s.ClassID == nil {
			continue
		}
		start, end, err := s.Bounds(c.loc)
		if err != nil {
			log.Warn().Err(err).Int64("session_id", s.ID).Msg("skipping session with invalid times")
			continue
		}
		span := timeslot.New(start, end)
		if !span.Overlaps(window) {
			continue
		}
		overlapping = append(overlapping, placed{session: s, span: span})
		sessionIDs = append(sessionIDs, s.ID)
		if !seenClass[*s.ClassID] {
			seenClass[*s.ClassID] = true
			classIDs = append(classIDs, *s.ClassID)
		}
	}
	if len(overlapping) == 0 {
		return out, nil
	}

	reqs, err := c.sessions.ListRequirementsForClasses(ctx, tenantID, classIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load class requirements: %w", err)
	}
	allocs, err := c.allocations.SumBySessions(ctx, tenantID, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to sum allocations: %w", err)
	}

	for _, o := range overlapping {
		speculative := o.session.ReserveFullCapacity && now.Before(o.session.ReleaseCutoff(o.span.Start))
		for _, req := range reqs[*o.session.ClassID] {
			hold := allocs[o.session.ID][req.ResourceID]
			if speculative {
				if full := o.session.MaxStudents * req.QuantityPerStudent; full > hold {
					hold = full
				}
			}
			if hold <= 0 {
				continue
			}
			h := out[req.ResourceID]
			if h == nil {
				h = &classHold{}
				out[req.ResourceID] = h
			}
			sid := o.session.ID
			h.total += hold
			h.slots = append(h.slots, HeldSlot{
				SessionID: &sid,
				StartTime: o.span.Start,
				EndTime:   o.span.End,
				Quantity:  hold,
				Source:    HoldClass,
			})
		}
	}
	return out, nil
}

// FreeCapacity returns how many units of a resource are still free for
// [start, end) inside a session: quantity minus overlapping class holds minus
// overlapping active bookings. It may be negative when over-committed.
func (c *Calculator) FreeCapacity(ctx context.Context, tenantID, sessionID, resourceID int64, start, end time.Time) (int, error) {
	sess, _, err := c.loadSession(ctx, tenantID, sessionID)
	if err != nil {
		return 0, err
	}
	res, err := c.resources.GetByID(ctx, tenantID, resourceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, ErrResourceNotFound
		}
		return 0, fmt.Errorf("failed to load resource: %w", err)
	}

	holds, err := c.classHolds(ctx, tenantID, sess, timeslot.New(start, end), c.now())
	if err != nil {
		return 0, err
	}
	active, err := c.bookings.ListActiveForSession(ctx, tenantID, sess.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list bookings: %w", err)
	}

	used := 0
	for i := range active {
		if active[i].ResourceID == resourceID && active[i].Overlaps(start, end) {
			used++
		}
	}
	held := 0
	if h := holds[resourceID]; h != nil {
		held = h.total
	}
	return res.Quantity - held - used, nil
}

// GetSessionAvailability reports every relevant resource of a session. When a
// resource has free units and a waitlist, promotion is queued for each
// waiting slot.
func (c *Calculator) GetSessionAvailability(ctx context.Context, tenantID, sessionID int64) (*SessionAvailability, error) {
	ctx, span := tracing.Start(ctx, "availability.GetSessionAvailability")
	defer span.End()

	sess, window, err := c.loadSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	now := c.now()

	var (
		resources []domain.Resource
		holds     map[int64]*classHold
		active    []domain.OpenStudioBooking
		waiting   []domain.OpenStudioWaitlist
	)
	err = c.load(ctx,
		func(ctx context.Context) error {
			var err error
			resources, err = c.sessionResources(ctx, tenantID, sess)
			return err
		},
		func(ctx context.Context) error {
			var err error
			holds, err = c.classHolds(ctx, tenantID, sess, window, now)
			return err
		},
		func(ctx context.Context) error {
			var err error
			active, err = c.bookings.ListActiveForSession(ctx, tenantID, sess.ID)
			return err
		},
		func(ctx context.Context) error {
			var err error
			waiting, err = c.waitlist.ListActiveForSession(ctx, tenantID, sess.ID)
			return err
		},
	)
	if err != nil {
		log.Error().Err(err).Int64("tenant_id", tenantID).Int64("session_id", sessionID).Msg("failed to load availability inputs")
		return nil, fmt.Errorf("failed to load availability: %w", err)
	}

	out := &SessionAvailability{
		SessionID: sess.ID,
		Date:      sess.Date,
		StartTime: window.Start,
		EndTime:   window.End,
		Resources: make([]ResourceAvailability, 0, len(resources)),
	}
	for _, res := range resources {
		ra := c.resourceAvailability(res, window, holds[res.ID], active, waiting)
		out.Resources = append(out.Resources, ra)
		c.queuePromotions(tenantID, sess.ID, ra, waiting)
	}
	return out, nil
}

func (c *Calculator) resourceAvailability(res domain.Resource, window timeslot.Range, hold *classHold, active []domain.OpenStudioBooking, waiting []domain.OpenStudioWaitlist) ResourceAvailability {
	ra := ResourceAvailability{
		ResourceID:     res.ID,
		ResourceName:   res.Name,
		TotalQuantity:  res.Quantity,
		HeldSlots:      []HeldSlot{},
		Bookings:       []BookingView{},
		WaitlistCounts: map[string]int{},
		Waitlist:       []WaitlistView{},
	}
	if hold != nil {
		ra.HeldByClasses = hold.total
		ra.HeldSlots = append(ra.HeldSlots, hold.slots...)
	}

	var mine []domain.OpenStudioBooking
	for _, b := range active {
		if b.ResourceID != res.ID {
			continue
		}
		mine = append(mine, b)
		ra.Bookings = append(ra.Bookings, BookingView{
			ID:         b.ID,
			CustomerID: b.CustomerID,
			StartTime:  b.StartTime,
			EndTime:    b.EndTime,
			Status:     b.Status,
			IsWalkIn:   b.IsWalkIn,
		})
	}
	ra.CurrentlyBooked = len(mine)
	ra.Available = max(0, res.Quantity-ra.HeldByClasses-ra.CurrentlyBooked)

	// Hours that bookings alone fill are reported as held, unless a class
	// hold already covers them.
	classSlots := len(ra.HeldSlots)
	for _, hour := range window.Hourly() {
		covered := false
		for _, hs := range ra.HeldSlots[:classSlots] {
			if hour.Overlaps(timeslot.New(hs.StartTime, hs.EndTime)) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		n := 0
		for i := range mine {
			if mine[i].Overlaps(hour.Start, hour.End) {
				n++
			}
		}
		if n >= res.Quantity {
			ra.HeldSlots = append(ra.HeldSlots, HeldSlot{StartTime: hour.Start, EndTime: hour.End, Quantity: n, Source: HoldBookings})
		}
	}
	sort.SliceStable(ra.HeldSlots, func(i, j int) bool { return ra.HeldSlots[i].StartTime.Before(ra.HeldSlots[j].StartTime) })

	for _, w := range waiting {
		if w.ResourceID != res.ID {
			continue
		}
		ra.WaitlistCounts[w.StartTime.UTC().Format(time.RFC3339)]++
		ra.Waitlist = append(ra.Waitlist, WaitlistView{
			ID:             w.ID,
			SubscriptionID: w.SubscriptionID,
			StartTime:      w.StartTime,
			EndTime:        w.EndTime,
			Position:       w.Position,
			JoinedAt:       w.JoinedAt,
		})
	}
	return ra
}

func (c *Calculator) queuePromotions(tenantID, sessionID int64, ra ResourceAvailability, waiting []domain.OpenStudioWaitlist) {
	if c.queue == nil || ra.Available <= 0 || len(ra.Waitlist) == 0 {
		return
	}
	seen := make(map[int64]bool)
	for _, w := range waiting {
		if w.ResourceID != ra.ResourceID || seen[w.StartTime.Unix()] {
			continue
		}
		seen[w.StartTime.Unix()] = true
		slot := domain.Slot{SessionID: sessionID, ResourceID: ra.ResourceID, StartTime: w.StartTime}
		if !c.queue.Enqueue(tenantID, slot) {
			log.Warn().Int64("tenant_id", tenantID).Int64("session_id", sessionID).Int64("resource_id", ra.ResourceID).Msg("waitlist promotion not queued")
		}
	}
}

// sessionResources lists the resources a session can use: the class
// requirements for class sessions, every active resource otherwise.
func (c *Calculator) sessionResources(ctx context.Context, tenantID int64, sess *domain.Session) ([]domain.Resource, error) {
	if sess.IsOpenStudio() {
		return c.resources.List(ctx, tenantID, true)
	}
	reqs, err := c.sessions.ListRequirements(ctx, tenantID, *sess.ClassID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ResourceID)
	}
	return c.resources.ListByIDs(ctx, tenantID, ids)
}

// load runs independent reads concurrently, or sequentially when ctx carries
// a transaction that cannot be shared across goroutines.
func (c *Calculator) load(ctx context.Context, fns ...func(context.Context) error) error {
	if repository.InTransaction(ctx) {
		for _, fn := range fns {
			if err := fn(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		fn := fn
		g.Go(func() error { return fn(gctx) })
	}
	return g.Wait()
}
