package reservation

import (
	"context"
	"fmt"

	"kilnstudio/internal/domain"
)

// Progress is where a registration stands in a sequential class.
type Progress struct {
	Steps []domain.ClassStep
	// Next is the lowest active step with no seated reservation, nil once
	// every step is taken.
	Next *domain.ClassStep
	// FloorDate is the latest date reserved or attended at the highest step
	// reached so far. Earlier sessions are out of reach.
	FloorDate string
}

// Allows reports whether sess is the next session the registration may take.
func (p *Progress) Allows(sess *domain.Session) bool {
	if p.Next == nil || sess.StepID == nil || *sess.StepID != p.Next.ID {
		return false
	}
	return sess.Date >= p.FloorDate
}

type sequencer struct {
	sessions     SessionStore
	reservations ReservationStore
}

func (s *sequencer) progress(ctx context.Context, tenantID int64, reg *domain.ClassRegistration) (*Progress, error) {
	steps, err := s.sessions.ListActiveSteps(ctx, tenantID, reg.ClassID)
	if err != nil {
		return nil, fmt.Errorf("failed to list class steps: %w", err)
	}
	taken, err := s.reservations.ListForRegistration(ctx, tenantID, reg.ID, domain.SeatedReservationStatuses)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	ids := make([]int64, 0, len(taken))
	for _, r := range taken {
		ids = append(ids, r.SessionID)
	}
	sessions, err := s.sessions.ListByIDs(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load reserved sessions: %w", err)
	}

	numbers := make(map[int64]int, len(steps))
	for _, st := range steps {
		numbers[st.ID] = st.StepNumber
	}

	p := &Progress{Steps: steps}
	reached := make(map[int64]bool)
	highest := 0
	for _, sess := range sessions {
		if sess.StepID == nil {
			continue
		}
		n, ok := numbers[*sess.StepID]
		if !ok {
			continue
		}
		reached[*sess.StepID] = true
		switch {
		case n > highest:
			highest = n
			p.FloorDate = sess.Date
		case n == highest && sess.Date > p.FloorDate:
			p.FloorDate = sess.Date
		}
	}
	for i := range steps {
		if !reached[steps[i].ID] {
			p.Next = &steps[i]
			break
		}
	}
	return p, nil
}
