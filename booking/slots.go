package booking

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"mentorly/models"

	"golang.org/x/sync/errgroup"
)

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// lockedSet accumulates committed times per weekday. Comparison is on the
// normalized form; the first spelling seen is what gets reported.
type lockedSet struct {
	order []string
	days  map[string]*models.LockedSlot
	seen  map[string]map[string]bool
}

func newLockedSet() *lockedSet {
	return &lockedSet{
		days: make(map[string]*models.LockedSlot),
		seen: make(map[string]map[string]bool),
	}
}

func (l *lockedSet) add(day string, times ...string) {
	key := normalize(day)
	if key == "" {
		return
	}
	slot, ok := l.days[key]
	if !ok {
		slot = &models.LockedSlot{Day: strings.TrimSpace(day)}
		l.days[key] = slot
		l.seen[key] = make(map[string]bool)
		l.order = append(l.order, key)
	}
	for _, t := range times {
		tk := normalize(t)
		if tk == "" || l.seen[key][tk] {
			continue
		}
		l.seen[key][tk] = true
		slot.TimeSlots = append(slot.TimeSlots, strings.TrimSpace(t))
	}
}

func (l *lockedSet) has(day, t string) bool {
	return l.seen[normalize(day)][normalize(t)]
}

func (l *lockedSet) slots() []models.LockedSlot {
	out := make([]models.LockedSlot, 0, len(l.order))
	for _, k := range l.order {
		out = append(out, *l.days[k])
	}
	return out
}

func collaborationLocks(c *models.Collaboration, now time.Time) bool {
	if c.IsCancelled {
		return false
	}
	return c.EndDate == nil || c.EndDate.After(now)
}

func mergeLocked(collabs []models.Collaboration, reqs []models.MentorRequest, now time.Time) *lockedSet {
	set := newLockedSet()
	for i := range collabs {
		if !collaborationLocks(&collabs[i], now) {
			continue
		}
		for _, slot := range collabs[i].SelectedSlot {
			set.add(slot.Day, slot.TimeSlots...)
		}
	}
	for _, r := range reqs {
		if r.IsAccepted != models.RequestAccepted {
			continue
		}
		set.add(r.SelectedSlot.Day, r.SelectedSlot.TimeSlots.First())
	}
	return set
}

func (s *Service) lockedSet(ctx context.Context, mentorID string) (*lockedSet, error) {
	now := s.now()
	var (
		collabs []models.Collaboration
		reqs    []models.MentorRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		collabs, err = s.store.ActiveCollaborationsForMentor(gctx, mentorID, now)
		return err
	})
	g.Go(func() error {
		var err error
		reqs, err = s.store.AcceptedRequestsForMentor(gctx, mentorID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load locked slots for mentor %s: %w", mentorID, err)
	}
	return mergeLocked(collabs, reqs, now), nil
}

// LockedSlots lists the mentor's committed (day, times) from active
// collaborations and accepted-but-unpaid requests.
func (s *Service) LockedSlots(ctx context.Context, mentorID string) ([]models.LockedSlot, error) {
	set, err := s.lockedSet(ctx, mentorID)
	if err != nil {
		return nil, err
	}
	return set.slots(), nil
}

func (s *Service) HasMentorConflict(ctx context.Context, mentorID, day, t string) (bool, error) {
	set, err := s.lockedSet(ctx, mentorID)
	if err != nil {
		return false, err
	}
	return set.has(day, t), nil
}

func (s *Service) HasUserConflict(ctx context.Context, userID, day, t string) (bool, error) {
	collabs, err := s.store.OpenCollaborationsForUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load collaborations for user %s: %w", userID, err)
	}
	d, tm := normalize(day), normalize(t)
	for _, c := range collabs {
		if c.IsCancelled || c.IsCompleted {
			continue
		}
		for _, slot := range c.SelectedSlot {
			if normalize(slot.Day) != d {
				continue
			}
			if slices.ContainsFunc(slot.TimeSlots, func(x string) bool { return normalize(x) == tm }) {
				return true, nil
			}
		}
	}
	return false, nil
}
