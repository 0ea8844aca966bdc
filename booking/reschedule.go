package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mentorly/models"

	"github.com/google/uuid"
)

type UnavailableDateInput struct {
	Date   string `json:"date" validate:"required"`
	Reason string `json:"reason" validate:"max=500"`
}

type UnavailableDaysInput struct {
	Dates []UnavailableDateInput `json:"datesAndReasons" validate:"required,min=1,max=52,dive"`
}

type SlotChangeDateInput struct {
	Date         string   `json:"date" validate:"required"`
	NewTimeSlots []string `json:"newTimeSlots" validate:"required,min=1,dive,required"`
}

type SlotChangeInput struct {
	Dates []SlotChangeDateInput `json:"datesAndNewSlots" validate:"required,min=1,max=52,dive"`
}

// openCollaboration loads an active collaboration and resolves the actor's side.
func (s *Service) openCollaboration(ctx context.Context, actorID, id string) (*models.Collaboration, parties, models.Side, error) {
	c, err := s.loadCollaboration(ctx, id)
	if err != nil {
		return nil, parties{}, "", err
	}
	p, err := s.resolveParties(ctx, c.UserID, c.MentorID)
	if err != nil {
		return nil, parties{}, "", err
	}
	side, err := p.sideOf(actorID)
	if err != nil {
		return nil, parties{}, "", err
	}
	if _, err := s.CompleteIfDue(ctx, c); err != nil {
		return nil, parties{}, "", err
	}
	if !c.Active() {
		return nil, parties{}, "", ErrCollaborationClosed
	}
	return c, p, side, nil
}

// sessionDate parses raw and checks it is one of the collaboration's session days.
func sessionDate(c *models.Collaboration, field, raw string) (time.Time, error) {
	d, err := parseDate(raw)
	if err != nil {
		return time.Time{}, invalid(field, err.Error())
	}
	wd, err := parseWeekday(c.Day())
	if err != nil {
		return time.Time{}, invalid("selectedSlot.day", err.Error())
	}
	if d.Weekday() != wd {
		return time.Time{}, invalid(field, fmt.Sprintf("%s is not a %s", d.Format(dateLayout), c.Day()))
	}
	if d.Before(dayOf(c.StartDate)) {
		return time.Time{}, invalid(field, fmt.Sprintf("%s is before the first session", d.Format(dateLayout)))
	}
	return d, nil
}

func formatDates(ds []time.Time) string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Format(dateLayout)
	}
	return strings.Join(out, ", ")
}

// RequestUnavailableDays asks the other participant to skip the given sessions.
func (s *Service) RequestUnavailableDays(ctx context.Context, actorID, collabID string, in UnavailableDaysInput) (*models.UnavailableDayRequest, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	c, p, side, err := s.openCollaboration(ctx, actorID, collabID)
	if err != nil {
		return nil, err
	}

	seen := make(map[time.Time]bool, len(in.Dates))
	var (
		dates  []models.UnavailableDate
		labels []time.Time
	)
	for i, d := range in.Dates {
		day, err := sessionDate(c, fmt.Sprintf("datesAndReasons[%d].date", i), d.Date)
		if err != nil {
			return nil, err
		}
		if seen[day] {
			continue
		}
		seen[day] = true
		dates = append(dates, models.UnavailableDate{Date: day, Reason: strings.TrimSpace(d.Reason)})
		labels = append(labels, day)
	}

	r := models.UnavailableDayRequest{
		ID:          uuid.NewString(),
		Dates:       dates,
		RequestedBy: side,
		RequesterID: actorID,
		IsApproved:  models.ApprovalPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.AddUnavailableDays(ctx, collabID, r); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrCollaborationClosed
		}
		return nil, fmt.Errorf("add unavailable days to %s: %w", collabID, err)
	}

	s.notify(ctx, p.of(side.Other()), models.NotifyUnavailableRequested, actorID, c.CollaborationID,
		fmt.Sprintf("%s cannot attend on %s", displayName(p.of(side)), formatDates(labels)))
	return &r, nil
}

// RequestSlotChange asks the other participant to move specific sessions to other times.
func (s *Service) RequestSlotChange(ctx context.Context, actorID, collabID string, in SlotChangeInput) (*models.TemporarySlotChangeRequest, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	c, p, side, err := s.openCollaboration(ctx, actorID, collabID)
	if err != nil {
		return nil, err
	}

	seen := make(map[time.Time]bool, len(in.Dates))
	var (
		dates  []models.SlotChangeDate
		labels []time.Time
	)
	for i, d := range in.Dates {
		day, err := sessionDate(c, fmt.Sprintf("datesAndNewSlots[%d].date", i), d.Date)
		if err != nil {
			return nil, err
		}
		if seen[day] {
			return nil, invalid(fmt.Sprintf("datesAndNewSlots[%d].date", i), "listed twice")
		}
		seen[day] = true
		slots := make([]string, 0, len(d.NewTimeSlots))
		for _, t := range d.NewTimeSlots {
			slots = append(slots, strings.TrimSpace(t))
		}
		dates = append(dates, models.SlotChangeDate{Date: day, NewTimeSlots: slots})
		labels = append(labels, day)
	}

	r := models.TemporarySlotChangeRequest{
		ID:          uuid.NewString(),
		Dates:       dates,
		RequestedBy: side,
		RequesterID: actorID,
		IsApproved:  models.ApprovalPending,
		CreatedAt:   s.now(),
	}
	if err := s.store.AddSlotChange(ctx, collabID, r); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrCollaborationClosed
		}
		return nil, fmt.Errorf("add slot change to %s: %w", collabID, err)
	}

	s.notify(ctx, p.of(side.Other()), models.NotifySlotChangeRequested, actorID, c.CollaborationID,
		fmt.Sprintf("%s asked to move the sessions on %s", displayName(p.of(side)), formatDates(labels)))
	return &r, nil
}

// newlyUnavailable counts the dates of r not already covered by an approved request.
func newlyUnavailable(c *models.Collaboration, r *models.UnavailableDayRequest) int {
	covered := make(map[time.Time]bool)
	for _, other := range c.UnavailableDays {
		if other.ID == r.ID || other.IsApproved != models.ApprovalApproved {
			continue
		}
		for _, d := range other.Dates {
			covered[dayOf(d.Date)] = true
		}
	}
	n := 0
	for _, d := range r.Dates {
		day := dayOf(d.Date)
		if covered[day] {
			continue
		}
		covered[day] = true
		n++
	}
	return n
}

func decisionStatus(approve bool) models.ApprovalStatus {
	if approve {
		return models.ApprovalApproved
	}
	return models.ApprovalRejected
}

// DecideUnavailableDays approves or rejects a pending unavailable-days request.
// Only the requester's counterparty may decide. Approval pushes the end date
// out by one weekly occurrence per newly missed session.
func (s *Service) DecideUnavailableDays(ctx context.Context, actorID, collabID, reqID string, approve bool) (*models.Collaboration, error) {
	c, p, side, err := s.openCollaboration(ctx, actorID, collabID)
	if err != nil {
		return nil, err
	}
	r := c.UnavailableRequest(reqID)
	if r == nil {
		return nil, &NotFoundError{Entity: "unavailable days request", ID: reqID}
	}
	if r.IsApproved != models.ApprovalPending {
		return nil, ErrAlreadyDecided
	}
	if side == r.RequestedBy {
		return nil, ErrForbidden
	}

	now := s.now()
	d := models.Decision{Status: decisionStatus(approve), ApprovedByID: actorID, At: now}
	prevEnd := c.EndDate
	var newEnd *time.Time
	if approve {
		if prevEnd == nil {
			return nil, invalid("endDate", "collaboration has no end date")
		}
		end, err := ExtendEndDate(*prevEnd, c.Day(), newlyUnavailable(c, r))
		if err != nil {
			return nil, invalid("selectedSlot.day", err.Error())
		}
		newEnd = &end
	}

	ok, err := s.store.DecideUnavailableDays(ctx, collabID, reqID, d, prevEnd, newEnd)
	if err != nil {
		return nil, fmt.Errorf("decide unavailable days %s: %w", reqID, err)
	}
	if !ok {
		return nil, ErrAlreadyDecided
	}

	r.IsApproved = d.Status
	r.ApprovedByID = actorID
	r.DecidedAt = &now
	if newEnd != nil {
		c.EndDate = newEnd
	}
	c.UpdatedAt = now

	var days []time.Time
	for _, x := range r.Dates {
		days = append(days, x.Date)
	}
	requester, counterpart := p.of(r.RequestedBy), p.of(r.RequestedBy.Other())
	if approve {
		s.notify(ctx, requester, models.NotifyUnavailableApproved, actorID, c.CollaborationID,
			fmt.Sprintf("Sessions on %s are skipped; the last session is now %s", formatDates(days), c.EndDate.Format(dateLayout)))
		return c, nil
	}
	s.notify(ctx, requester, models.NotifyUnavailableRejected, actorID, c.CollaborationID,
		fmt.Sprintf("%s declined skipping the sessions on %s", displayName(counterpart), formatDates(days)))
	s.email(ctx, counterpart, "Unavailable days request declined",
		fmt.Sprintf("Hi %s,\n\nThe request from %s to skip the sessions on %s in collaboration %s was declined. The sessions stay as scheduled.\n",
			displayName(counterpart), displayName(requester), formatDates(days), c.CollaborationID))
	return c, nil
}

// DecideSlotChange approves or rejects a pending temporary slot change. The end
// date is never affected.
func (s *Service) DecideSlotChange(ctx context.Context, actorID, collabID, reqID string, approve bool) (*models.Collaboration, error) {
	c, p, side, err := s.openCollaboration(ctx, actorID, collabID)
	if err != nil {
		return nil, err
	}
	r := c.SlotChangeRequest(reqID)
	if r == nil {
		return nil, &NotFoundError{Entity: "slot change request", ID: reqID}
	}
	if r.IsApproved != models.ApprovalPending {
		return nil, ErrAlreadyDecided
	}
	if side == r.RequestedBy {
		return nil, ErrForbidden
	}

	now := s.now()
	d := models.Decision{Status: decisionStatus(approve), ApprovedByID: actorID, At: now}
	ok, err := s.store.DecideSlotChange(ctx, collabID, reqID, d)
	if err != nil {
		return nil, fmt.Errorf("decide slot change %s: %w", reqID, err)
	}
	if !ok {
		return nil, ErrAlreadyDecided
	}
	r.IsApproved = d.Status
	r.ApprovedByID = actorID
	r.DecidedAt = &now
	c.UpdatedAt = now

	var days []time.Time
	for _, x := range r.Dates {
		days = append(days, x.Date)
	}
	requester, counterpart := p.of(r.RequestedBy), p.of(r.RequestedBy.Other())
	if approve {
		s.notify(ctx, requester, models.NotifySlotChangeApproved, actorID, c.CollaborationID,
			fmt.Sprintf("The new times for %s were approved", formatDates(days)))
		return c, nil
	}
	s.notify(ctx, requester, models.NotifySlotChangeRejected, actorID, c.CollaborationID,
		fmt.Sprintf("%s declined moving the sessions on %s", displayName(counterpart), formatDates(days)))
	s.email(ctx, counterpart, "Slot change request declined",
		fmt.Sprintf("Hi %s,\n\nThe request from %s to move the sessions on %s in collaboration %s was declined. The regular time still applies.\n",
			displayName(counterpart), displayName(requester), formatDates(days), c.CollaborationID))
	return c, nil
}
