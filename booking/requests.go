package booking

import (
	"context"
	"fmt"

	"mentorly/models"
)

type CreateRequestInput struct {
	MentorID   string             `json:"mentorId" validate:"required"`
	Day        string             `json:"day" validate:"required"`
	TimeSlots  models.FlexStrings `json:"timeSlots" validate:"required,min=1,dive,required"`
	Price      float64            `json:"price" validate:"gte=0"`
	TimePeriod int                `json:"timePeriod" validate:"required,min=1,max=52"`
}

// CreateMentorRequest proposes a recurring slot to a mentor.
func (s *Service) CreateMentorRequest(ctx context.Context, actorID string, in CreateRequestInput) (*models.MentorRequest, error) {
	if actorID == "" {
		return nil, ErrForbidden
	}
	if err := s.check(in); err != nil {
		return nil, err
	}
	if _, err := parseWeekday(in.Day); err != nil {
		return nil, invalid("day", err.Error())
	}

	mentor, err := s.mentor(ctx, models.NewRef(in.MentorID))
	if err != nil {
		return nil, err
	}
	if mentor.UserID == actorID {
		return nil, invalid("mentorId", "cannot request a session with yourself")
	}

	pending, err := s.store.FindMentorRequests(ctx, models.RequestFilter{
		MentorID: in.MentorID,
		UserID:   actorID,
		Status:   models.RequestPending,
	})
	if err != nil {
		return nil, fmt.Errorf("find pending requests: %w", err)
	}
	for _, p := range pending {
		if normalize(p.SelectedSlot.Day) == normalize(in.Day) &&
			normalize(p.SelectedSlot.TimeSlots.First()) == normalize(in.TimeSlots.First()) {
			return nil, ErrDuplicateRequest
		}
	}

	now := s.now()
	req := &models.MentorRequest{
		MentorID:      models.NewRef(in.MentorID),
		UserID:        models.NewRef(actorID),
		SelectedSlot:  models.RequestSlot{Day: in.Day, TimeSlots: in.TimeSlots},
		Price:         in.Price,
		TimePeriod:    in.TimePeriod,
		PaymentStatus: "Pending",
		IsAccepted:    models.RequestPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertMentorRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("insert mentor request: %w", err)
	}

	s.notify(ctx, mentor, models.NotifyRequestReceived, actorID, req.ID.Hex(),
		fmt.Sprintf("New session request for %s at %s", in.Day, in.TimeSlots.First()))
	return req, nil
}

// requestForMentor loads a request and checks that actorID acts for its mentor.
func (s *Service) requestForMentor(ctx context.Context, actorID, requestID string) (*models.MentorRequest, parties, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, parties{}, err
	}
	p, err := s.resolveParties(ctx, req.UserID, req.MentorID)
	if err != nil {
		return nil, parties{}, err
	}
	if actorID == "" || p.mentor.UserID != actorID {
		return nil, parties{}, ErrForbidden
	}
	return req, p, nil
}

// Accept moves a pending request to Accepted once neither party's calendar
// already holds the slot. Acceptances for one mentor are serialized.
func (s *Service) Accept(ctx context.Context, actorID, requestID string) (*models.MentorRequest, error) {
	req, p, err := s.requestForMentor(ctx, actorID, requestID)
	if err != nil {
		return nil, err
	}
	if req.IsAccepted != models.RequestPending {
		return nil, ErrInvalidTransition
	}
	day, t := req.SelectedSlot.Day, req.SelectedSlot.TimeSlots.First()
	if _, err := parseWeekday(day); err != nil {
		return nil, invalid("selectedSlot.day", err.Error())
	}
	if t == "" {
		return nil, invalid("selectedSlot.timeSlots", "no time selected")
	}

	release, err := s.lock(ctx, "accept:mentor:"+req.MentorID.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	clash, err := s.HasMentorConflict(ctx, req.MentorID.ID, day, t)
	if err != nil {
		return nil, err
	}
	if clash {
		return nil, &ConflictError{Party: PartyMentor, Day: day, Time: t}
	}
	clash, err = s.HasUserConflict(ctx, req.UserID.ID, day, t)
	if err != nil {
		return nil, err
	}
	if clash {
		return nil, &ConflictError{Party: PartyUser, Day: day, Time: t}
	}

	ok, err := s.store.UpdateMentorRequestStatus(ctx, requestID, models.RequestPending, models.RequestAccepted)
	if err != nil {
		return nil, fmt.Errorf("accept request %s: %w", requestID, err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	req.IsAccepted = models.RequestAccepted
	req.UpdatedAt = s.now()

	s.notify(ctx, p.user, models.NotifyRequestAccepted, actorID, requestID,
		fmt.Sprintf("%s accepted your request for %s at %s", displayName(p.mentor), day, t))
	s.email(ctx, p.user, "Your mentorship request was accepted",
		fmt.Sprintf("Hi %s,\n\n%s accepted your request for %s sessions at %s (%d sessions).\nComplete the payment to confirm the booking.\n",
			displayName(p.user), displayName(p.mentor), day, t, req.TimePeriod))
	s.email(ctx, p.mentor, "You accepted a mentorship request",
		fmt.Sprintf("Hi %s,\n\nYou accepted %s's request for %s sessions at %s. The slot is held until payment is made.\n",
			displayName(p.mentor), displayName(p.user), day, t))
	return req, nil
}

// Reject ends a pending request.
func (s *Service) Reject(ctx context.Context, actorID, requestID string) (*models.MentorRequest, error) {
	req, p, err := s.requestForMentor(ctx, actorID, requestID)
	if err != nil {
		return nil, err
	}
	if req.IsAccepted != models.RequestPending {
		return nil, ErrInvalidTransition
	}
	ok, err := s.store.UpdateMentorRequestStatus(ctx, requestID, models.RequestPending, models.RequestRejected)
	if err != nil {
		return nil, fmt.Errorf("reject request %s: %w", requestID, err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}
	req.IsAccepted = models.RequestRejected
	req.UpdatedAt = s.now()

	day, t := req.SelectedSlot.Day, req.SelectedSlot.TimeSlots.First()
	s.notify(ctx, p.user, models.NotifyRequestRejected, actorID, requestID,
		fmt.Sprintf("%s declined your request for %s at %s", displayName(p.mentor), day, t))
	s.email(ctx, p.user, "Your mentorship request was declined",
		fmt.Sprintf("Hi %s,\n\n%s is not able to take your request for %s sessions at %s. You can pick another slot or mentor.\n",
			displayName(p.user), displayName(p.mentor), day, t))
	s.email(ctx, p.mentor, "You declined a mentorship request",
		fmt.Sprintf("Hi %s,\n\nYou declined %s's request for %s sessions at %s.\n",
			displayName(p.mentor), displayName(p.user), day, t))
	return req, nil
}

// ListMentorRequests returns the actor's requests, either as the requesting
// user or, with role "mentor", as the mentor being asked.
func (s *Service) ListMentorRequests(ctx context.Context, actorID, role string, status models.RequestStatus) ([]models.MentorRequest, error) {
	if actorID == "" {
		return nil, ErrForbidden
	}
	f := models.RequestFilter{Status: status}
	switch role {
	case "", "user":
		f.UserID = actorID
	case "mentor":
		m, err := s.dir.MentorByUser(ctx, actorID)
		if err != nil {
			return nil, notFound("mentor for user", actorID, err)
		}
		f.MentorID = m.ID
	default:
		return nil, invalid("role", "must be user or mentor")
	}
	switch status {
	case "", models.RequestPending, models.RequestAccepted, models.RequestRejected:
	default:
		return nil, invalid("status", "unknown status")
	}
	reqs, err := s.store.FindMentorRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list mentor requests: %w", err)
	}
	return reqs, nil
}
