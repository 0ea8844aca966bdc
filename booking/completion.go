package booking

import (
	"context"
	"fmt"
	"log"
	"time"

	"mentorly/models"
)

const sweepBatch = 200

func shouldComplete(c *models.Collaboration, now time.Time) bool {
	if c.IsCancelled || c.IsCompleted {
		return false
	}
	return c.FeedbackGiven || (c.EndDate != nil && !c.EndDate.After(now))
}

// CompleteIfDue marks c completed when feedback was given or its last session
// has passed, and revokes the chat contacts in the same transaction. The write
// is conditional on c still being open, so running it twice is a no-op.
func (s *Service) CompleteIfDue(ctx context.Context, c *models.Collaboration) (bool, error) {
	now := s.now()
	if !shouldComplete(c, now) {
		return false, nil
	}
	var done bool
	err := s.store.RunInTransaction(ctx, func(tx context.Context) error {
		ok, err := s.store.MarkCompleted(tx, c.ID.Hex(), now)
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		done = ok
		if !ok {
			return nil
		}
		if _, err := s.store.DeleteContacts(tx, c.CollaborationID); err != nil {
			return fmt.Errorf("delete contacts: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("complete collaboration %s: %w", c.CollaborationID, err)
	}
	if done {
		c.IsCompleted = true
		c.CompletedAt = &now
		c.UpdatedAt = now
	}
	return done, nil
}

// completeOnRead runs the completion check for a read path. A failure only
// leaves the collaboration open until the next read or sweep.
func (s *Service) completeOnRead(ctx context.Context, c *models.Collaboration) {
	if _, err := s.CompleteIfDue(ctx, c); err != nil {
		log.Printf("[complete] %v", err)
	}
}

// GetCollaboration returns one collaboration to either of its participants.
func (s *Service) GetCollaboration(ctx context.Context, actorID, id string) (*models.Collaboration, error) {
	c, err := s.loadCollaboration(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveParties(ctx, c.UserID, c.MentorID)
	if err != nil {
		return nil, err
	}
	if _, err := p.sideOf(actorID); err != nil {
		return nil, err
	}
	s.completeOnRead(ctx, c)
	return c, nil
}

// ListCollaborations returns the actor's collaborations as user or, with role
// "mentor", as the mentor.
func (s *Service) ListCollaborations(ctx context.Context, actorID, role string) ([]models.Collaboration, error) {
	if actorID == "" {
		return nil, ErrForbidden
	}
	var f models.CollaborationFilter
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
	out, err := s.store.FindCollaborations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list collaborations: %w", err)
	}
	for i := range out {
		s.completeOnRead(ctx, &out[i])
	}
	return out, nil
}

// SweepCompletions completes every collaboration that is due. It is the
// scheduled counterpart of the read-time check.
func (s *Service) SweepCompletions(ctx context.Context) (int, error) {
	due, err := s.store.CompletionCandidates(ctx, s.now(), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("find completion candidates: %w", err)
	}
	n := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := s.CompleteIfDue(ctx, &due[i])
		if err != nil {
			log.Printf("[cron] %v", err)
			continue
		}
		if ok {
			n++
		}
	}
	return n, nil
}

type FeedbackInput struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// SubmitFeedback records the user's rating. Feedback closes the collaboration.
func (s *Service) SubmitFeedback(ctx context.Context, actorID, id string, in FeedbackInput) (*models.Collaboration, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	c, err := s.loadCollaboration(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.resolveParties(ctx, c.UserID, c.MentorID)
	if err != nil {
		return nil, err
	}
	side, err := p.sideOf(actorID)
	if err != nil {
		return nil, err
	}
	if side != models.SideUser {
		return nil, ErrForbidden
	}
	switch {
	case c.IsCancelled:
		return nil, ErrCollaborationClosed
	case !c.Payment:
		return nil, ErrNotPaid
	case c.FeedbackGiven:
		return nil, ErrFeedbackGiven
	}

	fb := models.Feedback{Rating: in.Rating, Comment: in.Comment, CreatedAt: s.now()}
	ok, err := s.store.SetFeedback(ctx, id, fb)
	if err != nil {
		return nil, fmt.Errorf("set feedback on %s: %w", id, err)
	}
	if !ok {
		return nil, ErrFeedbackGiven
	}
	c.FeedbackGiven = true
	c.Feedback = &fb
	c.UpdatedAt = fb.CreatedAt
	s.completeOnRead(ctx, c)
	return c, nil
}

// ReceiptData is what a payment receipt is rendered from.
type ReceiptData struct {
	Collaboration *models.Collaboration
	User          *models.Profile
	Mentor        *models.Profile
	Currency      string
}

// Receipt gathers the data for a paid collaboration's receipt.
func (s *Service) Receipt(ctx context.Context, actorID, id string) (*ReceiptData, error) {
	c, err := s.GetCollaboration(ctx, actorID, id)
	if err != nil {
		return nil, err
	}
	if !c.Payment {
		return nil, ErrNotPaid
	}
	p, err := s.resolveParties(ctx, c.UserID, c.MentorID)
	if err != nil {
		return nil, err
	}
	return &ReceiptData{Collaboration: c, User: p.user, Mentor: p.mentor, Currency: s.cfg.Currency}, nil
}
