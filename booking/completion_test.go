package booking

import (
	"context"
	"errors"
	"testing"

	"mentorly/models"
)

func TestCompleteIfDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCollab(t, func(c *models.Collaboration) {
		end := date(2024, 1, 8)
		c.EndDate = &end
	})

	done, err := f.svc.CompleteIfDue(ctx, c)
	if err != nil || !done {
		t.Fatalf("CompleteIfDue = %v, %v; want true", done, err)
	}
	if !c.IsCompleted || c.CompletedAt == nil {
		t.Error("caller's copy not updated")
	}
	if !f.store.collab(t, c.ID.Hex()).IsCompleted {
		t.Error("completion not stored")
	}
	if f.store.contactsFor(c.CollaborationID) != 0 {
		t.Error("contacts kept after completion")
	}

	stale, err := f.store.Collaboration(ctx, c.ID.Hex())
	if err != nil {
		t.Fatal(err)
	}
	stale.IsCompleted = false
	if done, err := f.svc.CompleteIfDue(ctx, stale); err != nil || done {
		t.Errorf("second completion = %v, %v; want no-op", done, err)
	}
}

func TestCompleteIfDueSkipsOpenAndCancelled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	running := f.seedCollab(t, nil)
	if done, err := f.svc.CompleteIfDue(ctx, running); err != nil || done {
		t.Errorf("running collaboration completed: %v, %v", done, err)
	}
	cancelled := f.seedCollab(t, func(c *models.Collaboration) {
		c.IsCancelled = true
		end := date(2024, 1, 8)
		c.EndDate = &end
	})
	if done, err := f.svc.CompleteIfDue(ctx, cancelled); err != nil || done {
		t.Errorf("cancelled collaboration completed: %v, %v", done, err)
	}
}

func TestSweepCompletions(t *testing.T) {
	f := newFixture(t)
	ended := func(c *models.Collaboration) {
		end := date(2024, 1, 8)
		c.EndDate = &end
	}
	f.seedCollab(t, ended)
	f.seedCollab(t, ended)
	f.seedCollab(t, func(c *models.Collaboration) { c.FeedbackGiven = true })
	f.seedCollab(t, nil)
	f.seedCollab(t, func(c *models.Collaboration) {
		ended(c)
		c.IsCancelled = true
	})

	n, err := f.svc.SweepCompletions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("completed %d, want 3", n)
	}
	if n, _ := f.svc.SweepCompletions(context.Background()); n != 0 {
		t.Errorf("second sweep completed %d", n)
	}
}

func TestSubmitFeedback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCollab(t, nil)
	id := c.ID.Hex()

	if _, err := f.svc.SubmitFeedback(ctx, mentorUserID, id, FeedbackInput{Rating: 5}); !errors.Is(err, ErrForbidden) {
		t.Errorf("mentor feedback: err = %v", err)
	}
	var verr *ValidationError
	if _, err := f.svc.SubmitFeedback(ctx, userID, id, FeedbackInput{Rating: 6}); !errors.As(err, &verr) {
		t.Errorf("rating 6: err = %v", err)
	}

	got, err := f.svc.SubmitFeedback(ctx, userID, id, FeedbackInput{Rating: 4, Comment: "helpful"})
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if !got.FeedbackGiven || !got.IsCompleted || got.Feedback.Rating != 4 {
		t.Errorf("collaboration = %+v", got)
	}
	stored := f.store.collab(t, id)
	if !stored.IsCompleted || stored.Feedback == nil {
		t.Errorf("stored = %+v", stored)
	}
	if f.store.contactsFor(c.CollaborationID) != 0 {
		t.Error("contacts kept after feedback")
	}

	if _, err := f.svc.SubmitFeedback(ctx, userID, id, FeedbackInput{Rating: 3}); !errors.Is(err, ErrFeedbackGiven) {
		t.Errorf("second feedback: err = %v", err)
	}

	cancelled := f.seedCollab(t, func(c *models.Collaboration) { c.IsCancelled = true })
	if _, err := f.svc.SubmitFeedback(ctx, userID, cancelled.ID.Hex(), FeedbackInput{Rating: 3}); !errors.Is(err, ErrCollaborationClosed) {
		t.Errorf("cancelled: err = %v", err)
	}
}

func TestGetAndListCollaborations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCollab(t, nil)
	f.seedCollab(t, func(c *models.Collaboration) { c.UserID = models.NewRef(otherUserID) })

	got, err := f.svc.GetCollaboration(ctx, mentorUserID, c.ID.Hex())
	if err != nil || got.CollaborationID != c.CollaborationID {
		t.Errorf("GetCollaboration = %+v, %v", got, err)
	}
	if _, err := f.svc.GetCollaboration(ctx, outsiderID, c.ID.Hex()); !errors.Is(err, ErrForbidden) {
		t.Errorf("outsider: err = %v", err)
	}

	mine, err := f.svc.ListCollaborations(ctx, userID, "")
	if err != nil || len(mine) != 1 {
		t.Errorf("user list = %d, %v", len(mine), err)
	}
	mentoring, err := f.svc.ListCollaborations(ctx, mentorUserID, "mentor")
	if err != nil || len(mentoring) != 2 {
		t.Errorf("mentor list = %d, %v", len(mentoring), err)
	}
	if _, err := f.svc.ListCollaborations(ctx, userID, "mentor"); err == nil {
		t.Error("non-mentor listed as mentor")
	}
}

func TestListCompletesOnRead(t *testing.T) {
	f := newFixture(t)
	c := f.seedCollab(t, func(c *models.Collaboration) {
		end := date(2024, 1, 8)
		c.EndDate = &end
	})
	out, err := f.svc.ListCollaborations(context.Background(), userID, "user")
	if err != nil || len(out) != 1 {
		t.Fatalf("list = %d, %v", len(out), err)
	}
	if !out[0].IsCompleted || !f.store.collab(t, c.ID.Hex()).IsCompleted {
		t.Error("ended collaboration not completed on read")
	}
}

func TestReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.seedCollab(t, nil)

	data, err := f.svc.Receipt(ctx, userID, c.ID.Hex())
	if err != nil {
		t.Fatalf("Receipt: %v", err)
	}
	if data.User.Email != "ada@example.com" || data.Mentor.Name != "Linus" || data.Currency != "usd" {
		t.Errorf("receipt data = %+v", data)
	}

	unpaid := f.seedCollab(t, func(c *models.Collaboration) { c.Payment = false })
	if _, err := f.svc.Receipt(ctx, userID, unpaid.ID.Hex()); !errors.Is(err, ErrNotPaid) {
		t.Errorf("unpaid: err = %v", err)
	}
}
