package booking

import (
	"context"
	"log"

	"mentorly/models"
)

// Notifications and emails are sent after the booking state is committed.
// Their failures are logged and never undo that state.

func (s *Service) notify(ctx context.Context, to *models.Profile, typ models.NotificationType, senderID, relatedID, content string) {
	if s.notifier == nil || to == nil || to.UserID == "" {
		return
	}
	n := models.Notification{
		UserID:        to.UserID,
		Type:          typ,
		SenderID:      senderID,
		RelatedID:     relatedID,
		ContentType:   "booking",
		CustomContent: content,
		CreatedAt:     s.now(),
	}
	if err := s.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		log.Printf("[notify] %s to %s failed: %v", typ, to.UserID, err)
	}
}

func (s *Service) email(ctx context.Context, to *models.Profile, subject, body string) {
	if s.mailer == nil || to == nil {
		return
	}
	if to.Email == "" {
		log.Printf("[email] %q not sent: no address for %s", subject, to.ID)
		return
	}
	if err := s.mailer.SendEmail(context.WithoutCancel(ctx), to.Email, subject, body); err != nil {
		log.Printf("[email] %q to %s failed: %v", subject, to.Email, err)
	}
}

func displayName(p *models.Profile) string {
	if p == nil {
		return "someone"
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}
