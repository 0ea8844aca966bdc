package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"
	"time"

	"mentorly/models"

	"github.com/go-playground/validator/v10"
)

// Store is the persistence the booking flows run against. Every method that
// receives the ctx handed to RunInTransaction's callback joins that transaction.
type Store interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	InsertMentorRequest(ctx context.Context, req *models.MentorRequest) error
	MentorRequest(ctx context.Context, id string) (*models.MentorRequest, error)
	FindMentorRequests(ctx context.Context, f models.RequestFilter) ([]models.MentorRequest, error)
	AcceptedRequestsForMentor(ctx context.Context, mentorID string) ([]models.MentorRequest, error)
	UpdateMentorRequestStatus(ctx context.Context, id string, from, to models.RequestStatus) (bool, error)
	DeleteMentorRequest(ctx context.Context, id string) error

	InsertCollaboration(ctx context.Context, c *models.Collaboration) error
	Collaboration(ctx context.Context, id string) (*models.Collaboration, error)
	FindCollaborations(ctx context.Context, f models.CollaborationFilter) ([]models.Collaboration, error)
	ActiveCollaborationsForMentor(ctx context.Context, mentorID string, now time.Time) ([]models.Collaboration, error)
	OpenCollaborationsForUser(ctx context.Context, userID string) ([]models.Collaboration, error)
	CompletionCandidates(ctx context.Context, now time.Time, limit int) ([]models.Collaboration, error)
	MarkCancelled(ctx context.Context, id string, c models.Cancellation) (bool, error)
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)
	SetFeedback(ctx context.Context, id string, fb models.Feedback) (bool, error)
	AddUnavailableDays(ctx context.Context, collabID string, r models.UnavailableDayRequest) error
	AddSlotChange(ctx context.Context, collabID string, r models.TemporarySlotChangeRequest) error
	DecideUnavailableDays(ctx context.Context, collabID, reqID string, d models.Decision, prevEnd, newEnd *time.Time) (bool, error)
	DecideSlotChange(ctx context.Context, collabID, reqID string, d models.Decision) (bool, error)

	InsertContacts(ctx context.Context, contacts []models.Contact) error
	DeleteContacts(ctx context.Context, collaborationID string) (int64, error)

	RecordReconciliation(ctx context.Context, r models.Reconciliation) error
}

// Directory resolves people. Mentor profiles carry the UserID of the account
// that acts for the mentor.
type Directory interface {
	User(ctx context.Context, id string) (*models.Profile, error)
	Mentor(ctx context.Context, id string) (*models.Profile, error)
	MentorByUser(ctx context.Context, userID string) (*models.Profile, error)
}

type PaymentGateway interface {
	FindOrCreateCustomer(ctx context.Context, email string) (string, error)
	CreatePaymentIntent(ctx context.Context, p models.PaymentIntentParams) (*models.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	CreateRefund(ctx context.Context, p models.RefundParams) (*models.Refund, error)
}

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Locker hands out short-lived exclusive locks. ok is false when the key is
// already held elsewhere.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

type Config struct {
	Currency       string
	LockTTL        time.Duration
	GatewayTimeout time.Duration
}

type Deps struct {
	Store     Store
	Directory Directory
	Gateway   PaymentGateway
	Notifier  Notifier
	Mailer    Mailer
	Locker    Locker
	Now       func() time.Time
}

type Service struct {
	store    Store
	dir      Directory
	gateway  PaymentGateway
	notifier Notifier
	mailer   Mailer
	locker   Locker
	cfg      Config
	now      func() time.Time
	validate *validator.Validate
}

func NewService(d Deps, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Second
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		store:    d.Store,
		dir:      d.Directory,
		gateway:  d.Gateway,
		notifier: d.Notifier,
		mailer:   d.Mailer,
		locker:   d.Locker,
		cfg:      cfg,
		now:      now,
		validate: v,
	}
}

// check runs struct validation and reports the first failing field.
func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fe.Field(), fmt.Sprintf("failed %q validation", fe.Tag()))
	}
	return invalid("", err.Error())
}

func checkID(field, id string) error {
	if !models.ValidID(id) {
		return invalid(field, "malformed id")
	}
	return nil
}

// lock serializes an operation on key. A locker outage degrades to running
// unlocked; the conditional writes downstream still hold the invariants.
func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, ok, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		log.Printf("[lock] %s unavailable, continuing unlocked: %v", key, err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrBusy
	}
	return release, nil
}

func notFound(entity, id string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

func (s *Service) loadRequest(ctx context.Context, id string) (*models.MentorRequest, error) {
	if err := checkID("requestId", id); err != nil {
		return nil, err
	}
	req, err := s.store.MentorRequest(ctx, id)
	if err != nil {
		return nil, notFound("mentor request", id, err)
	}
	return req, nil
}

func (s *Service) loadCollaboration(ctx context.Context, id string) (*models.Collaboration, error) {
	if err := checkID("collaborationId", id); err != nil {
		return nil, err
	}
	c, err := s.store.Collaboration(ctx, id)
	if err != nil {
		return nil, notFound("collaboration", id, err)
	}
	return c, nil
}

func (s *Service) mentor(ctx context.Context, ref models.Ref) (*models.Profile, error) {
	if ref.Profile != nil && ref.Profile.UserID != "" && ref.Profile.Email != "" {
		return ref.Profile, nil
	}
	p, err := s.dir.Mentor(ctx, ref.ID)
	if err != nil {
		return nil, notFound("mentor", ref.ID, err)
	}
	return p, nil
}

func (s *Service) user(ctx context.Context, ref models.Ref) (*models.Profile, error) {
	if ref.Profile != nil && ref.Profile.Email != "" {
		p := *ref.Profile
		if p.UserID == "" {
			p.UserID = ref.ID
		}
		return &p, nil
	}
	p, err := s.dir.User(ctx, ref.ID)
	if err != nil {
		return nil, notFound("user", ref.ID, err)
	}
	if p.UserID == "" {
		p.UserID = p.ID
	}
	return p, nil
}

// parties resolves both sides of a booking.
type parties struct {
	user   *models.Profile
	mentor *models.Profile
}

func (p parties) of(side models.Side) *models.Profile {
	if side == models.SideMentor {
		return p.mentor
	}
	return p.user
}

func (s *Service) resolveParties(ctx context.Context, userRef, mentorRef models.Ref) (parties, error) {
	u, err := s.user(ctx, userRef)
	if err != nil {
		return parties{}, err
	}
	m, err := s.mentor(ctx, mentorRef)
	if err != nil {
		return parties{}, err
	}
	return parties{user: u, mentor: m}, nil
}

// sideOf reports which participant actorID is, or ErrForbidden.
func (p parties) sideOf(actorID string) (models.Side, error) {
	switch actorID {
	case "":
		return "", ErrForbidden
	case p.user.UserID:
		return models.SideUser, nil
	case p.mentor.UserID:
		return models.SideMentor, nil
	}
	return "", ErrForbidden
}
