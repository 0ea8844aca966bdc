package booking

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"mentorly/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	userID       = "user-1"
	otherUserID  = "user-2"
	mentorID     = "64b7f0c2a1d3e4f5a6b7c8d9"
	mentorUserID = "mentor-user"
	outsiderID   = "outsider"
)

// memStore keeps everything in maps. Transactions snapshot the state and
// restore it when the callback fails.
type memStore struct {
	mu       sync.Mutex
	requests map[string]models.MentorRequest
	collabs  map[string]models.Collaboration
	contacts []models.Contact
	recs     []models.Reconciliation
	seq      int
	fail     map[string]error

	// interleave runs once at the start of the next transaction, standing in
	// for a write that commits between a read and that transaction.
	interleave func(m *memStore)
}

func newMemStore() *memStore {
	return &memStore{
		requests: make(map[string]models.MentorRequest),
		collabs:  make(map[string]models.Collaboration),
		fail:     make(map[string]error),
	}
}

func (m *memStore) failing(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail[op]
}

func cloneCollab(c models.Collaboration) models.Collaboration {
	c.SelectedSlot = slices.Clone(c.SelectedSlot)
	c.UnavailableDays = slices.Clone(c.UnavailableDays)
	c.TemporarySlotChanges = slices.Clone(c.TemporarySlotChanges)
	return c
}

type memSnapshot struct {
	requests map[string]models.MentorRequest
	collabs  map[string]models.Collaboration
	contacts []models.Contact
}

func (m *memStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	if hook := m.interleave; hook != nil {
		m.interleave = nil
		hook(m)
	}
	snap := memSnapshot{
		requests: make(map[string]models.MentorRequest, len(m.requests)),
		collabs:  make(map[string]models.Collaboration, len(m.collabs)),
		contacts: slices.Clone(m.contacts),
	}
	for k, v := range m.requests {
		snap.requests[k] = v
	}
	for k, v := range m.collabs {
		snap.collabs[k] = cloneCollab(v)
	}
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.requests, m.collabs, m.contacts = snap.requests, snap.collabs, snap.contacts
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) InsertMentorRequest(_ context.Context, req *models.MentorRequest) error {
	if err := m.failing("InsertMentorRequest"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	m.requests[req.ID.Hex()] = *req
	return nil
}

func (m *memStore) MentorRequest(_ context.Context, id string) (*models.MentorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &r, nil
}

func (m *memStore) FindMentorRequests(_ context.Context, f models.RequestFilter) ([]models.MentorRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MentorRequest
	for _, r := range m.requests {
		if f.MentorID != "" && r.MentorID.ID != f.MentorID {
			continue
		}
		if f.UserID != "" && r.UserID.ID != f.UserID {
			continue
		}
		if f.Status != "" && r.IsAccepted != f.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) AcceptedRequestsForMentor(ctx context.Context, mentorID string) ([]models.MentorRequest, error) {
	return m.FindMentorRequests(ctx, models.RequestFilter{MentorID: mentorID, Status: models.RequestAccepted})
}

func (m *memStore) UpdateMentorRequestStatus(_ context.Context, id string, from, to models.RequestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.IsAccepted != from {
		return false, nil
	}
	r.IsAccepted = to
	m.requests[id] = r
	return true, nil
}

func (m *memStore) DeleteMentorRequest(_ context.Context, id string) error {
	if err := m.failing("DeleteMentorRequest"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.requests, id)
	return nil
}

func (m *memStore) InsertCollaboration(_ context.Context, c *models.Collaboration) error {
	if err := m.failing("InsertCollaboration"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.CollaborationID == "" {
		m.seq++
		c.CollaborationID = fmt.Sprintf("COL-%06d", m.seq)
	}
	m.collabs[c.ID.Hex()] = cloneCollab(*c)
	return nil
}

func (m *memStore) Collaboration(_ context.Context, id string) (*models.Collaboration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collabs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c = cloneCollab(c)
	return &c, nil
}

func (m *memStore) filterCollabs(keep func(models.Collaboration) bool) []models.Collaboration {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Collaboration
	for _, c := range m.collabs {
		if keep(c) {
			out = append(out, cloneCollab(c))
		}
	}
	return out
}

func (m *memStore) FindCollaborations(_ context.Context, f models.CollaborationFilter) ([]models.Collaboration, error) {
	return m.filterCollabs(func(c models.Collaboration) bool {
		return (f.MentorID == "" || c.MentorID.ID == f.MentorID) && (f.UserID == "" || c.UserID.ID == f.UserID)
	}), nil
}

func (m *memStore) ActiveCollaborationsForMentor(_ context.Context, mentorID string, now time.Time) ([]models.Collaboration, error) {
	return m.filterCollabs(func(c models.Collaboration) bool {
		return c.MentorID.ID == mentorID && !c.IsCancelled && (c.EndDate == nil || c.EndDate.After(now))
	}), nil
}

func (m *memStore) OpenCollaborationsForUser(_ context.Context, userID string) ([]models.Collaboration, error) {
	return m.filterCollabs(func(c models.Collaboration) bool {
		return c.UserID.ID == userID && !c.IsCancelled && !c.IsCompleted
	}), nil
}

func (m *memStore) CompletionCandidates(_ context.Context, now time.Time, limit int) ([]models.Collaboration, error) {
	out := m.filterCollabs(func(c models.Collaboration) bool {
		return shouldComplete(&c, now)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) update(id string, fn func(c *models.Collaboration) bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collabs[id]
	if !ok {
		return false
	}
	c = cloneCollab(c)
	if !fn(&c) {
		return false
	}
	m.collabs[id] = c
	return true
}

func (m *memStore) MarkCancelled(_ context.Context, id string, cn models.Cancellation) (bool, error) {
	if err := m.failing("MarkCancelled"); err != nil {
		return false, err
	}
	return m.update(id, func(c *models.Collaboration) bool {
		if c.IsCancelled || c.IsCompleted {
			return false
		}
		at := cn.At
		c.IsCancelled = true
		c.CancelledAt = &at
		c.CancelledBy = cn.By
		c.CancellationReason = cn.Reason
		c.RefundID = cn.RefundID
		c.RefundAmount = cn.RefundAmount
		c.NeedsManualRefund = cn.NeedsManualRefund
		return true
	}), nil
}

func (m *memStore) MarkCompleted(_ context.Context, id string, at time.Time) (bool, error) {
	return m.update(id, func(c *models.Collaboration) bool {
		if c.IsCancelled || c.IsCompleted {
			return false
		}
		c.IsCompleted = true
		c.CompletedAt = &at
		return true
	}), nil
}

func (m *memStore) SetFeedback(_ context.Context, id string, fb models.Feedback) (bool, error) {
	return m.update(id, func(c *models.Collaboration) bool {
		if c.FeedbackGiven || c.IsCancelled {
			return false
		}
		c.FeedbackGiven = true
		c.Feedback = &fb
		return true
	}), nil
}

func (m *memStore) AddUnavailableDays(_ context.Context, collabID string, r models.UnavailableDayRequest) error {
	if !m.update(collabID, func(c *models.Collaboration) bool {
		if !c.Active() {
			return false
		}
		c.UnavailableDays = append(c.UnavailableDays, r)
		return true
	}) {
		return models.ErrNotFound
	}
	return nil
}

func (m *memStore) AddSlotChange(_ context.Context, collabID string, r models.TemporarySlotChangeRequest) error {
	if !m.update(collabID, func(c *models.Collaboration) bool {
		if !c.Active() {
			return false
		}
		c.TemporarySlotChanges = append(c.TemporarySlotChanges, r)
		return true
	}) {
		return models.ErrNotFound
	}
	return nil
}

func sameEnd(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (m *memStore) DecideUnavailableDays(_ context.Context, collabID, reqID string, d models.Decision, prevEnd, newEnd *time.Time) (bool, error) {
	return m.update(collabID, func(c *models.Collaboration) bool {
		r := c.UnavailableRequest(reqID)
		if r == nil || r.IsApproved != models.ApprovalPending || !sameEnd(c.EndDate, prevEnd) {
			return false
		}
		at := d.At
		r.IsApproved = d.Status
		r.ApprovedByID = d.ApprovedByID
		r.DecidedAt = &at
		if newEnd != nil {
			end := *newEnd
			c.EndDate = &end
		}
		return true
	}), nil
}

func (m *memStore) DecideSlotChange(_ context.Context, collabID, reqID string, d models.Decision) (bool, error) {
	return m.update(collabID, func(c *models.Collaboration) bool {
		r := c.SlotChangeRequest(reqID)
		if r == nil || r.IsApproved != models.ApprovalPending {
			return false
		}
		at := d.At
		r.IsApproved = d.Status
		r.ApprovedByID = d.ApprovedByID
		r.DecidedAt = &at
		return true
	}), nil
}

func (m *memStore) InsertContacts(_ context.Context, contacts []models.Contact) error {
	if err := m.failing("InsertContacts"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts = append(m.contacts, contacts...)
	return nil
}

func (m *memStore) DeleteContacts(_ context.Context, collaborationID string) (int64, error) {
	if err := m.failing("DeleteContacts"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.contacts)
	m.contacts = slices.DeleteFunc(m.contacts, func(c models.Contact) bool {
		return c.CollaborationID == collaborationID
	})
	return int64(before - len(m.contacts)), nil
}

func (m *memStore) RecordReconciliation(_ context.Context, r models.Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, r)
	return nil
}

func (m *memStore) contactsFor(collaborationID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.contacts {
		if c.CollaborationID == collaborationID {
			n++
		}
	}
	return n
}

func (m *memStore) collab(t *testing.T, id string) models.Collaboration {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collabs[id]
	if !ok {
		t.Fatalf("collaboration %s not stored", id)
	}
	return c
}

type memDirectory struct {
	users   map[string]*models.Profile
	mentors map[string]*models.Profile
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users: map[string]*models.Profile{
			userID:       {ID: userID, UserID: userID, Name: "Ada", Email: "ada@example.com"},
			otherUserID:  {ID: otherUserID, UserID: otherUserID, Name: "Grace", Email: "grace@example.com"},
			mentorUserID: {ID: mentorUserID, UserID: mentorUserID, Name: "Linus", Email: "linus@example.com"},
			outsiderID:   {ID: outsiderID, UserID: outsiderID, Name: "Eve", Email: "eve@example.com"},
		},
		mentors: map[string]*models.Profile{
			mentorID: {ID: mentorID, UserID: mentorUserID, Name: "Linus", Email: "linus@example.com"},
		},
	}
}

func (d *memDirectory) User(_ context.Context, id string) (*models.Profile, error) {
	p, ok := d.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (d *memDirectory) Mentor(_ context.Context, id string) (*models.Profile, error) {
	p, ok := d.mentors[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (d *memDirectory) MentorByUser(_ context.Context, uid string) (*models.Profile, error) {
	for _, p := range d.mentors {
		if p.UserID == uid {
			cp := *p
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

type fakeGateway struct {
	mu        sync.Mutex
	status    string
	intentErr error
	refundErr error
	intents   []models.PaymentIntentParams
	refunds   []models.RefundParams
}

func (g *fakeGateway) FindOrCreateCustomer(_ context.Context, email string) (string, error) {
	return "cus_" + email, nil
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, p models.PaymentIntentParams) (*models.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	g.intents = append(g.intents, p)
	status := g.status
	if status == "" {
		status = models.PaymentIntentSucceeded
	}
	return &models.PaymentIntent{
		ID:       fmt.Sprintf("pi_%d", len(g.intents)),
		Status:   status,
		Amount:   p.Amount,
		Currency: p.Currency,
	}, nil
}

func (g *fakeGateway) GetPaymentIntent(_ context.Context, id string) (*models.PaymentIntent, error) {
	return &models.PaymentIntent{ID: id, Status: models.PaymentIntentSucceeded}, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, p models.RefundParams) (*models.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, p)
	return &models.Refund{ID: fmt.Sprintf("re_%d", len(g.refunds)), Status: "succeeded", Amount: p.Amount}, nil
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type notifyRecorder struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *notifyRecorder) Notify(_ context.Context, note models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return nil
}

func (n *notifyRecorder) to(uid string, typ models.NotificationType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.UserID == uid && s.Type == typ {
			c++
		}
	}
	return c
}

type sentMail struct {
	to, subject string
}

type mailRecorder struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *mailRecorder) SendEmail(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to: to, subject: subject})
	return nil
}

func (m *mailRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mailRecorder) sentTo(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := 0
	for _, s := range m.sent {
		if s.to == addr {
			c++
		}
	}
	return c
}

// heldLocker reports every key in held as taken.
type heldLocker struct {
	held map[string]bool
}

func (l heldLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	if l.held[key] {
		return nil, false, nil
	}
	return func() {}, true, nil
}

type fixture struct {
	svc   *Service
	store *memStore
	dir   *memDirectory
	gw    *fakeGateway
	notes *notifyRecorder
	mail  *mailRecorder
	now   time.Time
}

// Wednesday 2024-01-10 12:00 UTC.
var testNow = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newMemStore(),
		dir:   newMemDirectory(),
		gw:    &fakeGateway{},
		notes: &notifyRecorder{},
		mail:  &mailRecorder{},
		now:   testNow,
	}
	f.svc = f.build(nil)
	return f
}

func (f *fixture) build(locker Locker) *Service {
	return NewService(Deps{
		Store:     f.store,
		Directory: f.dir,
		Gateway:   f.gw,
		Notifier:  f.notes,
		Mailer:    f.mail,
		Locker:    locker,
		Now:       func() time.Time { return f.now },
	}, Config{Currency: "usd", GatewayTimeout: time.Second})
}

func (f *fixture) seedRequest(t *testing.T, user string, status models.RequestStatus, day, at string) string {
	t.Helper()
	req := &models.MentorRequest{
		MentorID:     models.NewRef(mentorID),
		UserID:       models.NewRef(user),
		SelectedSlot: models.RequestSlot{Day: day, TimeSlots: models.FlexStrings{at}},
		Price:        100,
		TimePeriod:   4,
		IsAccepted:   status,
		CreatedAt:    f.now,
	}
	if err := f.store.InsertMentorRequest(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	return req.ID.Hex()
}

// seedCollab stores a paid Monday 10:00 AM collaboration between userID and
// the mentor running 2024-01-08 to 2024-01-29, with chat contacts.
func (f *fixture) seedCollab(t *testing.T, mutate func(c *models.Collaboration)) *models.Collaboration {
	t.Helper()
	end := time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC)
	c := &models.Collaboration{
		MentorID:        models.NewRef(mentorID),
		UserID:          models.NewRef(userID),
		SelectedSlot:    []models.Slot{{Day: "Monday", TimeSlots: []string{"10:00 AM"}}},
		Price:           100,
		Payment:         true,
		PaymentIntentID: "pi_seed",
		StartDate:       time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		EndDate:         &end,
		CreatedAt:       f.now,
	}
	if mutate != nil {
		mutate(c)
	}
	ctx := context.Background()
	if err := f.store.InsertCollaboration(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := f.store.InsertContacts(ctx, []models.Contact{
		{OwnerID: c.UserID.ID, ContactID: mentorUserID, CollaborationID: c.CollaborationID},
		{OwnerID: mentorUserID, ContactID: c.UserID.ID, CollaborationID: c.CollaborationID},
	}); err != nil {
		t.Fatal(err)
	}
	return c
}
