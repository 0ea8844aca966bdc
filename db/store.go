package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mentorly/models"
	"mentorly/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// Store persists mentor requests, collaborations and contacts in MongoDB.
type Store struct {
	client          *mongo.Client
	requests        *mongo.Collection
	collabs         *mongo.Collection
	contacts        *mongo.Collection
	reconciliations *mongo.Collection
}

// NewStore uses the collections bound by Connect.
func NewStore() *Store {
	return &Store{
		client:          Client,
		requests:        MentorRequestsCollection,
		collabs:         CollaborationsCollection,
		contacts:        ContactsCollection,
		reconciliations: ReconciliationsCollection,
	}
}

// RunInTransaction runs fn inside a session transaction. Collection calls made
// with the ctx passed to fn take part in it.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnOpts := options.Transaction().
		SetWriteConcern(writeconcern.Majority()).
		SetReadConcern(readconcern.Snapshot())
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, txnOpts)
	return err
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, models.ErrNotFound
	}
	return oid, nil
}

// refMatch matches a reference field stored as a plain id, an ObjectID or an
// inlined document.
func refMatch(field, id string) bson.M {
	alts := bson.A{bson.M{field: id}, bson.M{field + "._id": id}}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		alts = append(alts, bson.M{field: oid}, bson.M{field + "._id": oid})
	}
	return bson.M{"$or": alts}
}

func and(clauses ...bson.M) bson.M {
	if len(clauses) == 1 {
		return clauses[0]
	}
	a := make(bson.A, len(clauses))
	for i, c := range clauses {
		a[i] = c
	}
	return bson.M{"$and": a}
}

var (
	notCancelled = bson.M{"isCancelled": bson.M{"$ne": true}}
	notCompleted = bson.M{"isCompleted": bson.M{"$ne": true}}
)

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cur, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, id string) (*T, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	var v T
	if err := coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&v); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

// updateOne applies update to the document id matching extra and reports whether it matched.
func updateOne(ctx context.Context, coll *mongo.Collection, id string, extra bson.M, update bson.M) (bool, error) {
	oid, err := objectID(id)
	if err != nil {
		return false, err
	}
	filter := bson.M{"_id": oid}
	for k, v := range extra {
		filter[k] = v
	}
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// Mentor requests

func (s *Store) InsertMentorRequest(ctx context.Context, req *models.MentorRequest) error {
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	_, err := s.requests.InsertOne(ctx, req)
	return err
}

func (s *Store) MentorRequest(ctx context.Context, id string) (*models.MentorRequest, error) {
	return findOne[models.MentorRequest](ctx, s.requests, id)
}

func (s *Store) FindMentorRequests(ctx context.Context, f models.RequestFilter) ([]models.MentorRequest, error) {
	var clauses []bson.M
	if f.MentorID != "" {
		clauses = append(clauses, refMatch("mentorId", f.MentorID))
	}
	if f.UserID != "" {
		clauses = append(clauses, refMatch("userId", f.UserID))
	}
	if f.Status != "" {
		clauses = append(clauses, bson.M{"isAccepted": f.Status})
	}
	filter := bson.M{}
	if len(clauses) > 0 {
		filter = and(clauses...)
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return findAll[models.MentorRequest](ctx, s.requests, filter, opts)
}

func (s *Store) AcceptedRequestsForMentor(ctx context.Context, mentorID string) ([]models.MentorRequest, error) {
	return findAll[models.MentorRequest](ctx, s.requests,
		and(refMatch("mentorId", mentorID), bson.M{"isAccepted": models.RequestAccepted}))
}

func (s *Store) UpdateMentorRequestStatus(ctx context.Context, id string, from, to models.RequestStatus) (bool, error) {
	return updateOne(ctx, s.requests, id, bson.M{"isAccepted": from},
		bson.M{"$set": bson.M{"isAccepted": to, "updatedAt": time.Now().UTC()}})
}

func (s *Store) DeleteMentorRequest(ctx context.Context, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := s.requests.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

// Collaborations

func (s *Store) InsertCollaboration(ctx context.Context, c *models.Collaboration) error {
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.CollaborationID == "" {
		c.CollaborationID = utils.HumanID("COL", c.CreatedAt)
	}
	_, err := s.collabs.InsertOne(ctx, c)
	return err
}

func (s *Store) Collaboration(ctx context.Context, id string) (*models.Collaboration, error) {
	return findOne[models.Collaboration](ctx, s.collabs, id)
}

func (s *Store) FindCollaborations(ctx context.Context, f models.CollaborationFilter) ([]models.Collaboration, error) {
	var clauses []bson.M
	if f.MentorID != "" {
		clauses = append(clauses, refMatch("mentorId", f.MentorID))
	}
	if f.UserID != "" {
		clauses = append(clauses, refMatch("userId", f.UserID))
	}
	filter := bson.M{}
	if len(clauses) > 0 {
		filter = and(clauses...)
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	return findAll[models.Collaboration](ctx, s.collabs, filter, opts)
}

func (s *Store) ActiveCollaborationsForMentor(ctx context.Context, mentorID string, now time.Time) ([]models.Collaboration, error) {
	return findAll[models.Collaboration](ctx, s.collabs, and(
		refMatch("mentorId", mentorID),
		notCancelled,
		bson.M{"$or": bson.A{
			bson.M{"endDate": nil},
			bson.M{"endDate": bson.M{"$gt": now}},
		}},
	))
}

func (s *Store) OpenCollaborationsForUser(ctx context.Context, userID string) ([]models.Collaboration, error) {
	return findAll[models.Collaboration](ctx, s.collabs, and(refMatch("userId", userID), notCancelled, notCompleted))
}

func (s *Store) CompletionCandidates(ctx context.Context, now time.Time, limit int) ([]models.Collaboration, error) {
	filter := and(notCancelled, notCompleted, bson.M{"$or": bson.A{
		bson.M{"feedbackGiven": true},
		bson.M{"endDate": bson.M{"$lte": now}},
	}})
	return findAll[models.Collaboration](ctx, s.collabs, filter, options.Find().SetLimit(int64(limit)))
}

func (s *Store) MarkCancelled(ctx context.Context, id string, c models.Cancellation) (bool, error) {
	set := bson.M{
		"isCancelled":       true,
		"cancelledAt":       c.At,
		"cancelledBy":       c.By,
		"needsManualRefund": c.NeedsManualRefund,
		"updatedAt":         c.At,
	}
	if c.Reason != "" {
		set["cancellationReason"] = c.Reason
	}
	if c.RefundID != "" {
		set["refundId"] = c.RefundID
		set["refundAmount"] = c.RefundAmount
	}
	return updateOne(ctx, s.collabs, id, openFilter, bson.M{"$set": set})
}

func (s *Store) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	return updateOne(ctx, s.collabs, id,
		bson.M{"isCancelled": bson.M{"$ne": true}, "isCompleted": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"isCompleted": true, "completedAt": at, "updatedAt": at}})
}

func (s *Store) SetFeedback(ctx context.Context, id string, fb models.Feedback) (bool, error) {
	return updateOne(ctx, s.collabs, id,
		bson.M{"isCancelled": bson.M{"$ne": true}, "feedbackGiven": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"feedbackGiven": true, "feedback": fb, "updatedAt": fb.CreatedAt}})
}

var openFilter = bson.M{"isCancelled": bson.M{"$ne": true}, "isCompleted": bson.M{"$ne": true}}

// push appends v to the array field of an open collaboration.
func (s *Store) push(ctx context.Context, collabID, field string, v any, at time.Time) error {
	ok, err := updateOne(ctx, s.collabs, collabID, openFilter,
		bson.M{"$push": bson.M{field: v}, "$set": bson.M{"updatedAt": at}})
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) AddUnavailableDays(ctx context.Context, collabID string, r models.UnavailableDayRequest) error {
	return s.push(ctx, collabID, "unavailableDays", r, r.CreatedAt)
}

func (s *Store) AddSlotChange(ctx context.Context, collabID string, r models.TemporarySlotChangeRequest) error {
	return s.push(ctx, collabID, "temporarySlotChanges", r, r.CreatedAt)
}

// decide sets the outcome of the pending sub-request reqID in field via the
// positional operator. extra narrows the match further.
func (s *Store) decide(ctx context.Context, collabID, field, reqID string, d models.Decision, extra, set bson.M) (bool, error) {
	filter := bson.M{
		"isCancelled": bson.M{"$ne": true},
		"isCompleted": bson.M{"$ne": true},
		field: bson.M{"$elemMatch": bson.M{"id": reqID, "isApproved": models.ApprovalPending}},
	}
	for k, v := range extra {
		filter[k] = v
	}
	if set == nil {
		set = bson.M{}
	}
	set[field+".$.isApproved"] = d.Status
	set[field+".$.approvedById"] = d.ApprovedByID
	set[field+".$.decidedAt"] = d.At
	set["updatedAt"] = d.At
	return updateOne(ctx, s.collabs, collabID, filter, bson.M{"$set": set})
}

func (s *Store) DecideUnavailableDays(ctx context.Context, collabID, reqID string, d models.Decision, prevEnd, newEnd *time.Time) (bool, error) {
	var extra, set bson.M
	if newEnd != nil {
		// Guard on the end date that was extended so concurrent approvals cannot both apply.
		extra = bson.M{"endDate": prevEnd}
		set = bson.M{"endDate": *newEnd}
	}
	return s.decide(ctx, collabID, "unavailableDays", reqID, d, extra, set)
}

func (s *Store) DecideSlotChange(ctx context.Context, collabID, reqID string, d models.Decision) (bool, error) {
	return s.decide(ctx, collabID, "temporarySlotChanges", reqID, d, nil, nil)
}

// Contacts

func (s *Store) InsertContacts(ctx context.Context, contacts []models.Contact) error {
	docs := make([]interface{}, len(contacts))
	for i := range contacts {
		if contacts[i].ID.IsZero() {
			contacts[i].ID = primitive.NewObjectID()
		}
		docs[i] = contacts[i]
	}
	_, err := s.contacts.InsertMany(ctx, docs)
	return err
}

func (s *Store) DeleteContacts(ctx context.Context, collaborationID string) (int64, error) {
	res, err := s.contacts.DeleteMany(ctx, bson.M{"collaborationId": collaborationID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) RecordReconciliation(ctx context.Context, r models.Reconciliation) error {
	_, err := s.reconciliations.InsertOne(ctx, r)
	return err
}
