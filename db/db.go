package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	Client *mongo.Client

	MentorRequestsCollection  *mongo.Collection
	CollaborationsCollection  *mongo.Collection
	ContactsCollection        *mongo.Collection
	NotificationsCollection   *mongo.Collection
	IdempotencyCollection     *mongo.Collection
	ReconciliationsCollection *mongo.Collection
	UserCollection            *mongo.Collection
	MentorsCollection         *mongo.Collection
)

// Connect opens the MongoDB client and binds the collections of database name.
func Connect(ctx context.Context, uri, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping MongoDB: %w", err)
	}
	Client = client
	Bind(client.Database(name))
	return nil
}

// Bind points the package collections at database.
func Bind(database *mongo.Database) {
	MentorRequestsCollection = database.Collection("mentorrequests")
	CollaborationsCollection = database.Collection("collaborations")
	ContactsCollection = database.Collection("contacts")
	NotificationsCollection = database.Collection("notifications")
	IdempotencyCollection = database.Collection("idempotency")
	ReconciliationsCollection = database.Collection("payment_reconciliations")
	UserCollection = database.Collection("users")
	MentorsCollection = database.Collection("mentors")
}

func Disconnect(ctx context.Context) {
	if Client == nil {
		return
	}
	if err := Client.Disconnect(ctx); err != nil {
		log.Printf("MongoDB disconnect: %v", err)
	}
}

// EnsureIndexes creates the indexes the booking flows rely on.
func EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	specs := []struct {
		coll    *mongo.Collection
		indexes []mongo.IndexModel
	}{
		{MentorRequestsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "mentorId", Value: 1}, {Key: "isAccepted", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{CollaborationsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "collaborationId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{
				Keys: bson.D{{Key: "paymentIntentId", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"paymentIntentId": bson.M{"$type": "string"}}),
			},
			{Keys: bson.D{{Key: "mentorId", Value: 1}, {Key: "isCancelled", Value: 1}, {Key: "endDate", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "isCancelled", Value: 1}, {Key: "isCompleted", Value: 1}}},
			{Keys: bson.D{{Key: "isCompleted", Value: 1}, {Key: "endDate", Value: 1}}},
		}},
		{ContactsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "collaborationId", Value: 1}}},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "contactId", Value: 1}}},
		}},
		{NotificationsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{IdempotencyCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "key", Value: 1}, {Key: "userid", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		}},
		{ReconciliationsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "resolved", Value: 1}, {Key: "createdAt", Value: 1}}},
		}},
	}
	for _, s := range specs {
		if _, err := s.coll.Indexes().CreateMany(ctx, s.indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", s.coll.Name(), err)
		}
	}
	return nil
}

// IsDuplicateKeyError reports a unique index violation.
func IsDuplicateKeyError(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}
