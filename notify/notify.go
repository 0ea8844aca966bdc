// Package notify stores in-app notifications and relays them to live connections.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"mentorly/models"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

const channel = "notifications"

// Pusher delivers a payload to a user's open connections.
type Pusher interface {
	Push(userID string, data []byte)
}

// Service persists each notification and fans it out. With Redis configured the
// fan-out goes through pub/sub so every instance reaches its own sockets;
// without it the local pusher is called directly.
type Service struct {
	coll *mongo.Collection
	rdb  *redis.Client
	push Pusher
}

func NewService(coll *mongo.Collection, rdb *redis.Client, push Pusher) *Service {
	return &Service{coll: coll, rdb: rdb, push: push}
}

func (s *Service) Notify(ctx context.Context, n models.Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if s.coll != nil {
		if _, err := s.coll.InsertOne(ctx, n); err != nil {
			return fmt.Errorf("store notification: %w", err)
		}
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if s.rdb != nil {
		err := s.rdb.Publish(ctx, channel, data).Err()
		if err == nil {
			return nil
		}
		log.Printf("[notify] publish failed, delivering locally: %v", err)
	}
	if s.push != nil {
		s.push.Push(n.UserID, data)
	}
	return nil
}

// Relay forwards published notifications to the local pusher until ctx ends.
func (s *Service) Relay(ctx context.Context) {
	if s.rdb == nil || s.push == nil {
		return
	}
	sub := s.rdb.Subscribe(ctx, channel)
	defer sub.Close()
	ch := sub.Channel()

	log.Println("[notify] relaying notifications")
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.deliver([]byte(msg.Payload))
		}
	}
}

func (s *Service) deliver(payload []byte) {
	var n struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(payload, &n); err != nil || n.UserID == "" {
		log.Printf("[notify] dropping malformed payload: %v", err)
		return
	}
	s.push.Push(n.UserID, payload)
}
