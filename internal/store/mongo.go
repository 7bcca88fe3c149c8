// Package store holds the MongoDB repositories and the Redis-backed booking
// session store.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/clinic-api/internal/models"
)

const (
	usersCollection        = "users"
	appointmentsCollection = "appointments"
	contactCollection      = "contact_messages"
)

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = errors.New("an account with this email already exists")

// Connect opens a MongoDB client and checks it is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("store: ping mongo: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the repositories rely on. The partial
// unique index on appointments is what makes double booking impossible.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_email"),
	})
	if err != nil {
		return fmt.Errorf("store: users index: %w", err)
	}

	_, err = db.Collection(appointmentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "date", Value: 1}, {Key: "time", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("uniq_held_slot").
				SetPartialFilterExpression(bson.M{"slotHeld": true}),
		},
		{
			Keys:    bson.D{{Key: "patientId", Value: 1}, {Key: "startTime", Value: -1}},
			Options: options.Index().SetName("patient_start"),
		},
	})
	if err != nil {
		return fmt.Errorf("store: appointments index: %w", err)
	}
	return nil
}

func objectID(hex string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, models.ErrNotFound
	}
	return id, nil
}
