package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/clinic-api/internal/models"
)

type UserRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{coll: db.Collection(usersCollection)}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailTaken
		}
		return fmt.Errorf("store: insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// FindDoctor returns the user only if it has the doctor role.
func (r *UserRepository) FindDoctor(ctx context.Context, id string) (*models.User, error) {
	oid, err := objectID(id)
	if err != nil {
		return nil, err
	}
	return r.findOne(ctx, bson.M{"_id": oid, "role": models.RoleDoctor})
}

func (r *UserRepository) ListDoctors(ctx context.Context, specialty string) ([]models.User, error) {
	filter := bson.M{"role": models.RoleDoctor}
	if specialty != "" {
		filter["specialty"] = specialty
	}
	cursor, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "fullName", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("store: find doctors: %w", err)
	}
	defer cursor.Close(ctx)

	doctors := make([]models.User, 0)
	if err := cursor.All(ctx, &doctors); err != nil {
		return nil, fmt.Errorf("store: decode doctors: %w", err)
	}
	return doctors, nil
}

// UpdateProfile sets the given fields. Only fullName and phone are accepted.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, fullName, phone string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	set := bson.M{}
	if fullName != "" {
		set["fullName"] = fullName
	}
	if phone != "" {
		set["phone"] = phone
	}
	if len(set) == 0 {
		return nil
	}
	result, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("store: update user: %w", err)
	}
	if result.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := r.coll.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find user: %w", err)
	}
	return &user, nil
}
