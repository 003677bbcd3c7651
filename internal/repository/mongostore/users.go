package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ignite/workshop-mailer/internal/domain"
)

type userDoc struct {
	Address         string                `bson:"_id"`
	IsConfirmed     bool                  `bson:"isConfirmed"`
	ConfirmationKey string                `bson:"confirmationKey"`
	Attributes      domain.UserAttributes `bson:"attributes"`
	Delivered       []string              `bson:"deliveredEmailIds"`
	CreatedAt       time.Time             `bson:"createdAt"`
}

func (d userDoc) toDomain() *domain.User {
	return &domain.User{
		Address:           d.Address,
		IsConfirmed:       d.IsConfirmed,
		ConfirmationKey:   d.ConfirmationKey,
		Attributes:        d.Attributes,
		DeliveredEmailIDs: d.Delivered,
		CreatedAt:         d.CreatedAt.UTC(),
	}
}

// UserRepo implements users.Repository on MongoDB.
type UserRepo struct {
	col *mongo.Collection
	now func() time.Time
}

// NewUserRepo creates a MongoDB-backed user directory.
func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{
		col: db.Collection(UsersCollection),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *UserRepo) FindByAddress(ctx context.Context, address string) (*domain.User, error) {
	var doc userDoc
	err := r.col.FindOne(ctx, bson.M{"_id": address}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return doc.toDomain(), nil
}

// CreateUnconfirmed upserts on {_id, isConfirmed:false}. When a confirmed
// document owns the address the filter misses and the implied insert hits
// the _id index, so a duplicate key means the user is already confirmed.
// Two racing first signups can also collide on insert; the retry then finds
// the winner's unconfirmed document and updates it.
func (r *UserRepo) CreateUnconfirmed(ctx context.Context, address string, attrs domain.UserAttributes, key string) error {
	filter := bson.M{"_id": address, "isConfirmed": false}
	update := bson.M{
		"$set": bson.M{
			"confirmationKey": key,
			"attributes":      attrs,
		},
		"$setOnInsert": bson.M{
			"deliveredEmailIds": []string{},
			"createdAt":         r.now(),
		},
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		_, err = r.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrUserAlreadyConfirmed
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *UserRepo) Confirm(ctx context.Context, address, key string) (bool, error) {
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": address, "confirmationKey": key, "isConfirmed": false},
		bson.M{"$set": bson.M{"isConfirmed": true}},
	)
	if err != nil {
		return false, fmt.Errorf("confirm user: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (r *UserRepo) RecordDelivery(ctx context.Context, address string, emailIDs []string) error {
	if len(emailIDs) == 0 {
		return nil
	}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": address},
		bson.M{"$addToSet": bson.M{"deliveredEmailIds": bson.M{"$each": emailIDs}}},
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
