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

type emailDoc struct {
	EmailID     string              `bson:"emailId"`
	Subject     string              `bson:"subject"`
	Body        string              `bson:"text"`
	ReceivedAt  time.Time           `bson:"date"`
	Attachments []domain.Attachment `bson:"attachments,omitempty"`
}

type workshopDoc struct {
	WorkshopID  string     `bson:"_id"`
	Title       string     `bson:"title"`
	EmailSecret string     `bson:"emailSecret"`
	Users       []string   `bson:"users"`
	Emails      []emailDoc `bson:"emails"`
	CreatedAt   time.Time  `bson:"createdAt"`
}

func (d workshopDoc) toDomain() *domain.Workshop {
	w := &domain.Workshop{
		WorkshopID:      d.WorkshopID,
		Title:           d.Title,
		EmailSecret:     d.EmailSecret,
		RegisteredUsers: d.Users,
		CreatedAt:       d.CreatedAt.UTC(),
	}
	for _, e := range d.Emails {
		w.Emails = append(w.Emails, domain.Email{
			EmailID:     e.EmailID,
			Subject:     e.Subject,
			Body:        e.Body,
			ReceivedAt:  e.ReceivedAt.UTC(),
			Attachments: e.Attachments,
		})
	}
	return w
}

// WorkshopRepo implements workshops.Repository on MongoDB.
type WorkshopRepo struct {
	col *mongo.Collection
}

// NewWorkshopRepo creates a MongoDB-backed workshop registry.
func NewWorkshopRepo(db *mongo.Database) *WorkshopRepo {
	return &WorkshopRepo{col: db.Collection(WorkshopsCollection)}
}

func (r *WorkshopRepo) Create(ctx context.Context, w *domain.Workshop) error {
	_, err := r.col.InsertOne(ctx, workshopDoc{
		WorkshopID:  w.WorkshopID,
		Title:       w.Title,
		EmailSecret: w.EmailSecret,
		Users:       []string{},
		Emails:      []emailDoc{},
		CreatedAt:   w.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrWorkshopExists
	}
	if err != nil {
		return fmt.Errorf("create workshop: %w", err)
	}
	return nil
}

func (r *WorkshopRepo) FindByID(ctx context.Context, workshopID string) (*domain.Workshop, error) {
	return r.findOne(ctx, bson.M{"_id": workshopID})
}

func (r *WorkshopRepo) FindBySecret(ctx context.Context, secret string) (*domain.Workshop, error) {
	return r.findOne(ctx, bson.M{"emailSecret": secret})
}

func (r *WorkshopRepo) findOne(ctx context.Context, filter bson.M) (*domain.Workshop, error) {
	var doc workshopDoc
	err := r.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrWorkshopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workshop: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *WorkshopRepo) AppendEmail(ctx context.Context, workshopID string, email domain.Email) (*domain.Workshop, error) {
	return r.update(ctx, workshopID, bson.M{"$push": bson.M{"emails": emailDoc{
		EmailID:     email.EmailID,
		Subject:     email.Subject,
		Body:        email.Body,
		ReceivedAt:  email.ReceivedAt.UTC(),
		Attachments: email.Attachments,
	}}})
}

func (r *WorkshopRepo) AddUser(ctx context.Context, workshopID, address string) (*domain.Workshop, error) {
	return r.update(ctx, workshopID, bson.M{"$addToSet": bson.M{"users": address}})
}

func (r *WorkshopRepo) RemoveUser(ctx context.Context, workshopID, address string) (bool, error) {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": workshopID}, bson.M{"$pull": bson.M{"users": address}})
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// update applies one atomic update operator and returns the document as it
// is right after it.
func (r *WorkshopRepo) update(ctx context.Context, workshopID string, update bson.M) (*domain.Workshop, error) {
	var doc workshopDoc
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": workshopID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrWorkshopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update workshop: %w", err)
	}
	return doc.toDomain(), nil
}
