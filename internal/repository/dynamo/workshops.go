package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/workshop-mailer/internal/domain"
)

const (
	attrWorkshopID = "workshopId"
	secretPrefix   = "secret#"
)

type workshopItem struct {
	WorkshopID  string         `dynamodbav:"workshopId"`
	Title       string         `dynamodbav:"title,omitempty"`
	EmailSecret string         `dynamodbav:"emailSecret"`
	Users       []string       `dynamodbav:"users,stringset,omitempty"`
	Emails      []domain.Email `dynamodbav:"emails"`
	CreatedAt   time.Time      `dynamodbav:"createdAt"`
}

type secretItem struct {
	Key   string `dynamodbav:"workshopId"`
	Owner string `dynamodbav:"owner"`
}

func (it workshopItem) toDomain() *domain.Workshop {
	users := append([]string(nil), it.Users...)
	sort.Strings(users)
	return &domain.Workshop{
		WorkshopID:      it.WorkshopID,
		Title:           it.Title,
		EmailSecret:     it.EmailSecret,
		RegisteredUsers: users,
		Emails:          it.Emails,
		CreatedAt:       it.CreatedAt.UTC(),
	}
}

// WorkshopRepo implements workshops.Repository on DynamoDB. Members live in
// a string set, so the roster is returned sorted rather than in join order.
type WorkshopRepo struct {
	api   API
	table string
}

// NewWorkshopRepo creates a DynamoDB-backed workshop registry.
func NewWorkshopRepo(api API, table string) *WorkshopRepo {
	return &WorkshopRepo{api: api, table: table}
}

func (r *WorkshopRepo) key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrWorkshopID: str(id)}
}

// Create writes the workshop and its secret claim in one transaction.
func (r *WorkshopRepo) Create(ctx context.Context, w *domain.Workshop) error {
	item, err := attributevalue.MarshalMap(workshopItem{
		WorkshopID:  w.WorkshopID,
		Title:       w.Title,
		EmailSecret: w.EmailSecret,
		Emails:      []domain.Email{},
		CreatedAt:   w.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling workshop: %w", err)
	}
	claim, err := attributevalue.MarshalMap(secretItem{Key: secretPrefix + w.EmailSecret, Owner: w.WorkshopID})
	if err != nil {
		return fmt.Errorf("marshaling secret claim: %w", err)
	}
	notExists := aws.String("attribute_not_exists(workshopId)")

	_, err = r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(r.table), Item: item, ConditionExpression: notExists}},
			{Put: &types.Put{TableName: aws.String(r.table), Item: claim, ConditionExpression: notExists}},
		},
	})
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, reason := range canceled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return domain.ErrWorkshopExists
			}
		}
	}
	if err != nil {
		return fmt.Errorf("creating workshop: %w", err)
	}
	return nil
}

func (r *WorkshopRepo) FindByID(ctx context.Context, workshopID string) (*domain.Workshop, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(workshopID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting workshop: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrWorkshopNotFound
	}
	return decodeWorkshop(out.Item)
}

// FindBySecret follows the secret claim to its workshop. Both reads are
// strongly consistent, which a secondary index could not offer.
func (r *WorkshopRepo) FindBySecret(ctx context.Context, secret string) (*domain.Workshop, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(secretPrefix + secret),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting secret claim: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrWorkshopNotFound
	}
	var claim secretItem
	if err := attributevalue.UnmarshalMap(out.Item, &claim); err != nil {
		return nil, fmt.Errorf("unmarshaling secret claim: %w", err)
	}
	return r.FindByID(ctx, claim.Owner)
}

func (r *WorkshopRepo) AppendEmail(ctx context.Context, workshopID string, email domain.Email) (*domain.Workshop, error) {
	av, err := attributevalue.Marshal([]domain.Email{email})
	if err != nil {
		return nil, fmt.Errorf("marshaling email: %w", err)
	}
	return r.update(ctx, workshopID,
		"SET emails = list_append(if_not_exists(emails, :empty), :e)",
		map[string]types.AttributeValue{
			":e":     av,
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		})
}

func (r *WorkshopRepo) AddUser(ctx context.Context, workshopID, address string) (*domain.Workshop, error) {
	return r.update(ctx, workshopID, "ADD users :u", map[string]types.AttributeValue{
		":u": &types.AttributeValueMemberSS{Value: []string{address}},
	})
}

// RemoveUser deletes address from the member set and inspects the set as it
// was before the update to tell whether anything changed.
func (r *WorkshopRepo) RemoveUser(ctx context.Context, workshopID, address string) (bool, error) {
	out, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 r.key(workshopID),
		UpdateExpression:    aws.String("DELETE users :u"),
		ConditionExpression: aws.String("attribute_exists(workshopId)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": &types.AttributeValueMemberSS{Value: []string{address}},
		},
		ReturnValues: types.ReturnValueUpdatedOld,
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("removing member: %w", err)
	}
	old, ok := out.Attributes["users"].(*types.AttributeValueMemberSS)
	if !ok {
		return false, nil
	}
	for _, u := range old.Value {
		if u == address {
			return true, nil
		}
	}
	return false, nil
}

func (r *WorkshopRepo) update(ctx context.Context, workshopID, expr string, values map[string]types.AttributeValue) (*domain.Workshop, error) {
	out, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       r.key(workshopID),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(workshopId)"),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		return nil, domain.ErrWorkshopNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("updating workshop: %w", err)
	}
	return decodeWorkshop(out.Attributes)
}

func decodeWorkshop(av map[string]types.AttributeValue) (*domain.Workshop, error) {
	var item workshopItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling workshop: %w", err)
	}
	return item.toDomain(), nil
}
