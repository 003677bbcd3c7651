package dynamo

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ignite/workshop-mailer/internal/domain"
)

const attrAddress = "address"

type userItem struct {
	Address         string                `dynamodbav:"address"`
	IsConfirmed     bool                  `dynamodbav:"isConfirmed"`
	ConfirmationKey string                `dynamodbav:"confirmationKey"`
	Attributes      domain.UserAttributes `dynamodbav:"attributes"`
	Delivered       []string              `dynamodbav:"delivered,stringset,omitempty"`
	CreatedAt       time.Time             `dynamodbav:"createdAt"`
}

// UserRepo implements users.Repository on DynamoDB.
type UserRepo struct {
	api   API
	table string
	now   func() time.Time
}

// NewUserRepo creates a DynamoDB-backed user directory.
func NewUserRepo(api API, table string) *UserRepo {
	return &UserRepo{
		api:   api,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *UserRepo) key(address string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrAddress: str(address)}
}

func (r *UserRepo) FindByAddress(ctx context.Context, address string) (*domain.User, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            r.key(address),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if out.Item == nil {
		return nil, domain.ErrUserNotFound
	}
	var item userItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling user: %w", err)
	}
	return &domain.User{
		Address:           item.Address,
		IsConfirmed:       item.IsConfirmed,
		ConfirmationKey:   item.ConfirmationKey,
		Attributes:        item.Attributes,
		DeliveredEmailIDs: item.Delivered,
		CreatedAt:         item.CreatedAt.UTC(),
	}, nil
}

// CreateUnconfirmed writes the signup unless a confirmed record owns the
// address. The condition makes check and write one atomic step.
func (r *UserRepo) CreateUnconfirmed(ctx context.Context, address string, attrs domain.UserAttributes, key string) error {
	av, err := attributevalue.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshaling attributes: %w", err)
	}
	_, err = r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 r.key(address),
		UpdateExpression:    aws.String("SET confirmationKey = :k, attributes = :a, isConfirmed = :f, createdAt = if_not_exists(createdAt, :now)"),
		ConditionExpression: aws.String("attribute_not_exists(address) OR isConfirmed = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k":   str(key),
			":a":   av,
			":f":   &types.AttributeValueMemberBOOL{Value: false},
			":now": str(r.now().Format(time.RFC3339Nano)),
		},
	})
	if isConditionFailed(err) {
		return domain.ErrUserAlreadyConfirmed
	}
	if err != nil {
		return fmt.Errorf("creating user: %w", err)
	}
	return nil
}

func (r *UserRepo) Confirm(ctx context.Context, address, key string) (bool, error) {
	_, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 r.key(address),
		UpdateExpression:    aws.String("SET isConfirmed = :t"),
		ConditionExpression: aws.String("attribute_exists(address) AND confirmationKey = :k AND isConfirmed = :f"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": str(key),
			":t": &types.AttributeValueMemberBOOL{Value: true},
			":f": &types.AttributeValueMemberBOOL{Value: false},
		},
	})
	if isConditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("confirming user: %w", err)
	}
	return true, nil
}

// RecordDelivery adds ids to the delivered string set. ADD on a set is a
// union, so concurrent calls never drop each other's ids.
func (r *UserRepo) RecordDelivery(ctx context.Context, address string, emailIDs []string) error {
	if len(emailIDs) == 0 {
		return nil
	}
	_, err := r.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 r.key(address),
		UpdateExpression:    aws.String("ADD delivered :ids"),
		ConditionExpression: aws.String("attribute_exists(address)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ids": &types.AttributeValueMemberSS{Value: emailIDs},
		},
	})
	if isConditionFailed(err) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("recording delivery: %w", err)
	}
	return nil
}
