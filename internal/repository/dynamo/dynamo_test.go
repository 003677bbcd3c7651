package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
)

var (
	_ users.Repository     = (*UserRepo)(nil)
	_ workshops.Repository = (*WorkshopRepo)(nil)
	_ API                  = (*dynamodb.Client)(nil)
)

// fakeAPI records requests and answers with canned responses.
type fakeAPI struct {
	getItem  func(*dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error)
	update   func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error)
	transact func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error)
	describe func(*dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error)

	updates []*dynamodb.UpdateItemInput
	created []string
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return f.getItem(in)
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updates = append(f.updates, in)
	if f.update == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return f.update(in)
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	return f.transact(in)
}

func (f *fakeAPI) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.created = append(f.created, aws.ToString(in.TableName))
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return f.describe(in)
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func TestUserRepo_FindByAddress(t *testing.T) {
	created := time.Date(2014, 9, 1, 12, 0, 0, 0, time.UTC)
	item, err := attributevalue.MarshalMap(userItem{
		Address:     "jan@example.com",
		IsConfirmed: true,
		Attributes:  domain.UserAttributes{Name: "Jan"},
		Delivered:   []string{"e1", "e2"},
		CreatedAt:   created,
	})
	require.NoError(t, err)
	_, isSet := item["delivered"].(*types.AttributeValueMemberSS)
	assert.True(t, isSet, "delivered ids must be stored as a string set")

	api := &fakeAPI{getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		assert.True(t, aws.ToBool(in.ConsistentRead))
		if in.Key[attrAddress].(*types.AttributeValueMemberS).Value == "jan@example.com" {
			return &dynamodb.GetItemOutput{Item: item}, nil
		}
		return &dynamodb.GetItemOutput{}, nil
	}}
	repo := NewUserRepo(api, "users")

	u, err := repo.FindByAddress(context.Background(), "jan@example.com")
	require.NoError(t, err)
	assert.True(t, u.IsConfirmed)
	assert.Equal(t, "Jan", u.Attributes.Name)
	assert.ElementsMatch(t, []string{"e1", "e2"}, u.DeliveredEmailIDs)
	assert.True(t, u.CreatedAt.Equal(created))

	_, err = repo.FindByAddress(context.Background(), "ghost@example.com")
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))
}

func TestUserRepo_CreateUnconfirmed_ConfirmedConflicts(t *testing.T) {
	api := &fakeAPI{update: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return nil, conditionFailed()
	}}
	repo := NewUserRepo(api, "users")

	err := repo.CreateUnconfirmed(context.Background(), "jan@example.com", domain.UserAttributes{}, "k")
	assert.True(t, errors.Is(err, domain.ErrUserAlreadyConfirmed))

	require.Len(t, api.updates, 1)
	in := api.updates[0]
	assert.Equal(t, "attribute_not_exists(address) OR isConfirmed = :f", aws.ToString(in.ConditionExpression))
	assert.Equal(t, "k", in.ExpressionAttributeValues[":k"].(*types.AttributeValueMemberS).Value)
}

func TestUserRepo_Confirm(t *testing.T) {
	api := &fakeAPI{}
	repo := NewUserRepo(api, "users")
	ok, err := repo.Confirm(context.Background(), "jan@example.com", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	api.update = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) { return nil, conditionFailed() }
	ok, err = repo.Confirm(context.Background(), "jan@example.com", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	api.update = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) { return nil, errors.New("throttled") }
	_, err = repo.Confirm(context.Background(), "jan@example.com", "k")
	assert.Error(t, err)
}

func TestUserRepo_RecordDelivery(t *testing.T) {
	api := &fakeAPI{}
	repo := NewUserRepo(api, "users")

	require.NoError(t, repo.RecordDelivery(context.Background(), "jan@example.com", nil))
	assert.Empty(t, api.updates, "empty batch must not touch the table")

	require.NoError(t, repo.RecordDelivery(context.Background(), "jan@example.com", []string{"e1", "e2"}))
	require.Len(t, api.updates, 1)
	assert.Equal(t, "ADD delivered :ids", aws.ToString(api.updates[0].UpdateExpression))
	assert.Equal(t, []string{"e1", "e2"}, api.updates[0].ExpressionAttributeValues[":ids"].(*types.AttributeValueMemberSS).Value)

	api.update = func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) { return nil, conditionFailed() }
	err := repo.RecordDelivery(context.Background(), "ghost@example.com", []string{"e1"})
	assert.True(t, errors.Is(err, domain.ErrUserNotFound))
}

func TestWorkshopRepo_Create(t *testing.T) {
	var got *dynamodb.TransactWriteItemsInput
	api := &fakeAPI{transact: func(in *dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		got = in
		return &dynamodb.TransactWriteItemsOutput{}, nil
	}}
	repo := NewWorkshopRepo(api, "workshops")

	require.NoError(t, repo.Create(context.Background(), &domain.Workshop{WorkshopID: "go-101", EmailSecret: "abc"}))
	require.Len(t, got.TransactItems, 2)
	claim := got.TransactItems[1].Put.Item
	assert.Equal(t, "secret#abc", claim[attrWorkshopID].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "go-101", claim["owner"].(*types.AttributeValueMemberS).Value)

	api.transact = func(*dynamodb.TransactWriteItemsInput) (*dynamodb.TransactWriteItemsOutput, error) {
		return nil, &types.TransactionCanceledException{CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		}}
	}
	err := repo.Create(context.Background(), &domain.Workshop{WorkshopID: "go-102", EmailSecret: "abc"})
	assert.True(t, errors.Is(err, domain.ErrWorkshopExists), "secret collision must conflict, got %v", err)
}

func TestWorkshopRepo_FindBySecretFollowsClaim(t *testing.T) {
	ws, err := attributevalue.MarshalMap(workshopItem{
		WorkshopID:  "go-101",
		EmailSecret: "abc",
		Users:       []string{"zoe@example.com", "adam@example.com"},
		Emails:      []domain.Email{{EmailID: "e1", Subject: "Intro"}},
	})
	require.NoError(t, err)
	claim, err := attributevalue.MarshalMap(secretItem{Key: "secret#abc", Owner: "go-101"})
	require.NoError(t, err)

	api := &fakeAPI{getItem: func(in *dynamodb.GetItemInput) (*dynamodb.GetItemOutput, error) {
		switch in.Key[attrWorkshopID].(*types.AttributeValueMemberS).Value {
		case "secret#abc":
			return &dynamodb.GetItemOutput{Item: claim}, nil
		case "go-101":
			return &dynamodb.GetItemOutput{Item: ws}, nil
		}
		return &dynamodb.GetItemOutput{}, nil
	}}
	repo := NewWorkshopRepo(api, "workshops")

	w, err := repo.FindBySecret(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "go-101", w.WorkshopID)
	assert.Equal(t, []string{"adam@example.com", "zoe@example.com"}, w.RegisteredUsers)
	assert.Equal(t, "Intro", w.Emails[0].Subject)

	_, err = repo.FindBySecret(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrWorkshopNotFound))
}

func TestWorkshopRepo_UpdatesMapMissingWorkshop(t *testing.T) {
	api := &fakeAPI{update: func(*dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		return nil, conditionFailed()
	}}
	repo := NewWorkshopRepo(api, "workshops")
	ctx := context.Background()

	_, err := repo.AddUser(ctx, "nope", "jan@example.com")
	assert.True(t, errors.Is(err, domain.ErrWorkshopNotFound))
	_, err = repo.AppendEmail(ctx, "nope", domain.Email{EmailID: "e1"})
	assert.True(t, errors.Is(err, domain.ErrWorkshopNotFound))
	changed, err := repo.RemoveUser(ctx, "nope", "jan@example.com")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWorkshopRepo_RemoveUserReadsOldSet(t *testing.T) {
	api := &fakeAPI{update: func(in *dynamodb.UpdateItemInput) (*dynamodb.UpdateItemOutput, error) {
		assert.Equal(t, types.ReturnValueUpdatedOld, in.ReturnValues)
		return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
			"users": &types.AttributeValueMemberSS{Value: []string{"jan@example.com"}},
		}}, nil
	}}
	repo := NewWorkshopRepo(api, "workshops")

	changed, err := repo.RemoveUser(context.Background(), "go-101", "jan@example.com")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.RemoveUser(context.Background(), "go-101", "adam@example.com")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCreateTables_SkipsExisting(t *testing.T) {
	api := &fakeAPI{describe: func(in *dynamodb.DescribeTableInput) (*dynamodb.DescribeTableOutput, error) {
		if aws.ToString(in.TableName) == "users" {
			return &dynamodb.DescribeTableOutput{}, nil
		}
		return nil, &types.ResourceNotFoundException{Message: aws.String("missing")}
	}}
	require.NoError(t, CreateTables(context.Background(), api, "users", "workshops"))
	assert.Equal(t, []string{"workshops"}, api.created)
}
