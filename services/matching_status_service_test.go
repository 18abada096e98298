package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attune_server/logger"
)

// fakeDynamoDB is an in-memory stand-in for the DynamoDB client. It applies
// the subset of update-expression syntax the services use: comma-separated
// SET assignments, REMOVE, and ADD on a numeric attribute.
type fakeDynamoDB struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamoDB() *fakeDynamoDB {
	return &fakeDynamoDB{items: map[string]map[string]types.AttributeValue{}}
}

func itemKey(key map[string]types.AttributeValue) string {
	return key["userId"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item := f.items[itemKey(params.Key)]
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.items[itemKey(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, itemKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamoDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	id := itemKey(params.Key)
	item := f.items[id]
	if item == nil {
		item = map[string]types.AttributeValue{"userId": params.Key["userId"]}
		f.items[id] = item
	}

	resolve := func(name string) string {
		if real, ok := params.ExpressionAttributeNames[name]; ok {
			return real
		}
		return name
	}

	expr := *params.UpdateExpression
	for _, clause := range splitClauses(expr) {
		verb, body := clause[0], clause[1]
		switch verb {
		case "SET":
			for _, assign := range strings.Split(body, ",") {
				parts := strings.SplitN(assign, "=", 2)
				name := resolve(strings.TrimSpace(parts[0]))
				item[name] = params.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
			}
		case "REMOVE":
			for _, name := range strings.Split(body, ",") {
				delete(item, resolve(strings.TrimSpace(name)))
			}
		case "ADD":
			fields := strings.Fields(body)
			name := resolve(fields[0])
			delta, _ := strconv.Atoi(params.ExpressionAttributeValues[fields[1]].(*types.AttributeValueMemberN).Value)
			current := 0
			if existing, ok := item[name].(*types.AttributeValueMemberN); ok {
				current, _ = strconv.Atoi(existing.Value)
			}
			item[name] = &types.AttributeValueMemberN{Value: strconv.Itoa(current + delta)}
		}
	}

	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return &dynamodb.UpdateItemOutput{Attributes: out}, nil
}

// splitClauses breaks an update expression into (verb, body) pairs.
func splitClauses(expr string) [][2]string {
	var clauses [][2]string
	fields := strings.Fields(expr)
	var verb string
	var body []string
	flush := func() {
		if verb != "" {
			clauses = append(clauses, [2]string{verb, strings.Join(body, " ")})
		}
	}
	for _, f := range fields {
		switch f {
		case "SET", "REMOVE", "ADD":
			flush()
			verb, body = f, nil
		default:
			body = append(body, f)
		}
	}
	flush()
	return clauses
}

func newTestStatusService(t *testing.T) (*MatchingStatusService, *fakeDynamoDB) {
	t.Helper()
	db := newFakeDynamoDB()
	dynamo := &DynamoService{Client: db, Log: logger.NewNop()}
	return NewMatchingStatusService(logger.NewNop(), dynamo, "TestMatchingStatus"), db
}

func TestMatchingStatusService_GetUnknownUser(t *testing.T) {
	svc, _ := newTestStatusService(t)

	status, err := svc.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestMatchingStatusService_OptInLifecycle(t *testing.T) {
	svc, _ := newTestStatusService(t)
	ctx := context.Background()

	rec, err := svc.SaveOptIn(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.IsSeekingMatch)
	assert.NotEmpty(t, rec.OptInTimestamp)
	assert.Empty(t, rec.CurrentMatchPartner)
	assert.Equal(t, 0, rec.MissedCyclesCount)

	_, err = time.Parse(time.RFC3339, rec.OptInTimestamp)
	assert.NoError(t, err)

	stored, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.OptInTimestamp, stored.OptInTimestamp)
}

func TestMatchingStatusService_ReOptInWhileSeekingPreservesTimestamp(t *testing.T) {
	svc, _ := newTestStatusService(t)
	ctx := context.Background()

	first, err := svc.SaveOptIn(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, svc.IncrementMissedCycles(ctx, "u1"))

	second, err := svc.SaveOptIn(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first.OptInTimestamp, second.OptInTimestamp)
	assert.Equal(t, 1, second.MissedCyclesCount)
}

func TestMatchingStatusService_OptOutClearsPartner(t *testing.T) {
	svc, _ := newTestStatusService(t)
	ctx := context.Background()

	_, err := svc.SaveOptIn(ctx, "u1")
	require.NoError(t, err)
	_, err = svc.RecordMatch(ctx, "u1", "cycle-1", "u2")
	require.NoError(t, err)

	rec, err := svc.SaveOptOut(ctx, "u1")
	require.NoError(t, err)

	assert.False(t, rec.IsSeekingMatch)
	assert.NotEmpty(t, rec.LastOptOutTimestamp)
	assert.Empty(t, rec.CurrentMatchPartner, "an opted-out user holds no live pairing")
}

func TestMatchingStatusService_OptInAfterMatchResetsState(t *testing.T) {
	svc, _ := newTestStatusService(t)
	ctx := context.Background()

	_, err := svc.SaveOptIn(ctx, "u1")
	require.NoError(t, err)
	matched, err := svc.RecordMatch(ctx, "u1", "cycle-1", "u2")
	require.NoError(t, err)
	assert.False(t, matched.IsSeekingMatch)
	assert.Equal(t, "u2", matched.CurrentMatchPartner)
	assert.Equal(t, "cycle-1", matched.LastMatchedCycleID)

	rec, err := svc.SaveOptIn(ctx, "u1")
	require.NoError(t, err)

	assert.True(t, rec.IsSeekingMatch)
	assert.Empty(t, rec.CurrentMatchPartner)
	assert.Equal(t, 0, rec.MissedCyclesCount)
	assert.Equal(t, "cycle-1", rec.LastMatchedCycleID, "cycle history survives re-opt-in")
}

// failingDynamoDB errors on every operation, standing in for an unreachable
// table.
type failingDynamoDB struct{}

var errDynamoDown = errors.New("connection refused")

func (failingDynamoDB) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return nil, errDynamoDown
}

func (failingDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return nil, errDynamoDown
}

func (failingDynamoDB) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return nil, errDynamoDown
}

func (failingDynamoDB) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return nil, errDynamoDown
}

func TestMatchingStatusService_StoreFailuresAreWrapped(t *testing.T) {
	dynamo := &DynamoService{Client: failingDynamoDB{}, Log: logger.NewNop()}
	svc := NewMatchingStatusService(logger.NewNop(), dynamo, "TestMatchingStatus")
	ctx := context.Background()

	_, err := svc.Get(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, errDynamoDown)
	assert.Contains(t, err.Error(), "TestMatchingStatus")

	_, err = svc.SaveOptOut(ctx, "u1")
	assert.ErrorIs(t, err, errDynamoDown)

	assert.ErrorIs(t, svc.IncrementMissedCycles(ctx, "u1"), errDynamoDown)
}

func TestMatchingStatusService_IncrementMissedCycles(t *testing.T) {
	svc, _ := newTestStatusService(t)
	ctx := context.Background()

	_, err := svc.SaveOptIn(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, svc.IncrementMissedCycles(ctx, "u1"))
	require.NoError(t, svc.IncrementMissedCycles(ctx, "u1"))

	rec, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.MissedCyclesCount)
	assert.True(t, rec.IsSeekingMatch, "missed cycles do not end seeking")
}
