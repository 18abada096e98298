package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"attune_server/logger"
	"attune_server/models"
)

// MatchingStatusService persists the per-user opt-in/opt-out state machine.
type MatchingStatusService struct {
	Dynamo *DynamoService
	Table  string
	Log    *logger.Logger
}

func NewMatchingStatusService(log *logger.Logger, dynamo *DynamoService, table string) *MatchingStatusService {
	if table == "" {
		table = models.MatchingStatusTable
	}
	return &MatchingStatusService{
		Dynamo: dynamo,
		Table:  table,
		Log:    log.With("service", "MatchingStatusService"),
	}
}

func statusKey(userID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"userId": &types.AttributeValueMemberS{Value: userID},
	}
}

// Get returns the stored status, or (nil, nil) when the user has never opted
// in. Absence is an expected outcome, not an error.
func (ms *MatchingStatusService) Get(ctx context.Context, userID string) (*models.MatchingStatus, error) {
	item, err := ms.Dynamo.GetItem(ctx, ms.Table, statusKey(userID))
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load matching status for %s: %w", userID, err)
	}
	var status models.MatchingStatus
	if err := attributevalue.UnmarshalMap(item, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matching status for %s: %w", userID, err)
	}
	return &status, nil
}

// SaveOptIn transitions the user into seeking state and returns the new
// record. Re-opting-in while already seeking is idempotent: the original
// opt-in timestamp and missed-cycles count are preserved. Any previous match
// pairing is cleared.
func (ms *MatchingStatusService) SaveOptIn(ctx context.Context, userID string) (*models.MatchingStatus, error) {
	existing, err := ms.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var rec models.MatchingStatus
	if existing != nil {
		rec = *existing
	}
	rec.UserID = userID
	if existing == nil || !rec.IsSeekingMatch {
		rec.OptInTimestamp = now
		rec.MissedCyclesCount = 0
	}
	rec.IsSeekingMatch = true
	rec.CurrentMatchPartner = ""
	rec.UpdatedAt = now

	if err := ms.Dynamo.PutItem(ctx, ms.Table, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveOptOut flips the user out of seeking state. The stored trait vector is
// left in place so a later opt-in can reuse it. A populated match partner is
// cleared: an opted-out user holds no live pairing.
func (ms *MatchingStatusService) SaveOptOut(ctx context.Context, userID string) (*models.MatchingStatus, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	attrs, err := ms.Dynamo.UpdateItem(ctx, ms.Table,
		"SET #seeking = :false, #optout = :now, #updated = :now REMOVE #partner",
		statusKey(userID),
		map[string]types.AttributeValue{
			":false": &types.AttributeValueMemberBOOL{Value: false},
			":now":   &types.AttributeValueMemberS{Value: now},
		},
		map[string]string{
			"#seeking": "isSeekingMatch",
			"#optout":  "lastOptOutTimestamp",
			"#updated": "updatedAt",
			"#partner": "currentMatchPartnerId",
		},
	)
	if err != nil {
		return nil, err
	}
	var status models.MatchingStatus
	if err := attributevalue.UnmarshalMap(attrs, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matching status for %s: %w", userID, err)
	}
	status.UserID = userID
	return &status, nil
}

// RecordMatch writes the outcome of a matching cycle for one side of a
// pairing. A successful match ends seeking; the user stays matched until they
// explicitly opt back in.
func (ms *MatchingStatusService) RecordMatch(ctx context.Context, userID, cycleID, partnerID string) (*models.MatchingStatus, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	attrs, err := ms.Dynamo.UpdateItem(ctx, ms.Table,
		"SET #seeking = :false, #cycle = :cycle, #partner = :partner, #missed = :zero, #updated = :now",
		statusKey(userID),
		map[string]types.AttributeValue{
			":false":   &types.AttributeValueMemberBOOL{Value: false},
			":cycle":   &types.AttributeValueMemberS{Value: cycleID},
			":partner": &types.AttributeValueMemberS{Value: partnerID},
			":zero":    &types.AttributeValueMemberN{Value: "0"},
			":now":     &types.AttributeValueMemberS{Value: now},
		},
		map[string]string{
			"#seeking": "isSeekingMatch",
			"#cycle":   "lastMatchedCycleId",
			"#partner": "currentMatchPartnerId",
			"#missed":  "missedCyclesCount",
			"#updated": "updatedAt",
		},
	)
	if err != nil {
		return nil, err
	}
	var status models.MatchingStatus
	if err := attributevalue.UnmarshalMap(attrs, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matching status for %s: %w", userID, err)
	}
	status.UserID = userID
	return &status, nil
}

// IncrementMissedCycles bumps the missed-cycle counter for a user who was
// eligible in a cycle but not paired.
func (ms *MatchingStatusService) IncrementMissedCycles(ctx context.Context, userID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := ms.Dynamo.UpdateItem(ctx, ms.Table,
		"SET #updated = :now ADD #missed :one",
		statusKey(userID),
		map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: now},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		map[string]string{
			"#updated": "updatedAt",
			"#missed":  "missedCyclesCount",
		},
	)
	return err
}
