package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"attune_server/logger"
	"attune_server/models"
)

// Embedder produces trait vectors. Satisfied by EmbeddingService.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the similarity-index surface the orchestrator needs.
// Satisfied by VectorService.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, values []float32, metadata map[string]interface{}) error
	QuerySimilar(ctx context.Context, vector []float32, topK int, filter map[string]interface{}, includeValues bool) ([]VectorMatch, error)
	FetchVector(ctx context.Context, id string) (*Vector, error)
}

// StatusStore persists the opt-in/opt-out state machine. Satisfied by
// MatchingStatusService.
type StatusStore interface {
	Get(ctx context.Context, userID string) (*models.MatchingStatus, error)
	SaveOptIn(ctx context.Context, userID string) (*models.MatchingStatus, error)
	SaveOptOut(ctx context.Context, userID string) (*models.MatchingStatus, error)
	RecordMatch(ctx context.Context, userID, cycleID, partnerID string) (*models.MatchingStatus, error)
	IncrementMissedCycles(ctx context.Context, userID string) error
}

// MatchNotifier pushes match_found events to the real-time backend. Satisfied
// by rpc.Client.
type MatchNotifier interface {
	NotifyMatchFound(ctx context.Context, userID string, notification models.MatchNotification) error
}

// MatchingService composes the embedding client, vector store and status
// store into the opt-in, opt-out, status and similarity use cases, and the
// notifier into the match-cycle completion path. All collaborators are
// injected at construction so tests can substitute fakes.
type MatchingService struct {
	Embedder Embedder
	Vectors  VectorIndex
	Statuses StatusStore
	Notifier MatchNotifier
	Log      *logger.Logger
}

func NewMatchingService(log *logger.Logger, embedder Embedder, vectors VectorIndex, statuses StatusStore, notifier MatchNotifier) *MatchingService {
	return &MatchingService{
		Embedder: embedder,
		Vectors:  vectors,
		Statuses: statuses,
		Notifier: notifier,
		Log:      log.With("service", "MatchingService"),
	}
}

// OptIn makes the user eligible for matching. An existing stored vector is
// reused unless forceRefresh is set; otherwise the trait set is embedded and
// upserted. The status write happens strictly after the vector write so a
// failed embedding never leaves a seeking user without a vector.
func (s *MatchingService) OptIn(ctx context.Context, userID string, traits []string, forceRefresh bool) (models.MatchingStatusView, error) {
	var empty models.MatchingStatusView
	if strings.TrimSpace(userID) == "" {
		return empty, NewValidationError("userId is required")
	}

	var existing *Vector
	if !forceRefresh {
		var err error
		existing, err = s.Vectors.FetchVector(ctx, userID)
		if err != nil {
			return empty, err
		}
	}

	metadata := map[string]interface{}{
		models.MetaSeekingMatchStatus: true,
		models.MetaOptInTimestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	if existing != nil {
		// Reuse the stored vector; the upsert refreshes its metadata only.
		if err := s.Vectors.Upsert(ctx, userID, existing.Values, metadata); err != nil {
			return empty, err
		}
	} else {
		if len(traits) == 0 {
			return empty, NewValidationError("traits are required to generate an embedding")
		}
		vec, err := s.Embedder.Embed(ctx, strings.Join(traits, ", "))
		if err != nil {
			return empty, err
		}
		if err := s.Vectors.Upsert(ctx, userID, vec, metadata); err != nil {
			return empty, err
		}
	}

	status, err := s.Statuses.SaveOptIn(ctx, userID)
	if err != nil {
		return empty, err
	}
	s.Log.Info("user opted in", "userId", userID, "refreshedVector", existing == nil)
	return status.View(), nil
}

// OptOut withdraws the user from matching. The stored vector is kept so a
// later opt-in can reuse it; only its seeking flag is refreshed, best effort.
func (s *MatchingService) OptOut(ctx context.Context, userID string) (models.MatchingStatusView, error) {
	var empty models.MatchingStatusView
	if strings.TrimSpace(userID) == "" {
		return empty, NewValidationError("userId is required")
	}

	status, err := s.Statuses.SaveOptOut(ctx, userID)
	if err != nil {
		return empty, err
	}

	// Keep the denormalized seeking flag in vector metadata consistent so
	// similarity filters stop returning this user. A failure here self-heals
	// on the next opt-in.
	if vec, ferr := s.Vectors.FetchVector(ctx, userID); ferr == nil && vec != nil {
		meta := vec.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		meta[models.MetaSeekingMatchStatus] = false
		if uerr := s.Vectors.Upsert(ctx, userID, vec.Values, meta); uerr != nil {
			s.Log.Warn("failed to refresh vector metadata on opt-out", "userId", userID, "error", uerr)
		}
	}

	s.Log.Info("user opted out", "userId", userID)
	return status.View(), nil
}

// GetStatus returns the user's matching status. A user with no record gets
// hasNeverOptedIn=true rather than an error.
func (s *MatchingService) GetStatus(ctx context.Context, userID string) (models.MatchingStatusView, error) {
	var empty models.MatchingStatusView
	if strings.TrimSpace(userID) == "" {
		return empty, NewValidationError("userId is required")
	}
	status, err := s.Statuses.Get(ctx, userID)
	if err != nil {
		return empty, err
	}
	if status == nil {
		return models.NeverOptedInView(), nil
	}
	return status.View(), nil
}

// FindSimilar returns up to topK seeking users nearest to the given user's
// stored vector, never including the user themselves. A user with no stored
// vector gets an empty result, not an error.
func (s *MatchingService) FindSimilar(ctx context.Context, userID string, topK int, includeVectors bool) ([]models.SimilarUser, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, NewValidationError("userId is required")
	}
	if topK <= 0 {
		topK = 10
	}

	status, err := s.Statuses.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if status == nil || !status.IsSeekingMatch {
		return nil, ErrNotSeeking
	}

	vec, err := s.Vectors.FetchVector(ctx, userID)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return []models.SimilarUser{}, nil
	}

	// Ask for one extra: the store ranks the query subject as its own top
	// match and it must be filtered out.
	filter := map[string]interface{}{
		models.MetaSeekingMatchStatus: map[string]interface{}{"$eq": true},
	}
	matches, err := s.Vectors.QuerySimilar(ctx, vec.Values, topK+1, filter, includeVectors)
	if err != nil {
		return nil, err
	}

	similar := make([]models.SimilarUser, 0, len(matches))
	for _, m := range matches {
		if m.ID == userID {
			continue
		}
		similar = append(similar, models.SimilarUser{
			UserID:   m.ID,
			Score:    m.Score,
			Metadata: m.Metadata,
			Vector:   m.Values,
		})
		if len(similar) == topK {
			break
		}
	}
	return similar, nil
}

// CompleteCycle records the outcome of an external matching cycle: both sides
// of every pairing are marked matched and notified through the real-time
// backend, and eligible-but-unpaired users accrue a missed cycle. Returns the
// cycle id used (generated when the caller supplies none).
func (s *MatchingService) CompleteCycle(ctx context.Context, cycleID string, pairs []models.MatchPair, unmatched []string) (string, error) {
	if cycleID == "" {
		cycleID = uuid.NewString()
	}
	if len(pairs) == 0 && len(unmatched) == 0 {
		return "", NewValidationError("cycle must contain at least one pairing or unmatched user")
	}

	var errs []error
	for _, pair := range pairs {
		if pair.UserA == "" || pair.UserB == "" || pair.UserA == pair.UserB {
			errs = append(errs, NewValidationError("invalid pairing %q/%q", pair.UserA, pair.UserB))
			continue
		}
		if err := s.recordAndNotify(ctx, cycleID, pair.UserA, pair.UserB, pair.Score, pair.ChannelID); err != nil {
			errs = append(errs, err)
		}
		if err := s.recordAndNotify(ctx, cycleID, pair.UserB, pair.UserA, pair.Score, pair.ChannelID); err != nil {
			errs = append(errs, err)
		}
	}

	for _, userID := range unmatched {
		if err := s.Statuses.IncrementMissedCycles(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("missed-cycle increment for %s: %w", userID, err))
		}
	}

	if len(errs) > 0 {
		return cycleID, errors.Join(errs...)
	}
	s.Log.Info("matching cycle recorded", "cycleId", cycleID, "pairs", len(pairs), "unmatched", len(unmatched))
	return cycleID, nil
}

func (s *MatchingService) recordAndNotify(ctx context.Context, cycleID, userID, partnerID string, score *float64, channelID string) error {
	if _, err := s.Statuses.RecordMatch(ctx, userID, cycleID, partnerID); err != nil {
		return fmt.Errorf("record match for %s: %w", userID, err)
	}
	notification := models.MatchNotification{
		CycleID:   cycleID,
		PartnerID: partnerID,
		Score:     score,
		ChannelID: channelID,
	}
	if err := s.Notifier.NotifyMatchFound(ctx, userID, notification); err != nil {
		// Delivery is best effort; the client reconciles on reconnect via the
		// status endpoint.
		s.Log.Warn("match notification delivery failed", "userId", userID, "cycleId", cycleID, "error", err)
	}
	return nil
}
