// Package thresholds serves the versioned fraud threshold configuration.
package thresholds

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/oslsr/kestrel/internal/domain"
	"github.com/oslsr/kestrel/internal/validation"
)

const (
	snapshotKey     = "thresholds:snapshot"
	defaultCacheTTL = 5 * time.Minute
)

// UpdateInput changes the open version of a rule. Nil fields carry the
// current value forward; Notes describes this change only.
type UpdateInput struct {
	ThresholdValue *decimal.Decimal `json:"thresholdValue" validate:"required"`
	Weight         *decimal.Decimal `json:"weight,omitempty"`
	SeverityFloor  *string          `json:"severityFloor,omitempty" validate:"omitempty,oneof=clean low medium high critical"`
	IsActive       *bool            `json:"isActive,omitempty"`
	Notes          string           `json:"notes,omitempty" validate:"max=1000"`
	UpdatedBy      string           `json:"updatedBy" validate:"required"`
}

// Service reads and changes threshold rules. Reads go through a cached
// snapshot; writes invalidate it.
type Service struct {
	store    domain.ThresholdStore
	cache    domain.Cache
	ttl      time.Duration
	group    singleflight.Group
	gen      atomic.Uint64
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a threshold service. cache may be nil.
func NewService(store domain.ThresholdStore, cache domain.Cache, cfg domain.ThresholdConfig) *Service {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Service{
		store:    store,
		cache:    cache,
		ttl:      ttl,
		validate: validation.New(),
		logger:   slog.Default().With("component", "thresholds"),
		now:      time.Now,
	}
}

// Snapshot returns the open rows and their config version. Concurrent
// misses share one store read.
func (s *Service) Snapshot(ctx context.Context) (*domain.ThresholdSnapshot, error) {
	if snap := s.cached(ctx); snap != nil {
		return snap, nil
	}

	v, err, _ := s.group.Do(snapshotKey, func() (any, error) {
		gen := s.gen.Load()
		rules, err := s.store.ListOpenThresholds(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load thresholds: %w", err)
		}
		snap := domain.NewThresholdSnapshot(rules, s.now().UTC())
		if s.gen.Load() == gen {
			s.remember(ctx, snap)
		}
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.ThresholdSnapshot), nil
}

func (s *Service) cached(ctx context.Context) *domain.ThresholdSnapshot {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, snapshotKey)
	if err != nil {
		s.logger.Warn("threshold cache read failed", "error", err)
		return nil
	}
	if data == nil {
		return nil
	}
	var snap domain.ThresholdSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("threshold cache entry unreadable", "error", err)
		return nil
	}
	return &snap
}

func (s *Service) remember(ctx context.Context, snap *domain.ThresholdSnapshot) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, snapshotKey, data, s.ttl); err != nil {
		s.logger.Warn("threshold cache write failed", "error", err)
	}
}

// Invalidate drops the cached snapshot. A load already in flight does not
// repopulate the cache.
func (s *Service) Invalidate(ctx context.Context) {
	s.gen.Add(1)
	s.group.Forget(snapshotKey)
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, snapshotKey); err != nil {
		s.logger.Error("threshold cache invalidation failed", "error", err)
	}
}

// LoadActive returns the active rows, restricted to category unless it is
// empty.
func (s *Service) LoadActive(ctx context.Context, category domain.Category) ([]domain.ThresholdRule, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if category == "" {
		return snap.Active(), nil
	}
	return snap.Active(category), nil
}

// Grouped returns the active rows keyed by category.
func (s *Service) Grouped(ctx context.Context) (map[domain.Category][]domain.ThresholdRule, error) {
	rules, err := s.LoadActive(ctx, "")
	if err != nil {
		return nil, err
	}
	out := map[domain.Category][]domain.ThresholdRule{}
	for _, r := range rules {
		out[r.Category] = append(out[r.Category], r)
	}
	return out, nil
}

// History returns every version of ruleKey, newest first.
func (s *Service) History(ctx context.Context, ruleKey string) ([]domain.ThresholdRule, error) {
	return s.store.ListThresholdHistory(ctx, ruleKey)
}

// Update supersedes the open version of ruleKey and invalidates the
// snapshot. Invalid input returns *validation.Error; an unknown key returns
// domain.ErrNotFound.
func (s *Service) Update(ctx context.Context, ruleKey string, in UpdateInput) (*domain.ThresholdRule, error) {
	verr := validation.Struct(s.validate, in)
	if in.ThresholdValue != nil && in.ThresholdValue.IsNegative() {
		verr.Add("thresholdValue", "thresholdValue must not be negative")
	}
	if in.Weight != nil && in.Weight.IsNegative() {
		verr.Add("weight", "weight must not be negative")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	var previous domain.ThresholdRule
	created, err := s.store.SupersedeThreshold(ctx, ruleKey, func(cur domain.ThresholdRule) domain.ThresholdRule {
		previous = cur

		next := cur
		next.ThresholdValue = *in.ThresholdValue
		if in.Weight != nil {
			next.Weight = decimal.NewNullDecimal(*in.Weight)
		}
		if in.SeverityFloor != nil {
			floor := domain.Severity(*in.SeverityFloor)
			next.SeverityFloor = &floor
		}
		if in.IsActive != nil {
			next.IsActive = *in.IsActive
		}
		next.CreatedBy = in.UpdatedBy
		next.Notes = in.Notes
		return next
	})
	if err != nil {
		return nil, err
	}

	s.Invalidate(ctx)

	s.logger.Info("threshold updated",
		"event", "fraud.threshold.updated",
		"rule_key", ruleKey,
		"old_value", previous.ThresholdValue.String(),
		"new_value", created.ThresholdValue.String(),
		"old_version", previous.Version,
		"new_version", created.Version,
		"admin_id", in.UpdatedBy,
	)
	return created, nil
}

// Seed inserts the default rules when the store holds none and returns how
// many were inserted.
func (s *Service) Seed(ctx context.Context) (int, error) {
	existing, err := s.store.ListOpenThresholds(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to check thresholds: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	now := s.now().UTC()
	rules := DefaultRules()
	for i := range rules {
		rules[i].EffectiveFrom = now
		rules[i].CreatedAt = now
		if err := s.store.InsertThreshold(ctx, &rules[i]); err != nil {
			return i, fmt.Errorf("failed to seed %s: %w", rules[i].RuleKey, err)
		}
	}

	s.Invalidate(ctx)
	s.logger.Info("threshold defaults seeded", "count", len(rules))
	return len(rules), nil
}
