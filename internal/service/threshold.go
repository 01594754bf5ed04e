package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ayo6706/risk-thresholds/internal/domain"
	"github.com/ayo6706/risk-thresholds/internal/lock"
	"github.com/ayo6706/risk-thresholds/internal/models"
	"github.com/ayo6706/risk-thresholds/internal/repository"
)

// ThresholdService owns the active-config slot of every pair and the
// pair → category → floor resolution used wherever a threshold is consulted.
type ThresholdService struct {
	store  QueryStore
	locker lock.Locker
	clock  Clock
}

func NewThresholdService(store QueryStore, locker lock.Locker, clock Clock) *ThresholdService {
	return &ThresholdService{store: store, locker: locker, clock: clock}
}

// pairKey validates and normalizes a (category, asset) selector.
func pairKey(tenantID string, category domain.Category, asset string) (repository.ThresholdKey, error) {
	c, ok := domain.ParseCategory(string(category))
	if !ok {
		return repository.ThresholdKey{}, fmt.Errorf("%w: %q", domain.ErrInvalidCategory, category)
	}
	asset = domain.NormalizeAsset(asset)
	if asset == "" {
		asset = domain.AnyAsset
	}
	return repository.ThresholdKey{TenantID: tenantID, Category: c, CurrencyOrAsset: asset}, nil
}

func thresholdLockKey(key repository.ThresholdKey) string {
	return "threshold:" + key.String()
}

// GetEffective resolves the threshold in force for a pair.
func (s *ThresholdService) GetEffective(ctx context.Context, tenantID string, category domain.Category, asset string) (models.ThresholdConfig, error) {
	key, err := pairKey(tenantID, category, asset)
	if err != nil {
		return models.ThresholdConfig{}, err
	}
	return effective(ctx, s.store.Queries(), key)
}

func effective(ctx context.Context, q repository.Queries, key repository.ThresholdKey) (models.ThresholdConfig, error) {
	cfg, err := q.GetActiveThreshold(ctx, key)
	if err == nil {
		cfg.Source = sourceOf(cfg)
		return cfg, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return models.ThresholdConfig{}, fmt.Errorf("get pair threshold: %w", err)
	}

	if key.CurrencyOrAsset != domain.AnyAsset {
		categoryKey := key
		categoryKey.CurrencyOrAsset = domain.AnyAsset
		cfg, err = q.GetActiveThreshold(ctx, categoryKey)
		if err == nil {
			cfg.Source = domain.SourceCategory
			return cfg, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return models.ThresholdConfig{}, fmt.Errorf("get category threshold: %w", err)
		}
	}
	return defaultConfig(key.TenantID, key.Category), nil
}

func sourceOf(cfg models.ThresholdConfig) domain.ThresholdSource {
	if cfg.CurrencyOrAsset == domain.AnyAsset {
		return domain.SourceCategory
	}
	return domain.SourcePair
}

// defaultConfig synthesizes the hardcoded floor. It is never persisted.
func defaultConfig(tenantID string, category domain.Category) models.ThresholdConfig {
	return models.ThresholdConfig{
		ThresholdID:     models.ThresholdID(tenantID, category, domain.AnyAsset),
		TenantID:        tenantID,
		Category:        category,
		CurrencyOrAsset: domain.AnyAsset,
		Amount:          domain.DefaultThreshold(category),
		SetBy:           "system",
		Source:          domain.SourceDefault,
	}
}

// Replace activates cfg for its pair and moves the previous active config to
// history, superseded at cfg.EffectiveFrom.
func (s *ThresholdService) Replace(ctx context.Context, cfg models.ThresholdConfig) (models.ThresholdConfig, error) {
	key, err := pairKey(cfg.TenantID, cfg.Category, cfg.CurrencyOrAsset)
	if err != nil {
		return models.ThresholdConfig{}, err
	}
	if cfg.Amount <= 0 {
		return models.ThresholdConfig{}, domain.ErrInvalidAmount
	}
	cfg.Category, cfg.CurrencyOrAsset = key.Category, key.CurrencyOrAsset

	release, err := s.locker.Lock(ctx, thresholdLockKey(key))
	if err != nil {
		return models.ThresholdConfig{}, err
	}
	defer release()

	var applied models.ThresholdConfig
	err = s.store.RunInTx(ctx, func(q repository.Queries) error {
		var err error
		applied, _, err = s.replace(ctx, q, cfg)
		return err
	})
	if err != nil {
		return models.ThresholdConfig{}, err
	}
	return applied, nil
}

// replace runs inside the caller's transaction with the pair lock held. It
// returns the applied config and the one it superseded, if any.
func (s *ThresholdService) replace(ctx context.Context, qtx repository.Queries, cfg models.ThresholdConfig) (models.ThresholdConfig, *models.ThresholdConfig, error) {
	if cfg.EffectiveFrom.IsZero() {
		cfg.EffectiveFrom = s.clock.Now()
	}
	if cfg.SetAt.IsZero() {
		cfg.SetAt = cfg.EffectiveFrom
	}
	cfg.ThresholdID = models.ThresholdID(cfg.TenantID, cfg.Category, cfg.CurrencyOrAsset)
	cfg.IsActive = true
	cfg.Source = sourceOf(cfg)

	var superseded *models.ThresholdConfig
	if err := qtx.LockThresholdSlot(ctx, repository.KeyOf(cfg)); err != nil {
		return models.ThresholdConfig{}, nil, err
	}
	prev, err := qtx.GetActiveThresholdForUpdate(ctx, repository.KeyOf(cfg))
	switch {
	case err == nil:
		if _, err := qtx.AppendThresholdHistory(ctx, models.ThresholdHistoryEntry{
			Config:       prev,
			SupersededAt: cfg.EffectiveFrom,
			SupersededBy: cfg.SetBy,
		}); err != nil {
			return models.ThresholdConfig{}, nil, fmt.Errorf("archive threshold: %w", err)
		}
		superseded = &prev
	case !errors.Is(err, domain.ErrNotFound):
		return models.ThresholdConfig{}, nil, fmt.Errorf("get active threshold: %w", err)
	}

	if err := qtx.UpsertActiveThreshold(ctx, cfg); err != nil {
		return models.ThresholdConfig{}, nil, fmt.Errorf("activate threshold: %w", err)
	}
	return cfg, superseded, nil
}

// ListThresholds returns every configured threshold of a tenant plus a
// DEFAULT row for each category without a category-wide config.
func (s *ThresholdService) ListThresholds(ctx context.Context, tenantID string) ([]models.ThresholdConfig, error) {
	configs, err := s.store.Queries().ListActiveThresholds(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}

	covered := make(map[domain.Category]bool, len(domain.Categories))
	out := make([]models.ThresholdConfig, 0, len(configs)+len(domain.Categories))
	for _, cfg := range configs {
		cfg.Source = sourceOf(cfg)
		if cfg.Source == domain.SourceCategory {
			covered[cfg.Category] = true
		}
		out = append(out, cfg)
	}
	for _, c := range domain.Categories {
		if !covered[c] {
			out = append(out, defaultConfig(tenantID, c))
		}
	}
	return out, nil
}

// History returns superseded configs of a pair, newest first.
func (s *ThresholdService) History(ctx context.Context, tenantID string, category domain.Category, asset string, limit int32) ([]models.ThresholdHistoryEntry, error) {
	key, err := pairKey(tenantID, category, asset)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.Queries().ListThresholdHistory(ctx, key, limit)
	if err != nil {
		return nil, fmt.Errorf("list threshold history: %w", err)
	}
	return entries, nil
}
