package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"dealflow/internal/repository"
	"dealflow/pkg/logger"

	"go.uber.org/zap"
)

// Settings namespace in the key/value store.
const SettingsPrefix = "worker."

// Snapshot is the worker's runtime configuration. Handlers always read a
// snapshot, never the store, so a slow settings read cannot stall dispatch.
type Snapshot struct {
	HourlySendLimit     int64   `json:"hourly_send_limit"`
	DailySendLimit      int64   `json:"daily_send_limit"`
	DefaultTimezone     string  `json:"default_timezone"`
	RateGroup           string  `json:"rate_group"`
	Paused              bool    `json:"paused"`
	Debug               bool    `json:"debug"`
	CampaignSendEnabled bool    `json:"campaign_send_enabled"`
	ManualSendEnabled   bool    `json:"manual_send_enabled"`
	SystemSendEnabled   bool    `json:"system_send_enabled"`
	ClassifyEnabled     bool    `json:"classify_enabled"`
	ExtractorEnabled    bool    `json:"extractor_enabled"`
	ClassifyBatchSize   int     `json:"classify_batch_size"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// Defaults are deliberately safe: nothing sends until an operator enables it.
func defaultSnapshot() Snapshot {
	return Snapshot{
		HourlySendLimit:     50,
		DailySendLimit:      400,
		DefaultTimezone:     "America/Los_Angeles",
		RateGroup:           "default",
		ClassifyEnabled:     true,
		ClassifyBatchSize:   10,
		ConfidenceThreshold: 0.7,
	}
}

// SettingsStore reloads the worker.* namespace from the database on a fixed
// interval into an immutable in-memory snapshot.
type SettingsStore struct {
	repo repository.SettingsInterface

	mu   sync.RWMutex
	snap Snapshot
}

func NewSettingsStore(repo repository.SettingsInterface) *SettingsStore {
	return &SettingsStore{
		repo: repo,
		snap: defaultSnapshot(),
	}
}

func (s *SettingsStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *SettingsStore) Paused() bool {
	return s.Snapshot().Paused
}

// Reload replaces the snapshot from the store. A read failure leaves the
// previous snapshot authoritative.
func (s *SettingsStore) Reload(ctx context.Context) error {
	rows, err := s.repo.GetNamespace(ctx, SettingsPrefix)
	if err != nil {
		return err
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[strings.TrimPrefix(row.Key, SettingsPrefix)] = row.Value
	}

	snap := defaultSnapshot()
	decode(values, "hourly_send_limit", &snap.HourlySendLimit)
	decode(values, "daily_send_limit", &snap.DailySendLimit)
	decode(values, "default_timezone", &snap.DefaultTimezone)
	decode(values, "rate_group", &snap.RateGroup)
	decode(values, "paused", &snap.Paused)
	decode(values, "debug", &snap.Debug)
	decode(values, "classify_enabled", &snap.ClassifyEnabled)
	decode(values, "extractor_enabled", &snap.ExtractorEnabled)
	decode(values, "classify_batch_size", &snap.ClassifyBatchSize)
	decode(values, "confidence_threshold", &snap.ConfidenceThreshold)

	_, haveCampaign := values["campaign_send_enabled"]
	_, haveManual := values["manual_send_enabled"]
	_, haveSystem := values["system_send_enabled"]
	if !haveCampaign && !haveManual && !haveSystem {
		// Legacy installs carried one dry_run flag instead of per-channel
		// enables; it maps onto all three only while none has been set.
		if raw, ok := values["dry_run"]; ok {
			var dryRun bool
			if json.Unmarshal([]byte(raw), &dryRun) == nil {
				snap.CampaignSendEnabled = !dryRun
				snap.ManualSendEnabled = !dryRun
				snap.SystemSendEnabled = !dryRun
			}
		}
	} else {
		decode(values, "campaign_send_enabled", &snap.CampaignSendEnabled)
		decode(values, "manual_send_enabled", &snap.ManualSendEnabled)
		decode(values, "system_send_enabled", &snap.SystemSendEnabled)
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Run reloads on a fixed interval until ctx is cancelled. One reload happens
// immediately so the worker never dispatches on pure defaults longer than it
// has to.
func (s *SettingsStore) Run(ctx context.Context, interval time.Duration) {
	if err := s.Reload(ctx); err != nil {
		logger.Warn("initial settings reload failed, using defaults", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				logger.Warn("settings reload failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

func decode[T any](values map[string]string, key string, dst *T) {
	raw, ok := values[key]
	if !ok {
		return
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		logger.Warn("malformed setting ignored",
			zap.String("key", SettingsPrefix+key),
			zap.String("value", raw),
			zap.Error(err))
	}
}
