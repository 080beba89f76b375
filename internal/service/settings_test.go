package service

import (
	"context"
	"errors"
	"testing"

	"dealflow/internal/model"
)

func settingsRows(kv map[string]string) []model.Setting {
	rows := make([]model.Setting, 0, len(kv))
	for k, v := range kv {
		rows = append(rows, model.Setting{Key: SettingsPrefix + k, Value: v})
	}
	return rows
}

func TestDefaultsDisableAllSending(t *testing.T) {
	snap := defaultSnapshot()
	if snap.CampaignSendEnabled || snap.ManualSendEnabled || snap.SystemSendEnabled {
		t.Error("a fresh worker must not send until an operator enables it")
	}
	if snap.HourlySendLimit <= 0 || snap.DailySendLimit <= 0 {
		t.Error("default limits must be bounded")
	}
}

func TestReloadDecodesValues(t *testing.T) {
	store := NewSettingsStore(&fakeSettingsRepo{
		GetNamespaceFn: func(ctx context.Context, prefix string) ([]model.Setting, error) {
			return settingsRows(map[string]string{
				"hourly_send_limit":     "25",
				"daily_send_limit":      "200",
				"default_timezone":      `"America/New_York"`,
				"paused":                "true",
				"campaign_send_enabled": "true",
				"confidence_threshold":  "0.8",
			}), nil
		},
	})

	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	snap := store.Snapshot()
	if snap.HourlySendLimit != 25 || snap.DailySendLimit != 200 {
		t.Errorf("limits = (%d, %d)", snap.HourlySendLimit, snap.DailySendLimit)
	}
	if snap.DefaultTimezone != "America/New_York" {
		t.Errorf("timezone = %q", snap.DefaultTimezone)
	}
	if !snap.Paused {
		t.Error("paused not picked up")
	}
	if !snap.CampaignSendEnabled {
		t.Error("campaign sending not enabled")
	}
	if snap.ManualSendEnabled || snap.SystemSendEnabled {
		t.Error("unset channels must stay at the safe default")
	}
	if snap.ConfidenceThreshold != 0.8 {
		t.Errorf("threshold = %v", snap.ConfidenceThreshold)
	}
}

func TestReloadLegacyDryRunMapsToAllChannels(t *testing.T) {
	store := NewSettingsStore(&fakeSettingsRepo{
		GetNamespaceFn: func(ctx context.Context, prefix string) ([]model.Setting, error) {
			return settingsRows(map[string]string{"dry_run": "false"}), nil
		},
	})

	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	snap := store.Snapshot()
	if !snap.CampaignSendEnabled || !snap.ManualSendEnabled || !snap.SystemSendEnabled {
		t.Error("dry_run=false should enable every channel on a legacy install")
	}
}

func TestReloadDryRunIgnoredOncePerChannelKeysExist(t *testing.T) {
	store := NewSettingsStore(&fakeSettingsRepo{
		GetNamespaceFn: func(ctx context.Context, prefix string) ([]model.Setting, error) {
			return settingsRows(map[string]string{
				"dry_run":             "false",
				"manual_send_enabled": "true",
			}), nil
		},
	})

	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	snap := store.Snapshot()
	if !snap.ManualSendEnabled {
		t.Error("explicit channel key not applied")
	}
	if snap.CampaignSendEnabled || snap.SystemSendEnabled {
		t.Error("dry_run must not leak into channels once per-channel keys exist")
	}
}

func TestReloadFailureKeepsPreviousSnapshot(t *testing.T) {
	calls := 0
	store := NewSettingsStore(&fakeSettingsRepo{
		GetNamespaceFn: func(ctx context.Context, prefix string) ([]model.Setting, error) {
			calls++
			if calls == 1 {
				return settingsRows(map[string]string{"hourly_send_limit": "10"}), nil
			}
			return nil, errors.New("mysql gone")
		},
	})

	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("first Reload: %v", err)
	}
	if err := store.Reload(context.Background()); err == nil {
		t.Fatal("second Reload should fail")
	}

	if got := store.Snapshot().HourlySendLimit; got != 10 {
		t.Errorf("limit = %d, previous snapshot not kept", got)
	}
}

func TestReloadMalformedValueFallsBackToDefault(t *testing.T) {
	store := NewSettingsStore(&fakeSettingsRepo{
		GetNamespaceFn: func(ctx context.Context, prefix string) ([]model.Setting, error) {
			return settingsRows(map[string]string{
				"hourly_send_limit": "lots",
				"daily_send_limit":  "100",
			}), nil
		},
	})

	if err := store.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	snap := store.Snapshot()
	if snap.HourlySendLimit != defaultSnapshot().HourlySendLimit {
		t.Errorf("malformed value overrode the default: %d", snap.HourlySendLimit)
	}
	if snap.DailySendLimit != 100 {
		t.Errorf("valid sibling key dropped: %d", snap.DailySendLimit)
	}
}
