package app

import (
	"fmt"
	"strings"

	"github.com/hubofallthings/hatsync/internal/hat"
)

// ApplyRuntimeDefaults fills values that can be derived from other settings.
// It returns a map describing which keys were derived so callers can log the event without exposing values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	derived := make(map[string]bool)

	token := strings.TrimSpace(cfg.HAT.Token)
	if strings.TrimSpace(cfg.HAT.Domain) == "" && token != "" {
		info, err := hat.ParseToken(token)
		if err == nil && info.Domain != "" {
			cfg.HAT.Domain = info.Domain
			derived["hat.domain"] = true
		}
	}

	if cfg.Maintenance.LogRetentionDays == 0 && strings.TrimSpace(cfg.Maintenance.LogSchedule) != "" {
		cfg.Maintenance.LogSchedule = ""
		derived["maintenance.log_schedule"] = true
	}

	return derived, nil
}
