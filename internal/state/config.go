package state

import (
	"fmt"

	"PredictLedger/internal/event"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxDurationSeconds = 365 * 24 * 3600

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// ValidateGameConfig checks field ranges and cross-field rules.
func ValidateGameConfig(cfg event.GameConfig) error {
	if err := configValidator.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.MinMarketDurationSeconds > maxDurationSeconds {
		return fmt.Errorf("%w: min_market_duration_seconds %d exceeds one year", ErrInvalidConfig, cfg.MinMarketDurationSeconds)
	}
	if cfg.OracleVotingDurationSeconds > maxDurationSeconds {
		return fmt.Errorf("%w: oracle_voting_duration_seconds %d exceeds one year", ErrInvalidConfig, cfg.OracleVotingDurationSeconds)
	}
	return nil
}

// CheckAdmin enforces that caller is the configured admin. With no admin
// set nobody may change the config.
func CheckAdmin(cfg event.GameConfig, caller uuid.UUID) error {
	if cfg.Admin == nil || *cfg.Admin != caller {
		return ErrNotAdmin
	}
	return nil
}
