package app

import (
	"fmt"

	"remindbot/internal/config"
	"remindbot/internal/recurrence"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// OpenStore opens the store and calculator described by the config at
// cfgPath without starting the bot. Used by operator commands.
func OpenStore(cfgPath string, log logx.Logger) (storage.Store, recurrence.Calculator, error) {
	cfg, err := config.ParseFile(cfgPath)
	if err != nil {
		return nil, recurrence.Calculator{}, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, recurrence.Calculator{}, err
	}
	tz, err := mapDefaultTimezone(cfg)
	if err != nil {
		return nil, recurrence.Calculator{}, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, recurrence.Calculator{}, fmt.Errorf("open storage: %w", err)
	}
	return st, recurrence.New(tz), nil
}
