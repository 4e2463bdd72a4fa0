package speedwatch

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/vscd/dbopen"
	"github.com/hazyhaar/vscd/speedwatch/internal/settings"
)

// SettingsProvider is the settings backend shared by every page.
type SettingsProvider = settings.Provider

// SettingsStore keeps the settings in SQLite so that several processes
// see each other's writes.
type SettingsStore = settings.Store

// OpenSettings opens the settings database named by cfg. The store's
// defaults are the configured ones. The caller blank-imports the driver
// and closes the returned DB.
func OpenSettings(cfg *Config, logger *slog.Logger) (*SettingsStore, *sql.DB, error) {
	base, err := cfg.BaseSettings()
	if err != nil {
		return nil, nil, fmt.Errorf("speedwatch: settings defaults: %w", err)
	}
	db, err := dbopen.Open(cfg.Settings.DB, dbopen.WithMkdirAll(), dbopen.WithSchema(settings.Schema))
	if err != nil {
		return nil, nil, err
	}
	st, err := settings.NewStore(db, &base, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return st, db, nil
}
