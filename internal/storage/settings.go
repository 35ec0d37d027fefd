package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

const (
	SettingVersionRecommended = "version_recommended_browser"
	SettingVersionMin         = "version_min_browser"
	SettingSiteName           = "site_name"
	SettingStripeSecretKey    = "stripe_secret_key"
)

func GetServerSetting(ctx context.Context, db *DB, name string) (string, bool, error) {
	var v string
	err := db.QueryRowContext(ctx, "SELECT value FROM server_settings WHERE name = ?", name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func SetServerSetting(ctx context.Context, db *DB, name, value string) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO server_settings (name, value) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET value = excluded.value
`, name, value)
	return err
}

func ServerSettings(ctx context.Context, db *DB) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, value FROM server_settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// LoadServerSettingsFromEnv copies every PREFIX_NAME=value entry of environ
// into server_settings as name=value (name lower-cased). It returns the
// names written.
func LoadServerSettingsFromEnv(ctx context.Context, db *DB, environ []string, prefix string) ([]string, error) {
	if prefix == "" {
		return nil, errors.New("settings prefix is empty")
	}
	var written []string
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, prefix))
		if name == "" {
			continue
		}
		if err := SetServerSetting(ctx, db, name, value); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	return written, nil
}
