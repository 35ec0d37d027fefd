package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds the environment variables the hub reads. Flags take precedence
// over the values here wherever both exist.
type Env struct {
	Mode           string `envconfig:"COCALC_MODE"`
	PGHost         string `envconfig:"PGHOST"`
	NoIdleTimeout  bool   `envconfig:"COCALC_NO_IDLE_TIMEOUT"`
	BehindTLSProxy bool   `envconfig:"COCALC_BEHIND_TLS_PROXY"`
	RedisAddr      string `envconfig:"COCALC_REDIS_ADDR"`
	Port           int    `envconfig:"PORT" default:"5000"`
	BasePath       string `envconfig:"BASE_PATH" default:"/"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile        string `envconfig:"LOG_FILE"`
	User           string `envconfig:"USER"`
	StripeAPIBase  string `envconfig:"COCALC_STRIPE_API" default:"https://api.stripe.com"`
	SettingsPrefix string `envconfig:"COCALC_SETTINGS_PREFIX" default:"COCALC_SETTING_"`

	VacuumIntervalHours int     `envconfig:"COCALC_DB_VACUUM_INTERVAL_HOURS" default:"24"`
	VacuumMinFreeMB     int     `envconfig:"COCALC_DB_VACUUM_MIN_FREE_MB" default:"16"`
	VacuumMinFreeRatio  float64 `envconfig:"COCALC_DB_VACUUM_MIN_FREE_RATIO" default:"0.2"`
}

// LoadEnv reads an optional .env file and decodes the process environment.
func LoadEnv() (Env, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load(".env")
	}

	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return Env{}, err
	}
	return env, nil
}
