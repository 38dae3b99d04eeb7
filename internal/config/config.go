// Package config loads the settings the protoflow-tick entry point needs
// to connect to Postgres and run the scheduler, the way perles' internal/config
// loads its settings: a mapstructure-tagged struct populated by viper from
// environment variables, with defaults set before binding.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Database holds the connection parameters for the Postgres pool, named
// after the env vars testutils.NewPgSessionPool reads in the teacher repo
// so the same environment works for both the test suite and the server.
type Database struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// ConnString builds the libpq connection URL pgxpool.New expects.
func (d Database) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", d.Username, d.Password, d.Host, d.Port, d.Database)
}

// Scheduler controls the tick loop's batch size and poll cadence.
type Scheduler struct {
	BatchSize        int `mapstructure:"batch_size"`
	PollIntervalSecs int `mapstructure:"poll_interval_seconds"`
}

// PollInterval converts PollIntervalSecs to a time.Duration.
func (s Scheduler) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSecs) * time.Second
}

// Config is the complete set of settings protoflow-tick needs.
type Config struct {
	Database  Database  `mapstructure:"database"`
	Scheduler Scheduler `mapstructure:"scheduler"`
}

// Load reads Config from the environment, falling back to the teacher's
// local-dev defaults (db_username/db_password "devel", db_database
// "devel_grade") when a variable is unset.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.username", "devel")
	v.SetDefault("database.password", "devel")
	v.SetDefault("database.database", "devel_grade")
	v.SetDefault("scheduler.batch_size", 50)
	v.SetDefault("scheduler.poll_interval_seconds", 5)

	bindings := map[string]string{
		"database.host":                 "DB_HOST",
		"database.port":                 "DB_PORT",
		"database.username":             "DB_USERNAME",
		"database.password":             "DB_PASSWORD",
		"database.database":             "DB_DATABASE",
		"scheduler.batch_size":          "SCHEDULER_BATCH_SIZE",
		"scheduler.poll_interval_seconds": "SCHEDULER_POLL_INTERVAL_SECONDS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("config: bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}
