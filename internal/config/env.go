package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvBotToken     = "BOT_TOKEN"
	EnvAdminID      = "ADMIN_ID"
	EnvTimeLimitMin = "TIME_LIMIT_MIN"
	EnvStorageDSN   = "STORAGE_DSN"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overlays secrets and operator overrides from the environment.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if v := strings.TrimSpace(os.Getenv(EnvBotToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAdminID)); v != "" {
		for _, part := range strings.Split(v, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return errors.New(EnvAdminID + ": invalid user id " + strconv.Quote(part))
			}
			if !containsID(cfg.Telegram.OwnerUserIDs, id) {
				cfg.Telegram.OwnerUserIDs = append(cfg.Telegram.OwnerUserIDs, id)
			}
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvTimeLimitMin)); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil || mins < 0 {
			return errors.New(EnvTimeLimitMin + ": expected a non-negative number of minutes")
		}
		d := strconv.Itoa(mins) + "m"
		cfg.Cooldown.Random = d
		cfg.Cooldown.Search = d
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorageDSN)); v != "" {
		cfg.Storage.DSN = v
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
