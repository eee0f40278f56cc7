package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads .env files so ${VAR} references in the config file can
// resolve. Explicit paths win; otherwise ./.env then ~/.env are tried.
// Variables already present in the environment are never overwritten.
func LoadDotEnv(paths ...string) {
	if len(paths) > 0 {
		for _, p := range paths {
			loadIfExists(p)
		}
		return
	}

	loadIfExists(".env")

	if home, err := os.UserHomeDir(); err == nil {
		loadIfExists(filepath.Join(home, ".env"))
	}
}

func loadIfExists(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	// godotenv.Load never overwrites variables that are already set.
	if err := godotenv.Load(path); err != nil {
		slog.Debug("skipping unreadable env file", "path", path, "error", err)
		return
	}
	slog.Debug("loaded env file", "path", path)
}
