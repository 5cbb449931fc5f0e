package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
)

// Config collects the server settings. Defaults suit local development;
// env vars (optionally from a .env file) override.
type Config struct {
	Addr          string `default:":8000"`
	SQLitePath    string `default:"kickvibe.db"`
	MySQLDSN      string
	CloudinaryURL string
	JWTSecret     string `default:"kickvibe-dev-secret"`
	AdminToken    string
	DevMode       bool
}

func loadConfig() (Config, error) {
	// .env is optional; absence is not an error
	_ = godotenv.Load()

	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return cfg, fmt.Errorf("config defaults: %w", err)
	}
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("KICKVIBE_DB"); v != "" {
		cfg.SQLitePath = v
	}
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.CloudinaryURL = os.Getenv("CLOUDINARY_URL")
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if v := os.Getenv("DEV_MODE"); v == "1" || strings.ToLower(v) == "true" {
		cfg.DevMode = true
	}
	return cfg, nil
}
