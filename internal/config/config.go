// Package config содержит логику чтения конфигурации сервиса клиентов POS.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса клиентов POS.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	SalesSystemAddress string `env:"SALES_SYSTEM_ADDRESS"`
	AuthSecret         string `env:"AUTH_SECRET"`
	PointsTTLDays      int    `env:"POINTS_TTL_DAYS"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами; .env подхватывается, если присутствует.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSalesAddress := cfg.SalesSystemAddress
	envAuthSecret := cfg.AuthSecret
	envPointsTTL := cfg.PointsTTLDays

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SalesSystemAddress, "r", "", "sales system address")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookies")
	flag.IntVar(&cfg.PointsTTLDays, "t", 0, "points lifetime in days, 0 disables expiration")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSalesAddress != "" {
		cfg.SalesSystemAddress = envSalesAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envPointsTTL != 0 {
		cfg.PointsTTLDays = envPointsTTL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.PointsTTLDays < 0 {
		return nil, fmt.Errorf("points TTL must not be negative, got %d", cfg.PointsTTLDays)
	}

	return cfg, nil
}
