package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port       string
	DBDriver   string // sqlite | pgx
	DBDSN      string
	LogFile    string
	KeyPath    string
	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	BcryptCost int
	SeedDemo   bool

	LoginRateLimit  int
	LoginRatePeriod time.Duration
	// GlobalRatePerMin caps requests per client per minute across the API;
	// 0 disables the cap.
	GlobalRatePerMin int
}

// fileConfig is the on-disk shape; durations are strings such as "5m".
type fileConfig struct {
	Port             string `toml:"port" yaml:"port"`
	DBDriver         string `toml:"db_driver" yaml:"db_driver"`
	DBDSN            string `toml:"db_dsn" yaml:"db_dsn"`
	LogFile          string `toml:"log_file" yaml:"log_file"`
	KeyPath          string `toml:"key_path" yaml:"key_path"`
	JWTSecret        string `toml:"jwt_secret" yaml:"jwt_secret"`
	AccessTTL        string `toml:"access_ttl" yaml:"access_ttl"`
	RefreshTTL       string `toml:"refresh_ttl" yaml:"refresh_ttl"`
	BcryptCost       int    `toml:"bcrypt_cost" yaml:"bcrypt_cost"`
	SeedDemo         *bool  `toml:"seed_demo" yaml:"seed_demo"`
	LoginRateLimit   int    `toml:"login_rate_limit" yaml:"login_rate_limit"`
	LoginRatePeriod  string `toml:"login_rate_period" yaml:"login_rate_period"`
	GlobalRatePerMin *int   `toml:"rate_limit_per_min" yaml:"rate_limit_per_min"`
}

func Defaults() Config {
	return Config{
		Port:            "8080",
		DBDriver:        "sqlite",
		DBDSN:           "storefront.db", // sqlite file in project root
		LogFile:         "",
		KeyPath:         "private_key.pem",
		AccessTTL:       5 * time.Minute,
		RefreshTTL:      7 * 24 * time.Hour,
		BcryptCost:      12,
		SeedDemo:        true,
		LoginRateLimit:  5,
		LoginRatePeriod: 300 * time.Second,
		// per client, across the whole API
		GlobalRatePerMin: 60,
	}
}

// Load builds the config from defaults, then CONFIG_FILE (TOML or YAML by
// extension), then environment variables.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return Config{}, err
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		log.Printf("[config] JWT_SECRET not set; using an ephemeral secret (tokens die with the process)")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	log.Printf("[config] PORT=%s DB_DRIVER=%s DB_DSN=%s LOG_FILE=%s KEY_PATH=%s ACCESS_TTL=%s REFRESH_TTL=%s LOGIN_RATE=%d/%s",
		cfg.Port, cfg.DBDriver, redactDSN(cfg.DBDSN), cfg.LogFile, cfg.KeyPath, cfg.AccessTTL, cfg.RefreshTTL,
		cfg.LoginRateLimit, cfg.LoginRatePeriod)
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(raw, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &fc)
	default:
		return fmt.Errorf("config file %s: unsupported extension", path)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&cfg.Port, fc.Port)
	setString(&cfg.DBDriver, fc.DBDriver)
	setString(&cfg.DBDSN, fc.DBDSN)
	setString(&cfg.LogFile, fc.LogFile)
	setString(&cfg.KeyPath, fc.KeyPath)
	setString(&cfg.JWTSecret, fc.JWTSecret)
	if fc.BcryptCost != 0 {
		cfg.BcryptCost = fc.BcryptCost
	}
	if fc.LoginRateLimit != 0 {
		cfg.LoginRateLimit = fc.LoginRateLimit
	}
	if fc.SeedDemo != nil {
		cfg.SeedDemo = *fc.SeedDemo
	}
	if fc.GlobalRatePerMin != nil {
		cfg.GlobalRatePerMin = *fc.GlobalRatePerMin
	}
	for _, d := range []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&cfg.AccessTTL, fc.AccessTTL, "access_ttl"},
		{&cfg.RefreshTTL, fc.RefreshTTL, "refresh_ttl"},
		{&cfg.LoginRatePeriod, fc.LoginRatePeriod, "login_rate_period"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Port, os.Getenv("PORT"))
	setString(&cfg.DBDriver, os.Getenv("DB_DRIVER"))
	setString(&cfg.DBDSN, os.Getenv("DB_DSN"))
	setString(&cfg.LogFile, os.Getenv("LOG_FILE"))
	setString(&cfg.KeyPath, os.Getenv("KEY_PATH"))
	setString(&cfg.JWTSecret, os.Getenv("JWT_SECRET"))

	for _, d := range []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.AccessTTL, "ACCESS_TTL"},
		{&cfg.RefreshTTL, "REFRESH_TTL"},
		{&cfg.LoginRatePeriod, "LOGIN_RATE_PERIOD"},
	} {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}
	for _, n := range []struct {
		dst *int
		key string
	}{
		{&cfg.BcryptCost, "BCRYPT_COST"},
		{&cfg.LoginRateLimit, "LOGIN_RATE_LIMIT"},
		{&cfg.GlobalRatePerMin, "RATE_LIMIT_PER_MIN"},
	} {
		if v := os.Getenv(n.key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", n.key, err)
			}
			*n.dst = parsed
		}
	}
	if v := os.Getenv("SEED_DEMO"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SEED_DEMO: %w", err)
		}
		cfg.SeedDemo = b
	}
	return nil
}

func (c Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or pgx, got %q", c.DBDriver)
	}
	if c.LoginRateLimit < 1 || c.LoginRatePeriod <= 0 {
		return fmt.Errorf("login rate limit must be positive")
	}
	if c.GlobalRatePerMin < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN cannot be negative")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// redactDSN hides a password in URL-style DSNs before logging.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if user, _, ok := strings.Cut(creds, ":"); ok {
		return dsn[:scheme+3] + user + ":***" + dsn[at:]
	}
	return dsn
}
