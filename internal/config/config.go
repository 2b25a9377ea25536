package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// empty RedisURL runs the in-memory store; empty DatabaseURL keeps results in memory
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	JWTSecret            string `env:"JWT_SECRET"`
	JWTIssuer            string `env:"JWT_ISSUER"`
	LobbyServiceAudience string `env:"LOBBY_SERVICE_AUDIENCE" envDefault:"match-intake"`

	AccountBaseURL string `env:"ACCOUNT_BASE_URL"`
	AccountAPIKey  string `env:"ACCOUNT_API_KEY"`

	CatalogFile string `env:"CATALOG_FILE"`
	MessagesDir string `env:"MESSAGES_DIR"`

	MatchTTL              time.Duration `env:"MATCH_TTL" envDefault:"2h"`
	SweepInterval         time.Duration `env:"MATCH_SWEEP_INTERVAL" envDefault:"30s"`
	SweepBatch            int           `env:"MATCH_SWEEP_BATCH" envDefault:"100"`
	RematchWindow         time.Duration `env:"REMATCH_WINDOW" envDefault:"2m"`
	ForceLeaveGrace       time.Duration `env:"FORCE_LEAVE_GRACE" envDefault:"3s"`
	TiebreakAnnounceDelay time.Duration `env:"TIEBREAK_ANNOUNCE_DELAY" envDefault:"2s"`
	WinCoins              int           `env:"MATCH_WIN_COINS" envDefault:"2"`
	ForfeitCoins          int           `env:"MATCH_FORFEIT_COINS" envDefault:"1"`
	AgreedCoins           int           `env:"MATCH_AGREED_WIN_COINS" envDefault:"1"`
	StoreWriteAttempts    int           `env:"STORE_WRITE_ATTEMPTS" envDefault:"5"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`
	ServiceName  string `env:"SERVICE_NAME" envDefault:"pawnline-match-server"`
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) normalize() {
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.AccountBaseURL = strings.TrimRight(strings.TrimSpace(c.AccountBaseURL), "/")
	c.OTELEndpoint = strings.TrimSpace(c.OTELEndpoint)
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
}

func (c *AppConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.MatchTTL <= 0 {
		errs = append(errs, errors.New("MATCH_TTL must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("MATCH_SWEEP_INTERVAL must be positive"))
	}
	// 배치가 0이면 스윕이 아무것도 못 가져감
	if c.SweepBatch < 1 {
		errs = append(errs, errors.New("MATCH_SWEEP_BATCH must be at least 1"))
	}
	if c.RematchWindow <= 0 {
		errs = append(errs, errors.New("REMATCH_WINDOW must be positive"))
	}
	if c.ForceLeaveGrace < 0 || c.TiebreakAnnounceDelay < 0 {
		errs = append(errs, errors.New("FORCE_LEAVE_GRACE and TIEBREAK_ANNOUNCE_DELAY must not be negative"))
	}
	if c.WinCoins < 0 || c.ForfeitCoins < 0 || c.AgreedCoins < 0 {
		errs = append(errs, errors.New("coin rewards must not be negative"))
	}
	if c.StoreWriteAttempts < 1 {
		errs = append(errs, errors.New("STORE_WRITE_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}
