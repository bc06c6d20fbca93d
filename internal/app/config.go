package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (GAMESHOP_ prefix), a .env file, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (GAMESHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for admin API key hashing" flag:"api-key-pepper"`
	JWTSecret    string `usage:"HS256 secret for admin bearer tokens, empty disables them" flag:"jwt-secret"`
	Kafka        KafkaConfig
	Promo        PromoConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// KafkaConfig controls redemption event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"promo.redeemed" usage:"Topic for redemption events"`
}

// PromoConfig tunes the discount engine.
type PromoConfig struct {
	LookupLimit int `default:"8" usage:"Concurrent catalog lookups per validation" flag:"promo-lookup-limit"`
}

// RateLimitConfig controls the per-client limiter on the validation endpoint.
type RateLimitConfig struct {
	Max    int           `default:"30" usage:"Max validation requests per window"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from a .env file, environment variables and
// YAML config files, then applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(false, ".env")
}

func loadConfig(skipFlags bool, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		// Existing environment wins over the file.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "load %s", f)
		}
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		SkipFlags: skipFlags,
		EnvPrefix: "GAMESHOP",
		Files:     []string{"config.yaml", "/etc/gameshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set GAMESHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set GAMESHOP_API_KEY_PEPPER")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names to the GAMESHOP_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" && isWildcard(c.CORS.Origins) {
		var origins []string
		for o := range strings.SplitSeq(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORS.Origins = origins
	}
}

func isWildcard(origins []string) bool {
	return len(origins) == 0 || (len(origins) == 1 && origins[0] == "*")
}
