package config

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/sethvargo/go-envconfig"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	BundlerURL          string        `env:"BUNDLER_URL"`
	BundlerAPIKey       string        `env:"BUNDLER_API_KEY"`
	PaymasterServiceURL string        `env:"PAYMASTER_SERVICE_URL"`
	PaymasterID         string        `env:"PAYMASTER_ID"`
	EntryPointAddress   string        `env:"ENTRY_POINT_ADDRESS,default=0x0000000071727De22E5E9d8BAf0edAc6f37da032"`
	ChainID             int64         `env:"CHAIN_ID"`
	Port                int           `env:"PORT,default=3001"`
	AllowedOrigins      string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	Environment         string        `env:"NODE_ENV,default=development"`
	UpstreamTimeout     time.Duration `env:"UPSTREAM_TIMEOUT,default=30s"`
	SentryURL           string        `env:"SENTRY_URL"`
	DiscordURL          string        `env:"DISCORD_URL"`
}

// New loads the configuration from the environment, reading envpath first when it is set
func New(ctx context.Context, envpath string) (*Config, error) {
	if envpath != "" {
		log.Default().Println("loading env from file: ", envpath)
		err := godotenv.Load(envpath)
		if err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	err := envconfig.Process(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.EntryPointAddress == "" {
		cfg.EntryPointAddress = userop.DefaultEntryPoint
	}

	return cfg, nil
}

// Origins splits ALLOWED_ORIGINS into trimmed, non-empty entries
func (c *Config) Origins() []string {
	origins := lo.Map(strings.Split(c.AllowedOrigins, ","), func(o string, _ int) string {
		return strings.TrimSpace(o)
	})

	return lo.Compact(origins)
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}
