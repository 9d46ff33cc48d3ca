package config

import (
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port                   string `env:"PORT" envDefault:"8080"`
	DBUser                 string `env:"DB_USER,required"`
	DBPassword             string `env:"DB_PASSWORD,required"`
	DBHost                 string `env:"DB_HOST,required"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME,required"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`

	// AuthMode selects the token verifier: "firebase" (default) or "jwt"
	// for local development.
	AuthMode          string `env:"AUTH_MODE" envDefault:"firebase"`
	FirebaseProjectID string `env:"FIREBASE_PROJECT_ID"`
	JWTSecret         string `env:"JWT_SECRET"`

	MediaBucket          string        `env:"MEDIA_BUCKET"`
	MediaCredentialsFile string        `env:"MEDIA_CREDENTIALS_FILE"`
	MediaURLTTL          time.Duration `env:"MEDIA_URL_TTL" envDefault:"15m"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
