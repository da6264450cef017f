package goMembership

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable LoadConfig reads, for example
// GOMEMBERSHIP_SESSION_TIMEOUT.
const EnvPrefix = "GOMEMBERSHIP_"

var dotenvLoaded sync.Once

// LoadConfig returns DefaultConfig overlaid with environment variables. A
// .env file in the working directory is read once, if present; variables
// already set in the process take precedence over it.
func LoadConfig() (Config, error) {
	dotenvLoaded.Do(func() {
		// The .env file is optional.
		_ = godotenv.Load()
	})
	return LoadConfigFrom(nil)
}

// LoadConfigFrom is LoadConfig over an explicit variable set. A nil map
// reads the process environment.
func LoadConfigFrom(environment map[string]string) (Config, error) {
	cfg := defaultConfig()

	opts := env.Options{
		Prefix: EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf([]byte(nil)): func(v string) (interface{}, error) {
				return []byte(v), nil
			},
		},
	}
	if environment != nil {
		opts.Environment = environment
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
