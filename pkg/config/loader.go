package config

import (
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/a-essam23/pairpad/pkg/session"
	"github.com/a-essam23/pairpad/pkg/session/codegen"
)

// Load reads configuration from a file and environment variables.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.corsOrigins", []string{"*"})
	v.SetDefault("server.acceptsPerSecond", 10.0)
	v.SetDefault("server.acceptBurst", 20)
	v.SetDefault("session.codeLength", codegen.DefaultLength)
	v.SetDefault("session.alphabet", codegen.DefaultAlphabet)
	v.SetDefault("session.maxContentBytes", session.MaxContentBytes)
	v.SetDefault("transport.readTimeout", "120s")
	v.SetDefault("relay.settleDelay", "100ms")
	v.SetDefault("relay.typingClear", "1200ms")
	v.SetDefault("store.redisURL", "")

	// 2. Set config file details
	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".") // look for config in the working directory

	// 3. Set up environment variable handling
	v.SetEnvPrefix("PAIRPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	}

	// 5. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
