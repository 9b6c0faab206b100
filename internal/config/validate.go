package config

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/dockwatch/internal/errors"
	"github.com/sirupsen/logrus"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg.Version > CurrentConfigVersion {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("This config is from the future (version %d, but dockwatch only knows up to %d)", cfg.Version, CurrentConfigVersion),
			"Upgrade dockwatch or lower the version field")
	}

	if cfg.Log.Level != "" {
		if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Unknown log level '%s'", cfg.Log.Level),
				"Use one of: debug, info, warn, error")
		}
	}

	if cfg.Timeouts.Query <= 0 || cfg.Timeouts.Mutation <= 0 || cfg.Timeouts.Connect <= 0 {
		return errors.New(errors.ErrConfig,
			"Timeouts must be positive",
			"Set timeouts.query, timeouts.mutation and timeouts.connect to durations like 10s")
	}

	if cfg.Timeouts.Mutation < cfg.Timeouts.Query {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("timeouts.mutation (%s) is shorter than timeouts.query (%s)", cfg.Timeouts.Mutation, cfg.Timeouts.Query),
			"Mutating actions take longer than queries, raise timeouts.mutation")
	}

	if cfg.Poll.FailureThreshold < 1 {
		return errors.New(errors.ErrConfig,
			"poll.failure_threshold must be at least 1",
			"The default is 3")
	}

	if cfg.Poll.StatsConcurrency < 1 {
		return errors.New(errors.ErrConfig,
			"poll.stats_concurrency must be at least 1",
			"The default is 8")
	}

	if strings.TrimSpace(cfg.ProfilesFile) == "" {
		return errors.New(errors.ErrConfig,
			"profiles_file is empty",
			"Remove the key to use the default location")
	}

	return nil
}
