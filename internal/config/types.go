package config

import "time"

// CurrentConfigVersion is the config schema version written by Save.
const CurrentConfigVersion = 1

// Config is the global dockwatch configuration.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// DockerHost overrides DOCKER_HOST for the local engine, e.g.
	// unix:///var/run/docker.sock.
	DockerHost string `yaml:"docker_host,omitempty" mapstructure:"docker_host"`

	// ProfilesFile is where connection profiles are stored.
	ProfilesFile string `yaml:"profiles_file" mapstructure:"profiles_file"`

	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Timeouts TimeoutsConfig `yaml:"timeouts" mapstructure:"timeouts"`
	Poll     PollConfig     `yaml:"poll" mapstructure:"poll"`
	SSH      SSHConfig      `yaml:"ssh" mapstructure:"ssh"`
}

// LogConfig controls the logrus logger.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	// File enables the rotated file sink. Empty logs to stderr.
	File string `yaml:"file,omitempty" mapstructure:"file"`
}

// TimeoutsConfig bounds every transport call.
type TimeoutsConfig struct {
	Query    time.Duration `yaml:"query" mapstructure:"query"`
	Mutation time.Duration `yaml:"mutation" mapstructure:"mutation"`
	Connect  time.Duration `yaml:"connect" mapstructure:"connect"`
}

// PollConfig tunes the refresh loop. The interval itself is fixed.
type PollConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	StatsConcurrency int `yaml:"stats_concurrency" mapstructure:"stats_concurrency"`
}

// SSHConfig holds host key policy for remote targets.
type SSHConfig struct {
	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
	KnownHosts            string `yaml:"known_hosts,omitempty" mapstructure:"known_hosts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:      CurrentConfigVersion,
		ProfilesFile: "~/" + GlobalConfigDir + "/" + ProfilesFileName,
		Log: LogConfig{
			Level: "info",
		},
		Timeouts: TimeoutsConfig{
			Query:    10 * time.Second,
			Mutation: 30 * time.Second,
			Connect:  10 * time.Second,
		},
		Poll: PollConfig{
			FailureThreshold: 3,
			StatsConcurrency: 8,
		},
		SSH: SSHConfig{
			StrictHostKeyChecking: true,
		},
	}
}
