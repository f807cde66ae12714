package config

// NewDefaults returns a Config populated with default values. Values not
// present in the loaded TOML file are filled in by applyDefaults after
// decoding, mirroring the defaulting teacher's configuration applies on
// OnConfigurationChange.
func NewDefaults() *Config {
	return &Config{
		PollIntervalSeconds:          defaultPollIntervalSeconds,
		AssignmentGracePeriodSeconds: defaultAssignmentGracePeriodSeconds,
		RecoveryCooldownSeconds:      defaultRecoveryCooldownSeconds,
		Projects:                     map[string]ProjectConfig{},
	}
}

const (
	defaultPollIntervalSeconds          = 60
	defaultAssignmentGracePeriodSeconds = 120
	defaultRecoveryCooldownSeconds      = 300
	minPollIntervalSeconds              = 10
)

// applyDefaults fills in zero-valued fields after a TOML decode, the same
// clamping the teacher's GetPollInterval performs for an out-of-range value.
func (c *Config) applyDefaults() {
	if c.PollIntervalSeconds < minPollIntervalSeconds {
		c.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.AssignmentGracePeriodSeconds <= 0 {
		c.AssignmentGracePeriodSeconds = defaultAssignmentGracePeriodSeconds
	}
	if c.RecoveryCooldownSeconds <= 0 {
		c.RecoveryCooldownSeconds = defaultRecoveryCooldownSeconds
	}
	for alias, p := range c.Projects {
		if p.DefaultBranch == "" {
			p.DefaultBranch = "main"
			c.Projects[alias] = p
		}
	}
}
