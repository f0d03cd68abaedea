package kubernetes

import "time"

// Config controls lease based leader election.
type Config struct {
	Namespace    string
	LeaderLockID string
	Identity     string
	// KubeConfig is used when not running inside a cluster. Empty selects the
	// default kubeconfig location.
	KubeConfig string

	LeaseDuration time.Duration
	RenewDeadline time.Duration
	RetryPeriod   time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.LeaseDuration == 0 {
		out.LeaseDuration = 15 * time.Second
	}
	if out.RenewDeadline == 0 {
		out.RenewDeadline = 10 * time.Second
	}
	if out.RetryPeriod == 0 {
		out.RetryPeriod = 2 * time.Second
	}
	return out
}
