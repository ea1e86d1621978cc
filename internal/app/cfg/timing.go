package cfg

import (
	"time"

	"gridnet/internal"
	"gridnet/internal/app/apps"
	"gridnet/internal/pkg/reliable"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// timingFile is the TOML shape of a protocol timing override file.
// Keys absent from the file keep their stock values.
type timingFile struct {
	Timing struct {
		RetransmitBaseMS    int64 `toml:"retransmit_base_ms"`
		RetransmitCapMS     int64 `toml:"retransmit_cap_ms"`
		MaxRetries          int   `toml:"max_retries"`
		GapWaitMS           int64 `toml:"gap_wait_ms"`
		HeartbeatIntervalMS int64 `toml:"heartbeat_interval_ms"`
		MissedThreshold     int   `toml:"missed_threshold"`
	} `toml:"timing"`
}

// TimingCfg is configuration for the protocol timing policy.
type TimingCfg struct {
	policy reliable.Policy
}

// NewTimingCfg creates a new TimingCfg from the given policy.
func NewTimingCfg(policy reliable.Policy) *TimingCfg {
	return &TimingCfg{
		policy: policy,
	}
}

// TimingFromEnv creates a new TimingCfg from the current environment,
// loading the TOML override file when one is configured.
func TimingFromEnv() (*TimingCfg, error) {
	return timingFromFile(internal.TimingFile)
}

func timingFromFile(path string) (*TimingCfg, error) {
	policy := reliable.DefaultPolicy()
	if path == "" {
		return &TimingCfg{policy: policy}, nil
	}

	var f timingFile
	f.Timing.RetransmitBaseMS = policy.RetransmitBase.Milliseconds()
	f.Timing.RetransmitCapMS = policy.RetransmitCap.Milliseconds()
	f.Timing.MaxRetries = policy.MaxRetries
	f.Timing.GapWaitMS = policy.GapWait.Milliseconds()
	f.Timing.HeartbeatIntervalMS = policy.HeartbeatInterval.Milliseconds()
	f.Timing.MissedThreshold = policy.MissedThreshold
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, errors.Wrapf(err, "decode timing file %s failed", path)
	}

	policy = reliable.Policy{
		RetransmitBase:    time.Duration(f.Timing.RetransmitBaseMS) * time.Millisecond,
		RetransmitCap:     time.Duration(f.Timing.RetransmitCapMS) * time.Millisecond,
		MaxRetries:        f.Timing.MaxRetries,
		GapWait:           time.Duration(f.Timing.GapWaitMS) * time.Millisecond,
		HeartbeatInterval: time.Duration(f.Timing.HeartbeatIntervalMS) * time.Millisecond,
		MissedThreshold:   f.Timing.MissedThreshold,
	}
	if policy.RetransmitBase <= 0 || policy.RetransmitCap < policy.RetransmitBase {
		return nil, errors.Errorf("timing file %s has an invalid retransmit window", path)
	}
	if policy.MaxRetries < 1 || policy.MissedThreshold < 1 {
		return nil, errors.Errorf("timing file %s has an invalid retry or heartbeat bound", path)
	}
	return &TimingCfg{policy: policy}, nil
}

// ApplyClientApp applies the TimingCfg to a ClientApp.
func (cfg TimingCfg) ApplyClientApp(app *apps.ClientApp) error {
	app.Policy = cfg.policy
	return nil
}

// ApplyServerApp applies the TimingCfg to a ServerApp.
func (cfg TimingCfg) ApplyServerApp(app *apps.ServerApp) error {
	app.Policy = cfg.policy
	return nil
}
