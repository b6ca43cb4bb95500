// Package recovery reacts to failed health checks by walking a
// component's configured recovery actions in order until one succeeds,
// with per-component cooldown and attempt limits.
package recovery

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

// Action names a recovery step.
type Action string

const (
	ActionRestartService Action = "restart_service"
	ActionClearCache     Action = "clear_cache"
	ActionRestartProcess Action = "restart_process"
	ActionCustomScript   Action = "custom_script"
	ActionAlertOnly      Action = "alert_only"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRestartService, ActionClearCache, ActionRestartProcess, ActionCustomScript, ActionAlertOnly:
		return true
	}
	return false
}

// Defaults applied by Normalize.
const (
	DefaultActionTimeout    = 30 * time.Second
	DefaultCheckInterval    = 30 * time.Second
	DefaultCooldown         = 5 * time.Minute
	DefaultMaxAttempts      = 3
	DefaultFailureThreshold = 1
)

// ComponentConfig declares how one component is recovered.
type ComponentConfig struct {
	Component     string        `yaml:"component"`
	CheckInterval time.Duration `yaml:"check_interval"`
	// Timeout bounds each action.
	Timeout time.Duration `yaml:"timeout"`
	Actions []Action      `yaml:"actions"`
	// FailureThreshold is the number of consecutive failed checks before
	// recovery starts.
	FailureThreshold int `yaml:"failure_threshold"`
	// MaxAttempts is the number of consecutive failed recovery runs after
	// which the component is suppressed for Cooldown.
	MaxAttempts int           `yaml:"max_attempts"`
	Cooldown    time.Duration `yaml:"cooldown"`
	// Script is the shell command run by custom_script.
	Script string `yaml:"script"`
}

// Normalize fills defaults and validates c.
func (c *ComponentConfig) Normalize() error {
	if c.Component == "" {
		return sserr.New(sserr.CodeValidationRequired, "recovery: component is required")
	}
	if len(c.Actions) == 0 {
		return sserr.Newf(sserr.CodeValidationRequired, "recovery: %s: at least one action is required", c.Component)
	}
	for _, a := range c.Actions {
		if !a.Valid() {
			return sserr.Newf(sserr.CodeValidationFormat, "recovery: %s: unknown action %q", c.Component, a)
		}
		if a == ActionCustomScript && c.Script == "" {
			return sserr.Newf(sserr.CodeValidationRequired, "recovery: %s: custom_script needs a script", c.Component)
		}
	}
	if c.FailureThreshold < 0 || c.MaxAttempts < 0 || c.Cooldown < 0 || c.Timeout < 0 {
		return sserr.Newf(sserr.CodeValidationRange, "recovery: %s: limits must not be negative", c.Component)
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultActionTimeout
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.Cooldown == 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	return nil
}

type configFile struct {
	Components []ComponentConfig `yaml:"components"`
}

// LoadConfigs decodes and normalizes a YAML document of the form
//
//	components:
//	  - component: postgres
//	    actions: [restart_service, alert_only]
//	    cooldown: 10m
func LoadConfigs(r io.Reader) ([]ComponentConfig, error) {
	var f configFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "recovery: decode config")
	}
	seen := make(map[string]bool, len(f.Components))
	for i := range f.Components {
		c := &f.Components[i]
		if err := c.Normalize(); err != nil {
			return nil, err
		}
		if seen[c.Component] {
			return nil, sserr.Newf(sserr.CodeConflictAlreadyExists, "recovery: component %q configured twice", c.Component)
		}
		seen[c.Component] = true
	}
	return f.Components, nil
}

// LoadConfigFile reads LoadConfigs input from path.
func LoadConfigFile(path string) ([]ComponentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recovery: open config: %w", err)
	}
	defer f.Close()
	return LoadConfigs(f)
}
