// Copyright 2024 The Valrig Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads the runner's machine-local configuration.
//
// The config file is optional: a missing file yields a config of pure
// defaults, so a checkout with the conventional directory layout works with
// no setup. Command line flags override individual fields after loading.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/valrig/valrig/errors"
)

// DefaultFilename is looked up relative to the workspace root when no
// explicit config path is given.
const DefaultFilename = "valrig.yaml"

// Config holds runner settings.
type Config struct {
	// CaseRoot, SuiteRoot and PlanRoot are the discovery roots.
	CaseRoot  string `yaml:"caseRoot"`
	SuiteRoot string `yaml:"suiteRoot"`
	PlanRoot  string `yaml:"planRoot"`

	// ResultsRoot is where run folders and index.jsonl are created.
	ResultsRoot string `yaml:"resultsRoot"`

	// AssetsRoot is the shared read-only asset tree exposed to scripts.
	AssetsRoot string `yaml:"assetsRoot"`

	// Interpreter is the leaf script runtime command plus leading
	// arguments, e.g. [pwsh, -NoProfile, -File].
	Interpreter []string `yaml:"interpreter"`

	// DefaultTimeoutSec applies to cases whose manifest sets no timeout.
	DefaultTimeoutSec int `yaml:"defaultTimeoutSec"`

	// RebootCommand triggers the machine reboot on a suspension. Reboot
	// handling is disabled when empty.
	RebootCommand []string `yaml:"rebootCommand"`
}

// Load reads the config at path. A missing file is not an error; the
// returned config then contains only defaults rooted at workDir.
func Load(path, workDir string) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	} else if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}
	cfg.DeriveDefaults(workDir)
	return &cfg, nil
}

// DeriveDefaults fills unset fields with the conventional layout under
// workDir.
func (c *Config) DeriveDefaults(workDir string) {
	setIfEmpty := func(p *string, value string) {
		if *p == "" {
			*p = value
		}
	}
	setIfEmpty(&c.CaseRoot, filepath.Join(workDir, "cases"))
	setIfEmpty(&c.SuiteRoot, filepath.Join(workDir, "suites"))
	setIfEmpty(&c.PlanRoot, filepath.Join(workDir, "plans"))
	setIfEmpty(&c.ResultsRoot, filepath.Join(workDir, "results"))
	setIfEmpty(&c.AssetsRoot, filepath.Join(workDir, "assets"))
	if len(c.Interpreter) == 0 {
		c.Interpreter = []string{"pwsh", "-NoProfile", "-NonInteractive", "-File"}
	}
	if c.DefaultTimeoutSec <= 0 {
		c.DefaultTimeoutSec = int((30 * time.Minute).Seconds())
	}
}

// DefaultTimeout returns the default leaf timeout as a duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSec) * time.Second
}

// RebootEnabled reports whether a reboot command is configured.
func (c *Config) RebootEnabled() bool {
	return len(c.RebootCommand) > 0
}
