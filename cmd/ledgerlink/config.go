package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML configuration file layout. Every field is
// optional; command-line flags win over file values.
//
//	account: 3
//	log_level: debug
//	trace_file: /tmp/ledgerlink.trace
//	retry_interval: 500ms
//	retry_budget: 10s
type fileConfig struct {
	Account          int      `yaml:"account"`
	Path             string   `yaml:"path"`
	Connect          *bool    `yaml:"connect"`
	Interactive      *bool    `yaml:"interactive"`
	LogLevel         string   `yaml:"log_level"`
	TraceFile        string   `yaml:"trace_file"`
	Mnemonic         string   `yaml:"mnemonic"`
	AppVersion       string   `yaml:"app_version"`
	RetryInterval    duration `yaml:"retry_interval"`
	RetryBudget      duration `yaml:"retry_budget"`
	LivenessInterval duration `yaml:"liveness_interval"`
}

// duration accepts time.ParseDuration strings ("500ms", "2s") in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

func loadConfigFile(path string) (fileConfig, error) {
	var fc fileConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// mergeConfigFile applies file values to the global config, skipping
// any field whose flag was set explicitly on the command line.
func mergeConfigFile(fc fileConfig, explicit map[string]bool) {
	if fc.Account != 0 && !explicit["account"] {
		config.Account = fc.Account
	}
	if fc.Path != "" && !explicit["path"] {
		config.Path = fc.Path
	}
	if fc.Connect != nil && !explicit["connect"] {
		config.Connect = *fc.Connect
	}
	if fc.Interactive != nil && !explicit["interactive"] {
		config.Interactive = *fc.Interactive
	}
	if fc.LogLevel != "" && !explicit["log-level"] {
		config.LogLevel = fc.LogLevel
	}
	if fc.TraceFile != "" && !explicit["trace"] {
		config.TraceFile = fc.TraceFile
	}
	if fc.Mnemonic != "" && !explicit["mnemonic"] {
		config.Mnemonic = fc.Mnemonic
	}
	if fc.AppVersion != "" && !explicit["app-version"] {
		config.AppVersion = fc.AppVersion
	}
	if fc.RetryInterval != 0 && !explicit["retry-interval"] {
		config.RetryInterval = time.Duration(fc.RetryInterval)
	}
	if fc.RetryBudget != 0 && !explicit["retry-budget"] {
		config.RetryBudget = time.Duration(fc.RetryBudget)
	}
	if fc.LivenessInterval != 0 && !explicit["liveness-interval"] {
		config.LivenessInterval = time.Duration(fc.LivenessInterval)
	}
}
