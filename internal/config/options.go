package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options tune compilation and execution. The zero value is not useful; start
// from Default.
type Options struct {
	// InlineReadOnlyCaptures copies captures that are never written after
	// capture instead of routing them through a cell
	InlineReadOnlyCaptures bool `yaml:"inlineReadOnlyCaptures"`
	// ReuseSlots lets sibling scopes share frame slots
	ReuseSlots bool `yaml:"reuseSlots"`
	// RecordStackDepths stores the modeled stack depth of every instruction
	RecordStackDepths bool `yaml:"recordStackDepths"`
	// Verify checks recorded depths against the machine while executing
	Verify bool `yaml:"verify"`
	// Verbosity is passed to commonlog.Configure
	Verbosity int `yaml:"verbosity"`
}

// Default returns the options used when nothing is configured.
func Default() Options {
	return Options{
		InlineReadOnlyCaptures: true,
		ReuseSlots:             true,
	}
}

// Debug returns options with depth recording and verification on.
func Debug() Options {
	o := Default()
	o.RecordStackDepths = true
	o.Verify = true
	return o
}

// Parse reads options from YAML. Keys that are absent keep their defaults.
func Parse(data []byte) (Options, error) {
	opts := Default()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse options: %w", err)
	}
	if opts.Verify && !opts.RecordStackDepths {
		return Options{}, fmt.Errorf("parse options: verify requires recordStackDepths")
	}
	return opts, nil
}

// Load reads options from a YAML file. A missing file yields Default.
func Load(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Options{}, fmt.Errorf("load options: %w", err)
	}
	return Parse(data)
}
