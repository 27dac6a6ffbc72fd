// Package config decodes the top-level YAML configuration file: module
// packages/modules, executor definitions, channel backend/topic options,
// and the logging sub-tree. Decoding goes through gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/coremesh/coremesh/internal/logger"
)

// ModulePkg is one `module.pkgs[]` entry: a loadable package plus its
// enable/disable module filters.
type ModulePkg struct {
	Path           string   `yaml:"path"`
	DisableModules []string `yaml:"disable_modules,omitempty"`
	EnableModules  []string `yaml:"enable_modules,omitempty"`
}

// ModuleEntry is one `module.modules[]` entry.
type ModuleEntry struct {
	Name        string `yaml:"name"`
	Enable      *bool  `yaml:"enable,omitempty"`
	LogLvl      string `yaml:"log_lvl,omitempty"`
	CfgFilePath string `yaml:"cfg_file_path,omitempty"`
}

// Enabled reports whether the entry is enabled; a module absent from
// config (or with no explicit enable) defaults to enabled.
func (m ModuleEntry) Enabled() bool {
	return m.Enable == nil || *m.Enable
}

// ModuleConfig is the `module:` sub-tree.
type ModuleConfig struct {
	Pkgs    []ModulePkg   `yaml:"pkgs,omitempty"`
	Modules []ModuleEntry `yaml:"modules,omitempty"`
}

// ExecutorOptionsConfig is one `executor.executors[].options` sub-tree.
type ExecutorOptionsConfig struct {
	ThreadNum               int      `yaml:"thread_num,omitempty"`
	ThreadSchedPolicy       string   `yaml:"thread_sched_policy,omitempty"`
	ThreadBindCPU           []int    `yaml:"thread_bind_cpu,omitempty"`
	TimeoutAlarmThresholdUS uint64   `yaml:"timeout_alarm_threshold_us,omitempty"`
	QueueThreshold          uint64   `yaml:"queue_threshold,omitempty"`
	OverflowPolicy          string   `yaml:"overflow_policy,omitempty"` // drop (default) | block | grow
	AttachTo                string   `yaml:"attach_to,omitempty"`
}

// ExecutorEntry is one `executor.executors[]` entry.
type ExecutorEntry struct {
	Name    string                `yaml:"name"`
	Type    string                `yaml:"type"`
	Options ExecutorOptionsConfig `yaml:"options,omitempty"`
}

// ExecutorConfig is the `executor:` sub-tree.
type ExecutorConfig struct {
	Executors []ExecutorEntry `yaml:"executors,omitempty"`
}

// ChannelBackendEntry is one `channel.backends[]` entry.
type ChannelBackendEntry struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:"options,omitempty"`
}

// ChannelTopicOptions is one `pub_topics_options[]`/`sub_topics_options[]`
// entry.
type ChannelTopicOptions struct {
	TopicName      string   `yaml:"topic_name"`
	EnableBackends []string `yaml:"enable_backends,omitempty"`
	EnableFilters  []string `yaml:"enable_filters,omitempty"`
}

// ChannelConfig is the `channel:` sub-tree.
type ChannelConfig struct {
	Backends         []ChannelBackendEntry `yaml:"backends,omitempty"`
	PubTopicsOptions []ChannelTopicOptions `yaml:"pub_topics_options,omitempty"`
	SubTopicsOptions []ChannelTopicOptions `yaml:"sub_topics_options,omitempty"`
}

// LoggingConfig is the `logging:` sub-tree consumed by the process-wide
// logger.
type LoggingConfig struct {
	Level    string `yaml:"level,omitempty"`
	Encoding string `yaml:"encoding,omitempty"`
}

// ToLoggerConfig converts the YAML-level strings into a logger.Config.
func (l LoggingConfig) ToLoggerConfig(component string) logger.Config {
	cfg := logger.Config{Component: component, Encoding: l.Encoding}
	switch l.Level {
	case "Debug", "debug":
		cfg.Level = logger.Debug
	case "Warn", "warn":
		cfg.Level = logger.Warn
	case "Error", "error":
		cfg.Level = logger.Error
	case "Fatal", "fatal":
		cfg.Level = logger.Fatal
	default:
		cfg.Level = logger.Info
	}
	return cfg
}

// Document is the full typed top-level config.
type Document struct {
	Module   ModuleConfig   `yaml:"module,omitempty"`
	Executor ExecutorConfig `yaml:"executor,omitempty"`
	Channel  ChannelConfig  `yaml:"channel,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// Load reads and decodes path into both a typed Document and a RawDoc
// that preserves every key verbatim, so unknown keys survive unchanged
// when the effective config is written back.
func Load(path string) (Document, *RawDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	raw, err := newRawDoc(data)
	if err != nil {
		return Document{}, nil, fmt.Errorf("config: parse raw %s: %w", path, err)
	}

	return doc, raw, nil
}
