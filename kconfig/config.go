// Package kconfig loads and validates the consumer-group client's
// configuration. The teacher (mistsys-sarama-consumer) builds its Config
// by hand with a NewConfig constructor and documented defaults; this
// package keeps that same default-filling shape but also supports
// loading the same fields from a YAML file, since a library meant to be
// driven by an application's own config file needs a format, and YAML is
// already a dependency this corpus carries (previously only pulled in
// indirectly through sarama's SASL stack).
package kconfig

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// OffsetReset is the AUTO_OFFSET_RESET policy applied to partitions with
// no committed offset.
type OffsetReset string

// Recognized AUTO_OFFSET_RESET values.
const (
	OffsetResetEarliest OffsetReset = "earliest"
	OffsetResetLatest   OffsetReset = "latest"
	OffsetResetNone     OffsetReset = "none"
)

// MillisDuration is a duration expressed in the wire protocol's native
// unit, milliseconds, the way every *_MS config option in this client is
// documented. It unmarshals from a plain YAML integer.
type MillisDuration int64

// Duration returns d as a time.Duration.
func (d MillisDuration) Duration() time.Duration {
	return time.Duration(d) * time.Millisecond
}

// UnmarshalYAML accepts a plain integer number of milliseconds.
func (d *MillisDuration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var ms int64
	if err := unmarshal(&ms); err != nil {
		return err
	}
	*d = MillisDuration(ms)
	return nil
}

// Config is the consumer-group client's configuration. Once passed to
// consumer.New it should be treated as read-only.
type Config struct {
	// GroupID identifies the consumer group this client joins.
	GroupID string `yaml:"group_id"`

	// ClientID is advertised to brokers in every request header.
	ClientID string `yaml:"client_id"`

	// SeedBrokers are the initial broker addresses used to bootstrap
	// the cluster view.
	SeedBrokers []string `yaml:"seed_brokers"`

	// AssignmentStrategy names the kassign.Assignor to use ("range" or
	// "roundrobin").
	AssignmentStrategy string `yaml:"assignment_strategy"`

	// HeartbeatIntervalMs is the minimum spacing between heartbeats.
	HeartbeatIntervalMs MillisDuration `yaml:"heartbeat_interval_ms"`

	// SessionTimeoutMs is advertised to the coordinator in JoinGroup.
	SessionTimeoutMs MillisDuration `yaml:"session_timeout_ms"`

	// RebalanceTimeoutMs is advertised to the coordinator in JoinGroup.
	RebalanceTimeoutMs MillisDuration `yaml:"rebalance_timeout_ms"`

	// EnableAutoCommit turns on the poll-driven periodic auto-commit.
	EnableAutoCommit bool `yaml:"enable_auto_commit"`

	// AutoCommitIntervalMs is the minimum spacing between auto-commits.
	AutoCommitIntervalMs MillisDuration `yaml:"auto_commit_interval_ms"`

	// AutoOffsetReset is applied to partitions with no committed
	// offset, or a committed offset the broker has since expired.
	AutoOffsetReset OffsetReset `yaml:"auto_offset_reset"`

	// OffsetRetentionMs is passed through to OffsetCommit; 0 lets the
	// broker apply its own default.
	OffsetRetentionMs MillisDuration `yaml:"offset_retention_ms"`

	// FetchTimeoutMs is loaded and defaulted but not read by the consumer
	// core: Poll always takes its fetch wait time as an argument.
	FetchTimeoutMs MillisDuration `yaml:"fetch_timeout_ms"`

	// MaxDecodeLen bounds array/string lengths accepted while decoding
	// wire responses.
	MaxDecodeLen int32 `yaml:"max_decode_len"`
}

// NewConfig returns a Config populated with the teacher's defaults.
func NewConfig() *Config {
	return &Config{
		ClientID:             "kafkagroup",
		AssignmentStrategy:   "range",
		HeartbeatIntervalMs:  3000,
		SessionTimeoutMs:     30000,
		RebalanceTimeoutMs:   30000,
		EnableAutoCommit:     true,
		AutoCommitIntervalMs: 1000,
		AutoOffsetReset:      OffsetResetEarliest,
		OffsetRetentionMs:    0,
		FetchTimeoutMs:       500,
		MaxDecodeLen:         1 << 20,
	}
}

// Load reads a YAML config file at path, starting from NewConfig's
// defaults and overriding any field the file sets.
func Load(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kconfig: reading %s: %w", path, err)
	}
	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("kconfig: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for the errors the consumer core
// cannot recover from: an empty group id, no seed brokers, or an
// unrecognized AUTO_OFFSET_RESET value.
func (c *Config) Validate() error {
	if c.GroupID == "" {
		return fmt.Errorf("kconfig: group_id must not be empty")
	}
	if len(c.SeedBrokers) == 0 {
		return fmt.Errorf("kconfig: at least one seed broker is required")
	}
	switch c.AutoOffsetReset {
	case OffsetResetEarliest, OffsetResetLatest, OffsetResetNone:
	default:
		return fmt.Errorf("kconfig: unrecognized auto_offset_reset %q", c.AutoOffsetReset)
	}
	return nil
}
