package cliconfig

import (
	"fmt"
	"time"

	producer "github.com/zacharyestep/kinesis-shipper"
)

// Config holds CLI configuration for kinesis-shipper.
type Config struct {
	Kind               string
	StreamName         string
	DeliveryStreamName string
	Region             string
	Endpoint           string
	LegacyClient       bool

	PartitionKey string
	Compression  string

	MaxRetries                      int
	ResetBackoffIfSuccess           bool
	DropFailedAfterRetriesExhausted bool
	MaxRetryWait                    time.Duration
	ChunkRetries                    int

	BatchCount     int
	BatchSize      int
	FlushInterval  time.Duration
	MaxConnections int

	LogTruncateMaxSize int
	MetricsAddr        string
	Verbose            bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Kind:                  producer.KindStreams.String(),
		MaxRetries:            3,
		ResetBackoffIfSuccess: true,
		ChunkRetries:          3,
		FlushInterval:         time.Second,
		MaxConnections:        8,
		LogTruncateMaxSize:    1024,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	kind, err := producer.ParseRequestKind(c.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case producer.KindFirehose:
		if c.DeliveryStreamName == "" {
			return fmt.Errorf("delivery-stream is required for %s", kind)
		}
		if c.LegacyClient {
			return fmt.Errorf("legacy-client is only supported for streams")
		}
	default:
		if c.StreamName == "" {
			return fmt.Errorf("stream is required for %s", kind)
		}
	}
	if c.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	return nil
}

// ProducerConfig maps the CLI configuration onto a producer configuration. Clients,
// logger and registerer are left to the caller.
func (c *Config) ProducerConfig() (*producer.Config, error) {
	kind, err := producer.ParseRequestKind(c.Kind)
	if err != nil {
		return nil, err
	}
	maxRetries := c.MaxRetries
	if maxRetries == 0 {
		// zero means no retries on the command line
		maxRetries = producer.NoRetries
	}
	return &producer.Config{
		RequestKind:                     kind,
		StreamName:                      c.StreamName,
		DeliveryStreamName:              c.DeliveryStreamName,
		MaxRetries:                      maxRetries,
		ResetBackoffIfSuccess:           c.ResetBackoffIfSuccess,
		DropFailedAfterRetriesExhausted: c.DropFailedAfterRetriesExhausted,
		MaxRetryWait:                    c.MaxRetryWait,
		ChunkRetries:                    c.ChunkRetries,
		BatchCount:                      c.BatchCount,
		BatchSize:                       c.BatchSize,
		FlushInterval:                   c.FlushInterval,
		FixedPartitionKey:               c.aggregateKey(kind),
		Compression:                     producer.Compression(c.Compression),
		MaxConnections:                  c.MaxConnections,
		LogTruncateMaxSize:              c.LogTruncateMaxSize,
		Verbose:                         c.Verbose,
	}, nil
}

// aggregateKey returns the fixed aggregate key. For the other kinds the partition key
// is set per record.
func (c *Config) aggregateKey(kind producer.RequestKind) string {
	if kind != producer.KindStreamsAggregated {
		return ""
	}
	return c.PartitionKey
}

// configSetter applies configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if set in the file and flag not changed.
func (s *configSetter) setInt(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}
