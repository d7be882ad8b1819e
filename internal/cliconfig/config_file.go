package cliconfig

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config but uses strings for durations and pointers for values
// whose zero value is meaningful.
type FileConfig struct {
	Kind               string `yaml:"kind"`
	StreamName         string `yaml:"stream"`
	DeliveryStreamName string `yaml:"delivery_stream"`
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"`
	LegacyClient       *bool  `yaml:"legacy_client"`

	PartitionKey string `yaml:"partition_key"`
	Compression  string `yaml:"compression"`

	MaxRetries                      *int   `yaml:"max_retries"`
	ResetBackoffIfSuccess           *bool  `yaml:"reset_backoff_if_success"`
	DropFailedAfterRetriesExhausted *bool  `yaml:"drop_failed_after_retries_exhausted"`
	MaxRetryWait                    string `yaml:"max_retry_wait"`
	ChunkRetries                    *int   `yaml:"chunk_retries"`

	BatchCount     *int   `yaml:"batch_count"`
	BatchSize      *int   `yaml:"batch_size"`
	FlushInterval  string `yaml:"flush_interval"`
	MaxConnections *int   `yaml:"max_connections"`

	LogTruncateMaxSize *int   `yaml:"log_truncate_max_size"`
	MetricsAddr        string `yaml:"metrics_addr"`
	Verbose            *bool  `yaml:"verbose"`
}

// LoadFileConfig reads and parses a YAML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.kinesis-shipper/config.yaml if the user home directory
// is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".kinesis-shipper", "config.yaml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("kind", fc.Kind, &cfg.Kind)
	s.setString("stream", fc.StreamName, &cfg.StreamName)
	s.setString("delivery-stream", fc.DeliveryStreamName, &cfg.DeliveryStreamName)
	s.setString("region", fc.Region, &cfg.Region)
	s.setString("endpoint", fc.Endpoint, &cfg.Endpoint)
	s.setString("partition-key", fc.PartitionKey, &cfg.PartitionKey)
	s.setString("compression", fc.Compression, &cfg.Compression)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	if err := s.setDuration("max-retry-wait", fc.MaxRetryWait, &cfg.MaxRetryWait); err != nil {
		return err
	}
	if err := s.setDuration("flush-interval", fc.FlushInterval, &cfg.FlushInterval); err != nil {
		return err
	}

	s.setInt("max-retries", fc.MaxRetries, &cfg.MaxRetries)
	s.setInt("chunk-retries", fc.ChunkRetries, &cfg.ChunkRetries)
	s.setInt("batch-count", fc.BatchCount, &cfg.BatchCount)
	s.setInt("batch-size", fc.BatchSize, &cfg.BatchSize)
	s.setInt("max-connections", fc.MaxConnections, &cfg.MaxConnections)
	s.setInt("log-truncate-max-size", fc.LogTruncateMaxSize, &cfg.LogTruncateMaxSize)

	s.setBool("legacy-client", fc.LegacyClient, &cfg.LegacyClient)
	s.setBool("reset-backoff-if-success", fc.ResetBackoffIfSuccess, &cfg.ResetBackoffIfSuccess)
	s.setBool("drop-failed", fc.DropFailedAfterRetriesExhausted, &cfg.DropFailedAfterRetriesExhausted)
	s.setBool("verbose", fc.Verbose, &cfg.Verbose)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
