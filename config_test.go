package producer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	c := &Config{StreamName: "foo", Client: &clientMock{}}
	c.defaults()
	require.NoError(t, c.Validate())
	require.Equal(t, 3, c.MaxRetries)
	require.Equal(t, 500, c.BatchCount)
	require.Equal(t, 5*1024*1024, c.BatchSize)
	require.Equal(t, []string{ProvisionedThroughputExceeded}, c.PriorityErrorCodes)
	require.Equal(t, 5*time.Second, c.FlushInterval)
	require.Equal(t, 24, c.MaxConnections)
	require.Equal(t, 2000, c.BacklogCount)
	require.NotNil(t, c.Logger)

	f := &Config{RequestKind: KindFirehose, DeliveryStreamName: "foo", FirehoseClient: &firehoseMock{}}
	f.defaults()
	require.NoError(t, f.Validate())
	require.Equal(t, 4*1024*1024, f.BatchSize)
	require.Equal(t, []string{ServiceUnavailable}, f.PriorityErrorCodes)

	n := &Config{StreamName: "foo", Client: &clientMock{}, MaxRetries: NoRetries}
	n.defaults()
	require.Equal(t, 0, n.MaxRetries)
	require.Equal(t, 0, n.policy().MaxRetries)
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		name   string
		config Config
		errors []string
	}{
		{
			name:   "missing stream",
			config: Config{Client: &clientMock{}},
			errors: []string{"StreamName is required"},
		},
		{
			name:   "missing client",
			config: Config{StreamName: "foo"},
			errors: []string{"Client or LegacyClient is required"},
		},
		{
			name:   "legacy client",
			config: Config{StreamName: "foo", LegacyClient: &legacyClientMock{}},
		},
		{
			name:   "firehose",
			config: Config{RequestKind: KindFirehose},
			errors: []string{"DeliveryStreamName is required", "FirehoseClient is required"},
		},
		{
			name:   "batch count above the api limit",
			config: Config{StreamName: "foo", Client: &clientMock{}, BatchCount: 501},
			errors: []string{"BatchCount must be in (0, 500]"},
		},
		{
			name:   "firehose batch size above the api limit",
			config: Config{RequestKind: KindFirehose, DeliveryStreamName: "foo", FirehoseClient: &firehoseMock{}, BatchSize: 5 * 1024 * 1024},
			errors: []string{"BatchSize must be in (0, 4194304]"},
		},
		{
			name:   "unknown compression",
			config: Config{StreamName: "foo", Client: &clientMock{}, Compression: "lz4"},
			errors: []string{`unknown compression "lz4"`},
		},
		{
			name:   "negative chunk retries",
			config: Config{StreamName: "foo", Client: &clientMock{}, ChunkRetries: -1},
			errors: []string{"ChunkRetries must not be negative"},
		},
		{
			name:   "long fixed partition key",
			config: Config{RequestKind: KindStreamsAggregated, StreamName: "foo", Client: &clientMock{}, FixedPartitionKey: strings.Repeat("k", 257)},
			errors: []string{ErrIllegalPartitionKey.Error()},
		},
		{
			name:   "unknown kind",
			config: Config{RequestKind: RequestKind(9)},
			errors: []string{"unknown RequestKind(9)"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := tc.config
			c.defaults()
			err := c.Validate()
			if len(tc.errors) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, msg := range tc.errors {
				require.Contains(t, err.Error(), msg)
			}
		})
	}
}

func TestConfigPolicy(t *testing.T) {
	c := &Config{
		MaxRetries:                      5,
		ResetBackoffIfSuccess:           true,
		DropFailedAfterRetriesExhausted: true,
		PriorityErrorCodes:              []string{"a"},
		MaxRetryWait:                    time.Minute,
	}
	require.Equal(t, RetryPolicy{
		MaxRetries:                      5,
		ResetBackoffIfSuccess:           true,
		DropFailedAfterRetriesExhausted: true,
		PriorityErrorCodes:              []string{"a"},
		MaxRetryWait:                    time.Minute,
	}, c.policy())
}
