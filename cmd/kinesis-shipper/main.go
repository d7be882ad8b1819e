package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/firehose"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	awsv1 "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	kinesisv1 "github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	producer "github.com/zacharyestep/kinesis-shipper"
	"github.com/zacharyestep/kinesis-shipper/internal/cliconfig"
	"github.com/zacharyestep/kinesis-shipper/loggers/kpzap"
)

const longHelp = `Ship newline-delimited events from stdin to Amazon Kinesis Data Streams or
Firehose. Every line is one record. Records are batched up to the request limits of the
service, optionally aggregated and compressed, and the entries the service rejects are
resent with exponential backoff.`

var exampleUsage = strings.TrimSpace(`
  tail -F app.log | kinesis-shipper --stream logs
  kinesis-shipper --kind streams_aggregated --stream logs --metrics-addr :9102 < events.json
  kinesis-shipper --config $HOME/.kinesis-shipper/config.yaml
`)

// maxLineSize bounds one stdin line; longer records are rejected by the producer anyway
const maxLineSize = 2 * 1024 * 1024

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zl.Sync() //nolint:errcheck
	log := &kpzap.Logger{Logger: zl}

	root := &cobra.Command{
		Use:          "kinesis-shipper",
		Short:        "Ship stdin lines to Amazon Kinesis",
		Long:         longHelp,
		Example:      exampleUsage,
		Version:      fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.kinesis-shipper/config.yaml)")
	root.Flags().StringVar(&cfg.Kind, "kind", cfg.Kind, "request kind: streams, streams_aggregated or firehose")
	root.Flags().StringVar(&cfg.StreamName, "stream", cfg.StreamName, "Kinesis stream name")
	root.Flags().StringVar(&cfg.DeliveryStreamName, "delivery-stream", cfg.DeliveryStreamName, "Firehose delivery stream name")
	root.Flags().StringVar(&cfg.Region, "region", cfg.Region, "AWS region (defaults to the SDK configuration)")
	root.Flags().StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "custom service endpoint URL")
	root.Flags().BoolVar(&cfg.LegacyClient, "legacy-client", cfg.LegacyClient, "use the v1 AWS SDK Kinesis client")
	root.Flags().StringVar(&cfg.PartitionKey, "partition-key", cfg.PartitionKey, "partition key of every record (random when empty)")
	root.Flags().StringVar(&cfg.Compression, "compression", cfg.Compression, "record compression: zlib or gzip")

	root.Flags().IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries, "resends of the failed entries of a batch")
	root.Flags().BoolVar(&cfg.ResetBackoffIfSuccess, "reset-backoff-if-success", cfg.ResetBackoffIfSuccess, "reset the backoff when a retry makes progress")
	root.Flags().BoolVar(&cfg.DropFailedAfterRetriesExhausted, "drop-failed", cfg.DropFailedAfterRetriesExhausted, "drop entries still failing after the last retry")
	root.Flags().DurationVar(&cfg.MaxRetryWait, "max-retry-wait", cfg.MaxRetryWait, "cap of the cumulative backoff of one batch")
	root.Flags().IntVar(&cfg.ChunkRetries, "chunk-retries", cfg.ChunkRetries, "resends of a chunk whose delivery failed")

	root.Flags().IntVar(&cfg.BatchCount, "batch-count", cfg.BatchCount, "max entries per request (default: API limit)")
	root.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "max bytes per request (default: API limit)")
	root.Flags().DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "buffer flush interval")
	root.Flags().IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "concurrent chunk deliveries")

	root.Flags().IntVar(&cfg.LogTruncateMaxSize, "log-truncate-max-size", cfg.LogTruncateMaxSize, "truncate records printed in logs (0 disables)")
	root.Flags().StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "serve prometheus metrics on this address")
	root.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "log the result of every entry")

	if err := root.Execute(); err != nil {
		log.Error("kinesis-shipper", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliconfig.Config, log producer.Logger) error {
	pc, err := cfg.ProducerConfig()
	if err != nil {
		return err
	}
	pc.Logger = log

	if err := setClients(ctx, cfg, pc); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		pc.Registerer = reg
		srv = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", err, producer.LogValue{Name: "addr", Value: cfg.MetricsAddr})
			}
		}()
	}

	p, err := producer.New(pc)
	if err != nil {
		return fmt.Errorf("create producer: %w", err)
	}

	failuresDone := make(chan struct{})
	failures := p.NotifyFailures()
	go func() {
		defer close(failuresDone)
		for f := range failures {
			log.Error("detected put failure", f.Err,
				producer.LogValue{Name: "records", Value: len(f.UserRecords)},
				producer.LogValue{Name: "ErrorCode", Value: f.ErrorCode},
			)
		}
	}()

	p.Start()
	lines, readErr := readLines(os.Stdin)
	var putErr error
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info("received signal, stopping")
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if err := p.Put(line, cfg.PartitionKey); err != nil {
				if errors.Is(err, producer.ErrStoppedProducer) {
					putErr = err
					break loop
				}
				log.Error("skipping record", err, producer.LogValue{Name: "size", Value: len(line)})
			}
		}
	}

	p.Stop()
	<-failuresDone
	log.Info("shipper stopped", producer.LogValue{Name: "dropped", Value: p.NumErrors()})

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	if putErr != nil {
		return putErr
	}
	select {
	case err := <-readErr:
		return err
	default:
		return nil
	}
}

// setClients builds the AWS client of the configured request kind.
func setClients(ctx context.Context, cfg cliconfig.Config, pc *producer.Config) error {
	if cfg.LegacyClient {
		awsCfg := awsv1.NewConfig()
		if cfg.Region != "" {
			awsCfg = awsCfg.WithRegion(cfg.Region)
		}
		if cfg.Endpoint != "" {
			awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return fmt.Errorf("aws session: %w", err)
		}
		pc.LegacyClient = kinesisv1.New(sess)
		return nil
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("aws config: %w", err)
	}

	if pc.RequestKind == producer.KindFirehose {
		pc.FirehoseClient = firehose.NewFromConfig(awsCfg, func(o *firehose.Options) {
			if cfg.Endpoint != "" {
				o.EndpointResolver = firehose.EndpointResolverFromURL(cfg.Endpoint)
			}
		})
		return nil
	}
	pc.Client = kinesis.NewFromConfig(awsCfg, func(o *kinesis.Options) {
		if cfg.Endpoint != "" {
			o.EndpointResolver = kinesis.EndpointResolverFromURL(cfg.Endpoint)
		}
	})
	return nil
}

// readLines streams the lines of f. The read error, if any, is sent once lines is
// closed.
func readLines(f *os.File) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			lines <- append([]byte(nil), line...)
		}
		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("read stdin: %w", err)
		}
	}()
	return lines, errc
}
