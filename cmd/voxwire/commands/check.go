package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/voxwire/voxwire/cmd/voxwire/internal/config"
	"github.com/voxwire/voxwire/pkg/cli"
	"github.com/voxwire/voxwire/pkg/queue"
)

// probeTimeout bounds one dependency probe.
const probeTimeout = 5 * time.Second

var checkConfigPath string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and probe dependencies",
	Long: `Validate a service configuration and probe its dependencies.

Checks, in order: the configuration parses and validates, the queue backend
opens and its broker answers a ping, each provider has its API key in the
environment and its endpoint accepts a connection, and the recording store
is usable.

Exits non-zero when any check fails.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkConfigPath, "config", "voxwire.yaml", "service configuration file")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	report := cli.NewReport("voxwire check")

	svc, err := config.Load[config.Service](checkConfigPath)
	if err != nil {
		report.Fail("config", err)
		fmt.Print(report.Render())
		return errors.New("check failed")
	}
	svc.Normalize()
	if err := svc.Validate(); err != nil {
		report.Fail("config", err)
	} else {
		report.Pass("config", checkConfigPath)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	checkQueue(ctx, report, svc)
	checkProvider(ctx, report, "asr", svc.Providers.ASR)
	checkProvider(ctx, report, "gen", svc.Providers.Gen)
	checkProvider(ctx, report, "tts", svc.Providers.TTS)
	checkRecording(report, svc)

	fmt.Print(report.Render())
	if report.Failed() {
		return errors.New("check failed")
	}
	return nil
}

func checkQueue(ctx context.Context, report *cli.Report, svc *config.Service) {
	name := "queue: " + svc.Queue.Backend
	q, err := buildQueue(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		report.Fail(name, err)
		return
	}
	defer q.Close()

	p, ok := q.(queue.Pinger)
	if !ok {
		report.Pass(name, "embedded, nothing to probe")
		return
	}
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	start := time.Now()
	if err := p.Ping(pctx); err != nil {
		report.Fail(name, err)
		return
	}
	report.Pass(name, fmt.Sprintf("ping ok (%s)", cli.FormatDuration(int(time.Since(start).Milliseconds()))))
}

func checkProvider(ctx context.Context, report *cli.Report, role string, p config.Provider) {
	name := role + ": " + p.Name
	if os.Getenv(p.APIKeyEnv) == "" {
		report.Fail(name, fmt.Errorf("environment variable %s is not set", p.APIKeyEnv))
		return
	}
	host, err := providerHost(p)
	if err != nil {
		report.Fail(name, err)
		return
	}
	ms, err := probeHost(ctx, host)
	if err != nil {
		report.Fail(name, fmt.Errorf("%s unreachable: %w", host, err))
		return
	}
	report.Pass(name, fmt.Sprintf("%s reachable (%s)", host, cli.FormatDuration(ms)))
}

// providerHost resolves the endpoint to probe: the configured base_url, or
// the provider's public API host.
func providerHost(p config.Provider) (string, error) {
	if p.BaseURL != "" {
		u, err := url.Parse(p.BaseURL)
		if err != nil || u.Host == "" {
			return "", fmt.Errorf("base_url %q is not a valid URL", p.BaseURL)
		}
		host := u.Host
		if u.Port() == "" {
			if u.Scheme == "http" {
				host += ":80"
			} else {
				host += ":443"
			}
		}
		return host, nil
	}
	if p.Name == config.ProviderGemini {
		return "generativelanguage.googleapis.com:443", nil
	}
	return "api.openai.com:443", nil
}

func probeHost(ctx context.Context, hostport string) (int, error) {
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(pctx, "tcp", hostport)
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return int(time.Since(start).Milliseconds()), nil
}

func checkRecording(report *cli.Report, svc *config.Service) {
	if !svc.Recording.Enabled {
		report.Skip("recording", "disabled")
		return
	}
	switch svc.Recording.Backend {
	case config.RecordLocal:
		if _, err := buildRecorder(svc); err != nil {
			report.Fail("recording: local", err)
			return
		}
		report.Pass("recording: local", svc.Recording.Dir)
	case config.RecordS3:
		// Probing the bucket needs a signed call; settle for credentials.
		if os.Getenv("AWS_ACCESS_KEY_ID") == "" || os.Getenv("AWS_SECRET_ACCESS_KEY") == "" {
			report.Warn("recording: s3", "AWS credentials not found in environment")
			return
		}
		report.Pass("recording: s3", "s3://"+svc.Recording.S3.Bucket)
	default:
		report.Fail("recording", fmt.Errorf("unknown backend %q", svc.Recording.Backend))
	}
}
