package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/voxwire/voxwire/cmd/voxwire/internal/config"
	"github.com/voxwire/voxwire/pkg/gen"
	"github.com/voxwire/voxwire/pkg/queue"
	"github.com/voxwire/voxwire/pkg/record"
	"github.com/voxwire/voxwire/pkg/registry"
	"github.com/voxwire/voxwire/pkg/server"
	"github.com/voxwire/voxwire/pkg/session"
	"github.com/voxwire/voxwire/pkg/speech"
)

// Fallback generation models per provider.
const (
	defaultOpenAIGenModel = "gpt-4o-mini"
	defaultGeminiGenModel = "gemini-2.0-flash"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the voice conversation server",
	Long: `Run the voice conversation server.

Loads the service configuration, connects the queue backend and providers,
and serves WebSocket voice sessions until SIGINT or SIGTERM.

Examples:
  voxwire serve --config voxwire.yaml
  voxwire serve --config voxwire.yaml --verbose`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "voxwire.yaml", "service configuration file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if IsVerbose() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	logger := slog.Default()

	svc, err := config.Load[config.Service](serveConfigPath)
	if err != nil {
		return err
	}
	svc.Normalize()
	if err := svc.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Shutting down...")
		cancel()
	}()

	q, err := buildQueue(svc, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	asr, tts, generator, err := buildProviders(ctx, svc)
	if err != nil {
		return err
	}

	recorder, err := buildRecorder(svc)
	if err != nil {
		return err
	}

	reg := registry.New(q, registry.Options{
		HeartbeatInterval: svc.Heartbeat(),
		Logger:            logger,
	})

	srv, err := server.New(server.Options{
		Addr:     svc.Listen,
		Registry: reg,
		Session: session.Config{
			Queue:          q,
			Transcriber:    asr,
			Synthesizer:    tts,
			Generator:      generator,
			Recorder:       recorder,
			FrameDuration:  svc.Audio.Frame(),
			EnergyFloor:    svc.Audio.EnergyFloor,
			SilenceTimeout: svc.Audio.Silence(),
			PollTimeout:    svc.Audio.Poll(),
			Logger:         logger,
		},
		HistoryLimit: svc.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	logger.Info("Starting server",
		"addr", svc.Listen,
		"queue", svc.Queue.Backend,
		"asr", svc.Providers.ASR.Name,
		"gen", svc.Providers.Gen.Name,
		"tts", svc.Providers.TTS.Name,
		"recording", svc.Recording.Enabled,
	)
	return srv.Run(ctx)
}

func buildQueue(svc *config.Service, logger *slog.Logger) (queue.Queue, error) {
	switch svc.Queue.Backend {
	case config.QueueRedis:
		client := redis.NewClient(&redis.Options{
			Addr: svc.Queue.Redis.Addr,
			DB:   svc.Queue.Redis.DB,
		})
		return queue.NewRedis(client, &queue.RedisOptions{Logger: logger}), nil
	case config.QueueBadger:
		return queue.NewBadger(queue.BadgerOptions{
			Dir:    svc.Queue.Badger.Dir,
			Logger: logger,
		})
	case config.QueueMemory:
		return queue.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown queue backend %q", svc.Queue.Backend)
}

func buildProviders(ctx context.Context, svc *config.Service) (speech.Transcriber, speech.Synthesizer, gen.Generator, error) {
	asrClient, err := openaiClient(svc.Providers.ASR)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("asr: %w", err)
	}
	asr := speech.NewOpenAITranscriber(asrClient, &speech.OpenAIOptions{
		TranscribeModel: svc.Providers.ASR.Model,
		CallTimeout:     svc.Providers.ASR.Timeout(),
	})

	ttsClient, err := openaiClient(svc.Providers.TTS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tts: %w", err)
	}
	tts := speech.NewOpenAISynthesizer(ttsClient, &speech.OpenAIOptions{
		SynthesizeModel: svc.Providers.TTS.Model,
		Voice:           svc.Providers.TTS.Voice,
		CallTimeout:     svc.Providers.TTS.Timeout(),
	})

	generator, err := buildGenerator(ctx, svc.Providers.Gen)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("gen: %w", err)
	}
	return asr, tts, generator, nil
}

func buildGenerator(ctx context.Context, p config.Provider) (gen.Generator, error) {
	if p.Name == config.ProviderGemini {
		key := os.Getenv(p.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("environment variable %s is required", p.APIKeyEnv)
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		model := p.Model
		if model == "" {
			model = defaultGeminiGenModel
		}
		return &gen.GeminiGenerator{
			Client:       client,
			Model:        model,
			SystemPrompt: p.SystemPrompt,
			Timeout:      p.Timeout(),
		}, nil
	}

	client, err := openaiClient(p)
	if err != nil {
		return nil, err
	}
	model := p.Model
	if model == "" {
		model = defaultOpenAIGenModel
	}
	return &gen.OpenAIGenerator{
		Client:       client,
		Model:        model,
		SystemPrompt: p.SystemPrompt,
		Timeout:      p.Timeout(),
	}, nil
}

func openaiClient(p config.Provider) (*openai.Client, error) {
	key := os.Getenv(p.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s is required", p.APIKeyEnv)
	}
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &client, nil
}

func buildRecorder(svc *config.Service) (*record.Recorder, error) {
	if !svc.Recording.Enabled {
		return nil, nil
	}
	switch svc.Recording.Backend {
	case config.RecordLocal:
		store, err := record.NewLocal(svc.Recording.Dir)
		if err != nil {
			return nil, fmt.Errorf("recording dir: %w", err)
		}
		return record.NewRecorder(store), nil
	case config.RecordS3:
		cfg := svc.Recording.S3
		opts := s3.Options{
			Region: cfg.Region,
			Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{
					AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
					SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
					SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
					Source:          "environment",
				}, nil
			}),
		}
		if cfg.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Endpoint)
			opts.UsePathStyle = true
		}
		if opts.Region == "" {
			opts.Region = "us-east-1"
		}
		return record.NewRecorder(record.NewS3(s3.New(opts), cfg.Bucket, cfg.Prefix)), nil
	}
	return nil, fmt.Errorf("unknown recording backend %q", svc.Recording.Backend)
}
