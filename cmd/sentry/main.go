package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "sentry",
		Usage:   "chat moderation daemon (classifies messages, runs escalation workflows)",
		Version: versioninfo.Short(),
	}

	app.Commands = []*cli.Command{
		runCmd,
	}

	return app.Run(args)
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "bot-token",
			Usage:    "discord bot credential",
			Required: true,
			EnvVars:  []string{"BOT_TOKEN"},
		},
		&cli.StringFlag{
			Name:     "report-endpoint",
			Usage:    "base URL of the challenge backend (report + solve status)",
			Required: true,
			EnvVars:  []string{"REPORT_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:     "text-endpoint",
			Usage:    "URL of the text classification service",
			Required: true,
			EnvVars:  []string{"MESSAGE_VERIFICATION_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "text-endpoint-auth",
			Usage:   "bearer token for the text classification service",
			EnvVars: []string{"MESSAGE_VERIFICATION_ENDPOINT_AUTH"},
		},
		&cli.StringFlag{
			Name:    "text-model",
			Usage:   "model identifier passed to the text classification service",
			Value:   "@cf/meta/llama-3-8b-instruct",
			EnvVars: []string{"MESSAGE_VERIFICATION_MODEL"},
		},
		&cli.IntFlag{
			Name:    "text-rate-limit",
			Usage:   "max number of requests per second to the text classification service",
			Value:   8,
			EnvVars: []string{"SENTRY_TEXT_RATE_LIMIT"},
		},
		&cli.StringFlag{
			Name:     "images-endpoint",
			Usage:    "URL of the image classification service",
			Required: true,
			EnvVars:  []string{"IMAGES_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "prompt-dir",
			Usage:   "directory with classifier prompts, overriding the embedded defaults",
			EnvVars: []string{"SENTRY_PROMPT_DIR"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection for the conversation window store (in-memory when empty)",
			EnvVars: []string{"REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "optional slack incoming webhook for escalated incidents",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for the admin HTTP API",
			Value:   ":8080",
			EnvVars: []string{"SENTRY_BIND", "PORT"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":8081",
			EnvVars: []string{"SENTRY_METRICS_LISTEN"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
		slog.SetDefault(logger)

		// Enable OTLP HTTP exporter
		// For relevant environment variables:
		// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlptrace#readme-environment-variables
		// At a minimum, you need to set
		// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
		if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
			slog.Info("setting up trace exporter", "endpoint", ep)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				log.Fatal("failed to create trace exporter", "error", err)
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				if err := exp.Shutdown(ctx); err != nil {
					slog.Error("failed to shutdown trace exporter", "error", err)
				}
			}()

			tp := tracesdk.NewTracerProvider(
				tracesdk.WithBatcher(exp),
				tracesdk.WithResource(resource.NewWithAttributes(
					semconv.SchemaURL,
					semconv.ServiceNameKey.String("sentry"),
					attribute.String("env", os.Getenv("ENVIRONMENT")),         // DataDog
					attribute.String("environment", os.Getenv("ENVIRONMENT")), // Others
					attribute.Int64("ID", 1),
				)),
			)
			otel.SetTracerProvider(tp)
		}

		srv, err := NewServer(Config{
			BotToken:         cctx.String("bot-token"),
			ReportEndpoint:   cctx.String("report-endpoint"),
			TextEndpoint:     cctx.String("text-endpoint"),
			TextEndpointAuth: cctx.String("text-endpoint-auth"),
			TextModel:        cctx.String("text-model"),
			TextRateLimit:    cctx.Int("text-rate-limit"),
			ImagesEndpoint:   cctx.String("images-endpoint"),
			PromptDir:        cctx.String("prompt-dir"),
			RedisURL:         cctx.String("redis-url"),
			SlackWebhookURL:  cctx.String("slack-webhook-url"),
			Bind:             cctx.String("bind"),
			Logger:           logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run moderation service: %w", err)
		}
		return nil
	},
}
