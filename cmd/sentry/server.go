package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/sentry-mod/sentry/chatmod"
	"github.com/sentry-mod/sentry/chatmod/adminapi"
	"github.com/sentry-mod/sentry/chatmod/classifier"
	"github.com/sentry-mod/sentry/chatmod/convostore"
	"github.com/sentry-mod/sentry/chatmod/escalation"
	"github.com/sentry-mod/sentry/chatmod/platform"
)

type Config struct {
	BotToken         string
	ReportEndpoint   string
	TextEndpoint     string
	TextEndpointAuth string
	TextModel        string
	TextRateLimit    int
	ImagesEndpoint   string
	PromptDir        string
	RedisURL         string
	SlackWebhookURL  string
	Bind             string
	Logger           *slog.Logger
}

type Server struct {
	logger   *slog.Logger
	bind     string
	discord  *platform.Discord
	pipeline *chatmod.Engine
	adminAPI *adminapi.Server
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	discord, err := platform.NewDiscord(config.BotToken, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing discord session: %w", err)
	}

	var convo convostore.ConvoStore
	if config.RedisURL != "" {
		rstore, err := convostore.NewRedisConvoStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis conversation store: %w", err)
		}
		logger.Info("using redis conversation store", "url", config.RedisURL)
		convo = rstore
	} else {
		convo = convostore.NewMemConvoStore(10_000, 24*time.Hour)
	}

	var text *classifier.LLMTextClassifier
	if config.PromptDir != "" {
		text, err = classifier.NewLLMTextClassifierWithPrompts(config.TextEndpoint, config.TextEndpointAuth, config.TextModel, logger, os.DirFS(config.PromptDir))
	} else {
		text, err = classifier.NewLLMTextClassifier(config.TextEndpoint, config.TextEndpointAuth, config.TextModel, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing text classifier: %w", err)
	}
	if config.TextRateLimit > 0 {
		text.Limiter = rate.NewLimiter(rate.Limit(config.TextRateLimit), config.TextRateLimit)
	}

	images := classifier.NewImageServiceClient(config.ImagesEndpoint, logger)

	backend := escalation.NewHTTPChallengeBackend(config.ReportEndpoint, logger)
	escalator := escalation.NewEngine(logger, backend, discord, escalation.NewRegistry())
	if config.SlackWebhookURL != "" {
		escalator.Notifier = &escalation.SlackNotifier{SlackWebhookURL: config.SlackWebhookURL}
	}

	pipeline := &chatmod.Engine{
		Logger:    logger,
		Convo:     convo,
		Text:      text,
		Images:    images,
		URLs:      &classifier.StubURLChecker{},
		Escalator: escalator,
	}

	return &Server{
		logger:   logger,
		bind:     config.Bind,
		discord:  discord,
		pipeline: pipeline,
		adminAPI: adminapi.NewServer(logger, discord),
	}, nil
}

// Run opens the chat connection, subscribes the moderation pipeline, and
// serves the admin API until the process receives SIGINT or SIGTERM.
func (s *Server) Run(ctx context.Context) error {
	if err := s.discord.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	defer s.discord.Close()

	// the session id becomes available only after the gateway handshake
	s.pipeline.SelfID = s.discord.SelfID()
	s.logger.Info("connected", "selfID", s.pipeline.SelfID)

	s.discord.Subscribe(func(ctx context.Context, msg *chatmod.InboundMessage) {
		if err := s.pipeline.ProcessMessage(ctx, msg); err != nil {
			s.logger.Error("message processing failed", "err", err)
		}
	})

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- s.adminAPI.RunAPI(s.bind)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-apiErr:
		return fmt.Errorf("admin API failed: %w", err)
	case sig := <-quit:
		s.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.adminAPI.Shutdown(shutCtx); err != nil {
		s.logger.Error("admin API shutdown failed", "err", err)
	}
	return nil
}

func (s *Server) RunMetrics(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, mux)
}
