package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/speak4all/coursefeed/internal/api"
	"github.com/speak4all/coursefeed/internal/auth"
	"github.com/speak4all/coursefeed/internal/bus"
	"github.com/speak4all/coursefeed/internal/catalog"
	"github.com/speak4all/coursefeed/internal/config"
	"github.com/speak4all/coursefeed/internal/connection"
	"github.com/speak4all/coursefeed/internal/dedup"
	"github.com/speak4all/coursefeed/internal/event"
	"github.com/speak4all/coursefeed/internal/health"
	"github.com/speak4all/coursefeed/internal/journal"
	"github.com/speak4all/coursefeed/internal/router"
	"github.com/speak4all/coursefeed/internal/store"
	"github.com/speak4all/coursefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/coursefeed.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting coursefeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"api_url", cfg.API.RestURL,
		"feed_url", cfg.Feed.WSURL,
	)

	// The session token identifies the user and their role.
	creds, err := auth.FromToken(cfg.API.Token)
	if err != nil {
		logger.Error("failed to parse session token", "error", err)
		os.Exit(1)
	}
	if !creds.Profile.Role.Subscribes() {
		logger.Error("role receives no course events", "role", creds.Profile.Role)
		os.Exit(1)
	}

	logger.Info("session established",
		"user_id", creds.Profile.ID,
		"role", creds.Profile.Role,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Create REST client for the catalog
	restClient := api.NewClient(
		cfg.API.RestURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	// Session bus: token rotations arrive here. SIGHUP re-reads the config
	// and publishes the fresh token.
	sessions := bus.New()
	defer sessions.Close()
	go watchTokenRotation(ctx, *configPath, sessions, logger)

	// Shared dedup window; the catalog clears it on logout.
	window := dedup.NewWindow()

	cat := catalog.New(catalog.DefaultConfig(), restClient, sessions, creds, window, logger)

	pool := connection.NewPool(connection.PoolConfig{
		BaseURL:          cfg.Feed.WSURL,
		PingInterval:     cfg.Feed.PingInterval,
		ReconnectDelay:   cfg.Feed.ReconnectDelay,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		BufferSize:       cfg.Feed.BufferSize,
	}, creds, logger)

	// The pool follows credential changes too.
	go func() {
		for msg := range sessions.Subscribe() {
			pool.SetCredentials(msg.Creds)
		}
	}()

	rt := router.New(router.Config{UserID: creds.Profile.ID}, pool.Envelopes(), window, logger)
	registerNotifications(rt, creds.Profile.Role, logger)

	// Optional journal: records what was delivered, for audit.
	var db *pgxpool.Pool
	var journalWriter *journal.Writer
	if cfg.Journal.Enabled {
		db, err = store.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect journal database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		journalWriter = journal.NewWriter(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			QueueSize:     cfg.Journal.BufferSize,
		}, db, logger)
		if err := journalWriter.Start(ctx); err != nil {
			logger.Error("failed to start journal writer", "error", err)
			os.Exit(1)
		}
		rt.Register(router.AnyChannel, event.DomainTypes, journalWriter.Sink())
		logger.Info("delivery journal enabled")
	}

	healthServer := health.New(health.Config{
		Port:        cfg.Metrics.Port,
		MetricsPath: cfg.Metrics.Path,
	}, cat, pool, rt, db, logger)
	healthServer.Start()

	if err := rt.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	if err := cat.Start(ctx); err != nil {
		logger.Error("failed to start catalog", "error", err)
		os.Exit(1)
	}

	poolDone := make(chan struct{})
	go func() {
		pool.Run(ctx, cat.Snapshots())
		close(poolDone)
	}()

	logger.Info("coursefeed running",
		"instance_id", cfg.Instance.ID,
		"channels", len(cat.Channels()),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	<-poolDone
	pool.Close()
	cat.Stop(shutdownCtx)
	rt.Stop(shutdownCtx)
	if journalWriter != nil {
		journalWriter.Stop(shutdownCtx)
	}
	healthServer.Stop(shutdownCtx)

	logger.Info("coursefeed stopped")
}

// watchTokenRotation re-reads the config on SIGHUP and publishes the new
// token, so a rotated credential does not need a process restart.
func watchTokenRotation(ctx context.Context, configPath string, sessions *bus.Bus, logger *slog.Logger) {
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hupCh:
			cfg, err := config.LoadAndValidate(configPath)
			if err != nil {
				logger.Error("reload failed, keeping current token", "error", err)
				continue
			}
			creds, err := auth.FromToken(cfg.API.Token)
			if err != nil {
				logger.Error("reloaded token is invalid", "error", err)
				continue
			}
			logger.Info("session token rotated", "user_id", creds.Profile.ID)
			sessions.TokenChanged(creds)
		}
	}
}

// registerNotifications wires the role's notification sinks: therapists
// follow work their students produce, students follow what their
// therapist assigns.
func registerNotifications(rt router.Router, role auth.Role, logger *slog.Logger) {
	if role.ReceivesSubmissions() {
		rt.Register(router.AnyChannel, event.SubmissionTypes, submissionSink(logger))
		rt.Register(router.AnyChannel, []event.Type{
			event.TypeStudentJoined,
			event.TypeStudentRemoved,
			event.TypeJoinRequest,
		}, rosterSink(logger))
		rt.Register(router.AnyChannel, []event.Type{
			event.TypeObservationCreated,
		}, observationSink(logger))
		rt.Register(router.AnyChannel, []event.Type{
			event.TypeEvaluationCreated,
			event.TypeEvaluationUpdated,
		}, evaluationSink(logger))
	}
	if role.ReceivesExercises() {
		rt.Register(router.AnyChannel, event.ExerciseTypes, exerciseSink(logger))
	}
}

func submissionSink(logger *slog.Logger) router.Sink {
	return func(in connection.Inbound) {
		p, err := in.Envelope.Submission()
		if err != nil {
			logger.Warn("bad submission payload", "error", err)
			return
		}
		logger.Info("submission notification",
			"type", in.Envelope.Type,
			"channel_id", in.ChannelID,
			"submission_id", p.SubmissionID,
			"student", p.StudentName,
			"exercise", p.ExerciseName,
			"has_media", p.HasMedia,
		)
	}
}

func exerciseSink(logger *slog.Logger) router.Sink {
	return func(in connection.Inbound) {
		p, err := in.Envelope.Exercise()
		if err != nil {
			logger.Warn("bad exercise payload", "error", err)
			return
		}
		logger.Info("exercise notification",
			"type", in.Envelope.Type,
			"channel_id", in.ChannelID,
			"exercise_id", p.EntityID(),
			"exercise", p.DisplayName(),
		)
	}
}

func rosterSink(logger *slog.Logger) router.Sink {
	return func(in connection.Inbound) {
		p, err := in.Envelope.Roster()
		if err != nil {
			logger.Warn("bad roster payload", "error", err)
			return
		}
		logger.Info("roster notification",
			"type", in.Envelope.Type,
			"channel_id", in.ChannelID,
			"student_id", p.StudentID,
			"student", p.StudentName,
		)
	}
}

func observationSink(logger *slog.Logger) router.Sink {
	return func(in connection.Inbound) {
		p, err := in.Envelope.Observation()
		if err != nil {
			logger.Warn("bad observation payload", "error", err)
			return
		}
		logger.Info("observation notification",
			"channel_id", in.ChannelID,
			"observation_id", p.ObservationID,
			"submission_id", p.SubmissionID,
		)
	}
}

func evaluationSink(logger *slog.Logger) router.Sink {
	return func(in connection.Inbound) {
		p, err := in.Envelope.Evaluation()
		if err != nil {
			logger.Warn("bad evaluation payload", "error", err)
			return
		}
		logger.Info("evaluation notification",
			"type", in.Envelope.Type,
			"channel_id", in.ChannelID,
			"evaluation_id", p.EvaluationID,
			"submission_id", p.SubmissionID,
		)
	}
}
