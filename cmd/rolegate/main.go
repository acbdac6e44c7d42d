package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"

	"github.com/rolegate/rolegate/pkg/bot"
	"github.com/rolegate/rolegate/pkg/config"
	"github.com/rolegate/rolegate/pkg/discord"
	"github.com/rolegate/rolegate/pkg/notification"
	"github.com/rolegate/rolegate/pkg/ops"
	"github.com/rolegate/rolegate/pkg/ratelimit"
	"github.com/rolegate/rolegate/pkg/verification"
)

type Config struct {
	Bot          config.BotConfig
	Email        config.EmailConfig
	Verification config.VerificationConfig
	TriggerLimit config.TriggerLimitConfig
	OpsLimit     config.OpsLimitConfig
	Ops          config.OpsConfig
}

func main() {

	cfg := Config{}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		slog.Error("Failed to read configuration", "error", err)
		os.Exit(-1)
	}

	if err := cfg.Bot.Validate(); err != nil {
		slog.Error("Invalid bot configuration", "error", err)
		os.Exit(-1)
	}

	notificationManager, err := notification.NewNotificationManagerWithOptions(
		notification.WithSMTP(cfg.Email.ToSMTPConfig()),
		notification.WithDefaultTemplates(),
	)
	if err != nil {
		slog.Error("Failed to create notification manager", "error", err)
		os.Exit(-1)
	}

	client, err := discord.NewClient(cfg.Bot.Token)
	if err != nil {
		slog.Error("Failed to create discord client", "error", err)
		os.Exit(-1)
	}

	store := verification.NewStore()

	var policy verification.Policy
	copier.Copy(&policy, &cfg.Verification)

	service := verification.NewService(
		store,
		client,
		client,
		notificationManager,
		cfg.Bot.GuildID,
		cfg.Bot.VerifyChannelID,
		cfg.Bot.VerifiedRole,
		verification.WithPolicy(policy),
	)

	triggerLimiter := ratelimit.NewLimiter(
		cfg.TriggerLimit.Burst,
		cfg.TriggerLimit.PerMinute/60.0,
		cfg.TriggerLimit.BucketTTL,
	)
	dispatcher := bot.NewDispatcher(
		service,
		client,
		cfg.Bot.VerifyChannelID,
		cfg.Bot.Trigger,
		bot.WithTriggerLimiter(triggerLimiter),
	)
	defer triggerLimiter.Close()
	defer dispatcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client.OnMessage(ctx, dispatcher.HandleMessage)

	if err := client.Open(); err != nil {
		slog.Error("Failed to connect to Discord", "error", err)
		os.Exit(-1)
	}

	opsLimiter := ratelimit.NewLimiter(
		cfg.OpsLimit.Burst,
		cfg.OpsLimit.PerMinute/60.0,
		cfg.OpsLimit.BucketTTL,
	)
	defer opsLimiter.Close()
	opsHandler := ops.NewHandler(store, service)
	opsServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Ops.Host, cfg.Ops.Port),
		Handler: opsHandler.Routes(opsLimiter),
	}
	go func() {
		slog.Info("Ops API listening", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Ops server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Ops server shutdown failed", "error", err)
	}
	if err := client.Close(); err != nil {
		slog.Warn("Discord client close failed", "error", err)
	}

	// In-flight conversations observe the canceled context and exit.
	service.Wait()
}
