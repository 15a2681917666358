package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"report-filing-bot/config"
	"report-filing-bot/database"
	"report-filing-bot/email"
	"report-filing-bot/gemini"
	"report-filing-bot/handlers"
	"report-filing-bot/lifecycle"
	"report-filing-bot/llm"
	"report-filing-bot/metrics"
	"report-filing-bot/openai"
	"report-filing-bot/rabbitmq"
	"report-filing-bot/scheduler"
	"report-filing-bot/stubllm"
	"report-filing-bot/telegram"

	"github.com/apex/log"
	"github.com/apex/log/handlers/text"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug("No .env file found, using the process environment")
	}

	cfg := config.Load()
	log.SetHandler(text.New(os.Stderr))
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	} else {
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDatabase(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()
	if err := db.EnsureReportsTable(ctx); err != nil {
		log.WithError(err).Fatal("Failed to initialize reports table")
	}

	metrics.Register()

	bot, err := telegram.NewBot(cfg.TelegramBotToken)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize Telegram bot")
	}

	svc := lifecycle.NewService(db, newAssistant(cfg), email.NewSender(cfg), bot, lifecycle.Options{
		DefaultRecipient: cfg.DefaultRecipientEmail,
		SubjectTemplate:  cfg.SubjectTemplate,
		MaxFollowUps:     cfg.MaxFollowUps,
		ReplyMaxLength:   cfg.ReplyMaxLength,
	})

	var inbox scheduler.Inbox
	if cfg.InboxEnabled() {
		in := email.NewInbox(cfg)
		svc.WithInbox(in)
		inbox = in
	} else {
		log.Warn("IMAP_USER or IMAP_PASSWORD not set, replies will not be reconciled")
	}

	if cfg.RabbitMQ.Enabled() {
		publisher, err := rabbitmq.NewPublisher(cfg.RabbitMQ.GetAMQPURL(), cfg.RabbitMQ.Exchange, cfg.RabbitMQ.ReportEventsRoutingKey)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect report event publisher")
		}
		defer publisher.Close()
		svc.WithEvents(publisher)
		log.Infof("Publishing report events to exchange %s", cfg.RabbitMQ.Exchange)
	}

	sched := scheduler.New(db, svc, inbox, scheduler.Config{
		FollowUpPeriod:    cfg.FollowUpPeriod,
		FollowUpInterval:  cfg.FollowUpInterval,
		ReplyPollInterval: cfg.ReplyPollInterval,
		MaxReplyBatch:     cfg.MaxReplyBatch,
		ReplyMaxLength:    cfg.ReplyMaxLength,
		MaxReplyAttempts:  cfg.MaxReplyAttempts,
		RetentionPeriod:   cfg.RetentionPeriod,
		RetentionInterval: cfg.RetentionInterval,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.SetupRouter(handlers.NewHandlers(db)),
	}

	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		bot.Run(ctx, svc)
	}()

	<-ctx.Done()
	log.Info("Shutting down...")

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	log.Info("Server exited")
}

// newAssistant picks the language model provider
func newAssistant(cfg *config.Config) llm.Client {
	switch cfg.LLMProvider {
	case "openai":
		log.Infof("Using OpenAI model %s", cfg.OpenAIModel)
		return llm.NewAssistant(openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel))
	case "stub":
		log.Warn("Using the stub language model")
		return stubllm.NewClient()
	default:
		log.Infof("Using Gemini model %s", cfg.GeminiModel)
		return llm.NewAssistant(gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel))
	}
}
