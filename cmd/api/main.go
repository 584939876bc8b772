package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"licensemarket/internal/accounts"
	"licensemarket/internal/csrf"
	"licensemarket/internal/fulfillment"
	"licensemarket/internal/handlers"
	"licensemarket/internal/license"
	"licensemarket/internal/mail"
	"licensemarket/internal/middleware"
	"licensemarket/internal/orders"
	"licensemarket/internal/payments"
	"licensemarket/internal/storage"
	ws "licensemarket/internal/websocket"
)

const siteName = "License Market"

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("starting license market server")

	// Load Configuration
	v := viper.New()
	config, err := loadConfig(v)
	if err != nil {
		fatal(logger, "cannot load config", err)
	}
	if names := missing(v); len(names) > 0 {
		logger.Error("missing required configuration", "keys", strings.Join(names, ", "))
		os.Exit(1)
	}
	if config.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	// Data directory
	records, err := storage.Open(config.Directory, storage.NewLocks())
	if err != nil {
		fatal(logger, "cannot open data directory", err)
	}
	logger.Info("opened data directory", "path", config.Directory)

	// Outbound mail
	var mailer mail.Mailer
	if config.SMTPHost == "" {
		logger.Warn("SMTP_HOST not set; e-mail is kept in memory")
		mailer = &mail.Recorder{}
	} else {
		mailer, err = mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     config.SMTPHost,
			Port:     config.SMTPPort,
			User:     config.SMTPUser,
			Password: config.SMTPPassword,
			From:     config.MailFrom,
		})
		if err != nil {
			fatal(logger, "cannot configure mail", err)
		}
	}
	notifier := mail.NewNotifier(mailer, config.BaseHref, siteName, config.AdminEmail)
	watchConfig(v, logger, notifier.SetAdmin)

	// Licenses
	signer, err := license.NewSigner(config.PublicKey, config.PrivateKey)
	if err != nil {
		fatal(logger, "invalid signing keys", err)
	}
	renderer, err := license.NewRenderer(config.LicenseTemplate)
	if err != nil {
		fatal(logger, "cannot load license template", err)
	}
	sealer, err := csrf.NewSealer(config.CSRFKey)
	if err != nil {
		fatal(logger, "invalid CSRF_KEY", err)
	}

	processor := payments.NewStripeProcessor(payments.StripeConfig{
		SecretKey:     config.StripeSecretKey,
		ClientID:      config.StripeClientID,
		WebhookSecret: config.StripeWebhookSecret,
		RedirectURI:   strings.TrimSuffix(config.BaseHref, "/") + "/api/connected",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	accountSvc := accounts.NewService(records, processor, notifier, logger, config.MinimumCommission)
	orderSvc := orders.NewService(records, processor, notifier, logger)
	fulfillmentSvc := &fulfillment.Service{
		Records:   records,
		Processor: processor,
		Renderer:  renderer,
		Converter: license.NewCommandConverter(config.Converter),
		Signer:    signer,
		Notifier:  notifier,
		Alerts:    hub,
		Agent: license.Agent{
			Name:     config.AgentName,
			Location: config.AgentLocation,
			Website:  config.BaseHref,
		},
		Logger:     logger,
		Production: config.Production,
		Now:        time.Now,
	}

	tokens := middleware.NewSessionTokens(config.JWTSecret)
	server := &handlers.Server{
		Auth:          handlers.NewAuthHandler(accountSvc, tokens, sealer, config.Production),
		Account:       handlers.NewAccountHandler(accountSvc, orderSvc, strings.TrimSuffix(config.BaseHref, "/")+"/account"),
		Payments:      handlers.NewPaymentHandler(orderSvc, fulfillmentSvc, signer),
		WebSocket:     handlers.NewWebSocketHandler(hub, config.Origins()),
		Tokens:        tokens,
		Authenticator: accountSvc,
		Sealer:        sealer,
		Logger:        logger,
		Secure:        config.Production,
		Origins:       config.Origins(),
	}

	// Start the server
	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "could not start server", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fatal(logger, "shutdown failed", err)
	}
}
