package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crowdlinkhq/crowdlink/internal/api"
	"github.com/crowdlinkhq/crowdlink/internal/app"
	"github.com/crowdlinkhq/crowdlink/internal/app/maintenance"
	"github.com/crowdlinkhq/crowdlink/internal/auth"
	"github.com/crowdlinkhq/crowdlink/internal/database"
	"github.com/crowdlinkhq/crowdlink/internal/services"
	"github.com/crowdlinkhq/crowdlink/pkg/logger"
	"github.com/crowdlinkhq/crowdlink/pkg/mail"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		logger.Error("configuration error", zap.Error(err))
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level); err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *app.Config) error {
	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Name:     cfg.Database.Name,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
	})
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db); err != nil {
		return err
	}

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:         cfg.Auth.JWTSecret,
		Issuer:         cfg.Auth.JWTIssuer,
		AccessTokenTTL: cfg.Auth.AccessTokenTTL,
	})
	if err != nil {
		return err
	}

	mailer := mail.NewSMTPMailer(mail.SMTPSettings{
		Enabled:  cfg.SMTP.Enabled,
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		UseTLS:   cfg.SMTP.UseTLS,
	})

	auditService, err := services.NewAuditService(db)
	if err != nil {
		return err
	}
	invitationService, err := services.NewInvitationService(db, mailer,
		services.WithInvitationExpiry(cfg.Lifecycle.InvitationExpiry),
		services.WithInvitationBaseURL(cfg.Server.BaseURL),
	)
	if err != nil {
		return err
	}
	deletionService, err := services.NewDeletionService(db, auditService, mailer,
		services.WithDeletionWindows(
			cfg.Lifecycle.ConfirmationTokenTTL,
			cfg.Lifecycle.UndoWindow,
			cfg.Lifecycle.GracePeriod,
		),
		services.WithDeletionBaseURL(cfg.Server.BaseURL),
	)
	if err != nil {
		return err
	}
	memberService, err := services.NewMemberService(db, services.NewLoggingClaimsSyncer())
	if err != nil {
		return err
	}
	organizationService, err := services.NewOrganizationService(db)
	if err != nil {
		return err
	}

	sweeper, err := maintenance.NewSweeper(invitationService, deletionService,
		maintenance.WithInterval(cfg.Lifecycle.SweepInterval),
	)
	if err != nil {
		return err
	}
	if err := sweeper.Start(); err != nil {
		return err
	}
	defer sweeper.Stop()

	router, err := api.NewRouter(jwtService, api.Services{
		Invitations:   invitationService,
		Members:       memberService,
		Organizations: organizationService,
		Deletions:     deletionService,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
