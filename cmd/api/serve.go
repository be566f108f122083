package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"realtyclaims/auth"
	"realtyclaims/claim"
	"realtyclaims/company"
	"realtyclaims/config"
	"realtyclaims/db"
	"realtyclaims/mail"
	"realtyclaims/outbox"
	"realtyclaims/report"
	"realtyclaims/telemetry"
	"realtyclaims/verification"
)

var (
	servePort    int
	serveNoRelay bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the outbox relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := bootstrap(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		users := auth.NewRepository(env.Pool)
		companies := company.NewRepository(env.Pool)
		authService := auth.NewService(users, cfg.Auth.JWTSecret).WithTokenTTL(cfg.Auth.TokenTTL)
		issuer := verification.NewIssuer(nil, env.Mailer, verification.Options{
			LinkBaseURL: cfg.Verification.LinkBaseURL,
			TTL:         cfg.Verification.TTL,
		})
		claims := claim.NewService(env.Pool, claim.NewRepository(env.Pool), users, companies, issuer, outbox.NewWriter(), claim.Options{
			CredentialTTL:    cfg.Claims.CredentialTTL,
			TrackingAttempts: cfg.Claims.TrackingAttempts,
		})

		server := NewServer(ServerOptions{
			Claims:         claims,
			Auth:           authService,
			Companies:      company.NewService(companies, users),
			Reports:        report.NewService(report.NewRepository(env.Pool)),
			AllowedOrigins: cfg.Server.AllowedOrigins,
			TrackPerMinute: cfg.Tracking.RatePerMinute,
			TrackBurst:     cfg.Tracking.Burst,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           server.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port), zap.String("version", version))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		if !serveNoRelay {
			relay := newRelay(env, cfg.Outbox)
			g.Go(func() error { return relay.Run(gctx) })
		}

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoRelay, "no-relay", false, "do not run the outbox relay in this process")
	rootCmd.AddCommand(serveCmd)
}

// runtimeEnv holds the process-wide resources shared by serve and relay.
type runtimeEnv struct {
	Pool     *pgxpool.Pool
	Mailer   mail.Mailer
	shutdown func(context.Context) error
}

func bootstrap(ctx context.Context, cfg *config.Config) (*runtimeEnv, error) {
	shutdown, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "realtyclaims",
		Version:        version,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}

	return &runtimeEnv{Pool: pool, Mailer: newMailer(cfg.Mail), shutdown: shutdown}, nil
}

func (e *runtimeEnv) Close() {
	e.Pool.Close()
	if err := e.shutdown(context.Background()); err != nil {
		zap.L().Warn("telemetry shutdown", zap.Error(err))
	}
}

func newMailer(mc config.MailConfig) mail.Mailer {
	if mc.Driver == "webhook" {
		return mail.NewWebhookMailer(mail.WebhookOptions{
			URL:        mc.WebhookURL,
			APIKey:     mc.APIKey,
			From:       mc.From,
			RatePerSec: mc.RatePerSec,
			MaxRetries: mc.MaxRetries,
		})
	}
	return mail.LogMailer{From: mc.From}
}

func newRelay(env *runtimeEnv, oc config.OutboxConfig) *outbox.Relay {
	return outbox.NewRelay(env.Pool, outbox.NewMailNotifier(env.Mailer), outbox.RelayOptions{
		BatchSize:    oc.BatchSize,
		MaxAttempts:  oc.MaxAttempts,
		PollInterval: oc.PollInterval,
	})
}
