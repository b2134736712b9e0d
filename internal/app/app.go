package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"bpi-collector/internal/alerting"
	"bpi-collector/internal/config"
	"bpi-collector/internal/dashboard"
	"bpi-collector/internal/delivery"
	"bpi-collector/internal/fetcher"
	"bpi-collector/internal/report"
	"bpi-collector/internal/scheduler"
	"bpi-collector/internal/service"
	"bpi-collector/internal/storage"
	"bpi-collector/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) location() *time.Location {
	loc, err := a.Config.App.Location()
	if err != nil {
		a.Logger.Warn().Err(err).Msg("falling back to local timezone")
		return time.Local
	}
	return loc
}

func (a *App) newSource() fetcher.PriceSource {
	userAgent := a.Config.Quote.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	return fetcher.NewSpot(fetcher.SpotOptions{
		URLTemplate: a.Config.Quote.URLTemplate,
		Timeout:     a.Config.Quote.RequestTimeout,
		UserAgent:   userAgent,
	}, a.Logger)
}

func (a *App) newTransport() delivery.Transport {
	smtp := a.Config.SMTP
	if !smtp.Enabled() {
		return nil
	}
	return delivery.NewSMTPTransport(delivery.SMTPOptions{
		Host:     smtp.Server,
		Port:     smtp.Port,
		Username: smtp.Username,
		Password: smtp.Password,
		Timeout:  smtp.Timeout,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Telegram.Enabled {
		cfg := a.Config.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) openArchive(ctx context.Context) (*storage.Archive, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	archive := storage.NewArchive(pool)
	if err := archive.EnsureSchema(ctx); err != nil {
		archive.Close()
		return nil, nil, err
	}
	closer := func() {
		archive.Close()
	}
	return archive, closer, nil
}

// newService wires the collection service. The returned closer is never nil.
func (a *App) newService(ctx context.Context) (*service.Service, func(), error) {
	deps := service.Dependencies{
		Source:    a.newSource(),
		Transport: a.newTransport(),
		Notifier:  a.newNotifier(),
	}
	if deps.Transport == nil {
		a.Logger.Info().Msg("smtp not configured; report email disabled")
	}

	closer := func() {}
	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		a.Logger.Error().Err(err).Msg("run archive unavailable; continuing without it")
	} else if archive != nil {
		deps.Archive = archive
		closer = closeArchive
	}

	svc, err := service.New(a.Config, deps, a.Logger)
	if err != nil {
		closer()
		return nil, func() {}, err
	}
	return svc, closer, nil
}

// Run executes one full collection run and delivers its report.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	a.Logger.Info().Msg("starting collection run")
	outcome, err := svc.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.Logger.Info().Msg("collection run interrupted")
			return nil
		}
		return err
	}

	a.Logger.Info().
		Str("run_id", outcome.RunID).
		Int("samples", len(outcome.Result.Series)).
		Bool("mail_sent", outcome.MailSent).
		Str("store", outcome.Paths.Store).
		Msg("collection run finished")
	return nil
}

// Once fetches a single sample and prints its prices.
func (a *App) Once(ctx context.Context, out io.Writer) error {
	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	outcome, err := svc.Once(ctx)
	if err != nil {
		return err
	}
	last, ok := outcome.Result.Series.Last()
	if !ok {
		return errors.New("no prices fetched")
	}

	fmt.Fprintln(out, "Fetched prices:")
	for _, pair := range outcome.Result.Series.Pairs() {
		price, _ := last.Price(pair)
		fmt.Fprintf(out, "  %s: %s\n", pair, report.Money(price))
	}
	return nil
}

// SendTest fetches a single sample and mails a report for it straight away.
func (a *App) SendTest(ctx context.Context, out io.Writer) error {
	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	outcome, err := svc.SendTest(ctx)
	if err != nil {
		if errors.Is(err, service.ErrMailDisabled) {
			return fmt.Errorf("send-test needs smtp.server, smtp.username, smtp.password and recipients: %w", err)
		}
		return err
	}

	if outcome.MailSent {
		fmt.Fprintln(out, "Email send succeeded")
	} else {
		fmt.Fprintln(out, "Email send failed; check logs")
	}
	return nil
}

// Daemon repeats full runs on the configured cron schedule.
func (a *App) Daemon(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, closer, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer closer()

	daemon := scheduler.NewDaemon(a.Config.Daemon.Cron, a.location(), a.Logger)
	return daemon.Run(ctx, func(ctx context.Context) {
		outcome, err := svc.Run(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.Logger.Error().Err(err).Msg("scheduled run failed")
			}
			return
		}
		a.Logger.Info().Str("run_id", outcome.RunID).Bool("mail_sent", outcome.MailSent).Msg("scheduled run finished")
	}, a.Config.Daemon.RunOnStart)
}

// Serve runs the read-only dashboard until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := dashboard.New(dashboard.Options{
		DataDir:      a.Config.Storage.DataDir,
		HistoryFile:  a.Config.Storage.HistoryFile,
		TotalSamples: a.Config.Collection.Samples,
		Location:     a.location(),
	}, a.Logger)
	cfg := a.Config.Dashboard
	return srv.ListenAndServe(ctx, cfg.Listen, cfg.ReadTimeout, cfg.WriteTimeout)
}

// ExportOptions hold parameters for exporting a run.
type ExportOptions struct {
	Input     string
	PNGPath   string
	CSVPath   string
	PDFPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Input   string
	Limit   int
	Archive bool
}
