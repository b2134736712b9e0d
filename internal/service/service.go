package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bpi-collector/internal/alerting"
	"bpi-collector/internal/chart"
	"bpi-collector/internal/config"
	"bpi-collector/internal/delivery"
	"bpi-collector/internal/fetcher"
	"bpi-collector/internal/report"
	"bpi-collector/internal/scheduler"
	"bpi-collector/internal/stats"
	"bpi-collector/internal/storage"
)

// ErrMailDisabled is returned when a command needs mail but SMTP is not configured.
var ErrMailDisabled = errors.New("smtp not configured")

const fallbackPair = "BTC-USD"

// Dependencies are the collaborators a Service drives. Transport, Notifier
// and Archive are optional.
type Dependencies struct {
	Source    fetcher.PriceSource
	Transport delivery.Transport
	Notifier  alerting.Notifier
	Archive   storage.RunArchive
	Sleep     scheduler.SleepFunc
	Now       func() time.Time
}

// Outcome summarises one collection run and its delivery.
type Outcome struct {
	RunID      string
	Paths      config.RunPaths
	Result     scheduler.RunResult
	ReportPath string
	Subject    string
	MailTried  bool
	MailSent   bool
}

// Service orchestrates collection, reporting and delivery.
type Service struct {
	cfg      *config.Config
	deps     Dependencies
	location *time.Location
	composer *report.Composer
	history  *storage.DeliveryHistory
	logger   zerolog.Logger
}

// New constructs the collection service.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) (*Service, error) {
	if deps.Source == nil {
		return nil, fmt.Errorf("price source not configured")
	}
	loc, err := cfg.App.Location()
	if err != nil {
		return nil, err
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Service{
		cfg:      cfg,
		deps:     deps,
		location: loc,
		composer: report.New(report.Options{Location: loc, Now: deps.Now}, logger),
		history:  storage.NewDeliveryHistory(cfg.Storage.HistoryFile, logger),
		logger:   logger.With().Str("component", "service").Logger(),
	}, nil
}

// Run performs a full collection run, keeps the PDF report next to the run
// files, mails the report when SMTP is configured and posts a summary when a
// notifier is set. Delivery failures never fail the run.
func (s *Service) Run(ctx context.Context) (Outcome, error) {
	outcome, err := s.collect(ctx, s.cfg.Collection.Samples, s.cfg.Collection.Interval(), true)
	if err != nil {
		return outcome, err
	}

	series := outcome.Result.Series
	if !series.Empty() {
		path, err := s.composer.WriteDocument(series, outcome.Result.ChartPath, outcome.Paths.Report)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to write run report")
		}
		outcome.ReportPath = path
	}

	outcome.Subject = RunSubject(series, PrimaryPair(series, s.cfg.Collection.Pairs))
	s.deliver(ctx, &outcome)
	s.notify(ctx, outcome)
	return outcome, nil
}

// Once takes a single sample without charting or delivery.
func (s *Service) Once(ctx context.Context) (Outcome, error) {
	return s.collect(ctx, 1, 0, false)
}

// SendTest takes a single sample and mails a report for it immediately.
func (s *Service) SendTest(ctx context.Context) (Outcome, error) {
	if s.deps.Transport == nil {
		return Outcome{}, ErrMailDisabled
	}
	outcome, err := s.collect(ctx, 1, 0, true)
	if err != nil {
		return outcome, err
	}

	series := outcome.Result.Series
	outcome.Subject = SendTestSubject(series, PrimaryPair(series, s.cfg.Collection.Pairs))
	s.deliver(ctx, &outcome)
	return outcome, nil
}

func (s *Service) collect(ctx context.Context, samples int, interval time.Duration, render bool) (Outcome, error) {
	outcome := Outcome{RunID: uuid.NewString()}
	outcome.Paths = s.cfg.ResolveRunPaths(s.deps.Now())

	logger := s.logger.With().Str("run_id", outcome.RunID).Logger()
	store := storage.NewSampleStore(outcome.Paths.Store, logger)

	var renderer scheduler.ChartRenderer
	if render {
		renderer = chart.New(chart.Options{Path: outcome.Paths.Chart, Location: s.location}, logger)
	}

	collector := scheduler.New(s.deps.Source, store, renderer, scheduler.Options{
		Samples:  samples,
		Interval: interval,
		Pairs:    s.cfg.Collection.Pairs,
		Now:      s.deps.Now,
		Sleep:    s.deps.Sleep,
		OnSample: s.archiveSample(outcome.RunID),
	}, logger)

	result, err := collector.Run(ctx)
	outcome.Result = result
	if err != nil {
		return outcome, fmt.Errorf("collect samples: %w", err)
	}
	return outcome, nil
}

func (s *Service) deliver(ctx context.Context, outcome *Outcome) {
	if s.deps.Transport == nil {
		s.logger.Info().Msg("smtp not configured; skipping email")
		return
	}

	dispatcher := delivery.NewDispatcher(s.deps.Transport, s.composer, s.history, delivery.Options{
		Location: s.location,
		Now:      s.deps.Now,
		OnRecord: s.archiveDelivery(outcome.RunID),
	}, s.logger)

	outcome.MailTried = true
	outcome.MailSent = dispatcher.DeliverReport(ctx, s.cfg.SMTP.From, s.cfg.SMTP.To, outcome.Subject,
		outcome.Result.Series, outcome.Result.ChartPath)
}

func (s *Service) notify(ctx context.Context, outcome Outcome) {
	if s.deps.Notifier == nil {
		return
	}
	summary := alerting.RunSummary{
		RunID:     outcome.RunID,
		Started:   outcome.Result.Started,
		Finished:  outcome.Result.Finished,
		Samples:   len(outcome.Result.Series),
		Attempts:  outcome.Result.Attempted,
		Stats:     stats.ExtractAll(outcome.Result.Series),
		MailTried: outcome.MailTried,
		MailSent:  outcome.MailSent,
		Subject:   outcome.Subject,
	}
	if err := s.deps.Notifier.Notify(ctx, summary); err != nil {
		s.logger.Error().Err(err).Str("run_id", outcome.RunID).Msg("failed to dispatch run summary")
	}
}

func (s *Service) archiveSample(runID string) func(context.Context, storage.Sample) {
	if s.deps.Archive == nil {
		return nil
	}
	return func(ctx context.Context, sample storage.Sample) {
		if err := s.deps.Archive.InsertSample(ctx, runID, sample); err != nil {
			s.logger.Error().Err(err).Str("run_id", runID).Msg("failed to archive sample")
		}
	}
}

func (s *Service) archiveDelivery(runID string) func(context.Context, storage.DeliveryRecord) {
	if s.deps.Archive == nil {
		return nil
	}
	return func(ctx context.Context, rec storage.DeliveryRecord) {
		if err := s.deps.Archive.InsertDelivery(ctx, runID, rec); err != nil {
			s.logger.Error().Err(err).Str("run_id", runID).Msg("failed to archive delivery record")
		}
	}
}

// PrimaryPair picks the pair a subject line reports on: the first configured
// pair present in the first sample, then any pair of the series, then the
// first configured pair.
func PrimaryPair(series storage.Series, configured []string) string {
	if first, ok := series.First(); ok {
		for _, pair := range configured {
			if _, ok := first.Price(pair); ok {
				return pair
			}
		}
		if pairs := series.Pairs(); len(pairs) > 0 {
			return pairs[0]
		}
	}
	if len(configured) > 0 {
		return configured[0]
	}
	return fallbackPair
}

// RunSubject titles the mail of a full run.
func RunSubject(series storage.Series, pair string) string {
	st := stats.Extract(series, pair)
	if st.Empty() {
		return "Price Report - No Data"
	}
	return fmt.Sprintf("Price Report - Max %s: %s", pair, report.Money(st.Max))
}

// SendTestSubject titles the mail of a send-test run.
func SendTestSubject(series storage.Series, pair string) string {
	st := stats.Extract(series, pair)
	if st.Empty() {
		return "Price Test Report - No Data"
	}
	return fmt.Sprintf("Price Test Report - Current %s: %s", pair, report.Money(st.Current))
}
