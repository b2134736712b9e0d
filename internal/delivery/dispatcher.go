package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"bpi-collector/internal/report"
	"bpi-collector/internal/storage"
)

// InlineChartID is the Content-ID the mail body uses to reference the chart.
const InlineChartID = "graphimage"

// HistoryRecorder persists delivery outcomes.
type HistoryRecorder interface {
	Record(rec storage.DeliveryRecord) error
}

// Options tune the dispatcher.
type Options struct {
	TempDir  string
	Location *time.Location
	Now      func() time.Time
	// OnRecord observes every record after it is written to history.
	OnRecord func(ctx context.Context, rec storage.DeliveryRecord)
}

// Dispatcher assembles and sends report mails.
type Dispatcher struct {
	transport Transport
	composer  *report.Composer
	history   HistoryRecorder
	opts      Options
	logger    zerolog.Logger
}

// NewDispatcher constructs a Dispatcher. history may be nil.
func NewDispatcher(transport Transport, composer *report.Composer, history HistoryRecorder, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Dispatcher{
		transport: transport,
		composer:  composer,
		history:   history,
		opts:      opts,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DeliverReport mails the report for series to the recipients and reports
// whether the transport accepted it. It never panics and never returns an
// error; failures are logged. Every attempt is written to the history with
// its actual outcome.
func (d *Dispatcher) DeliverReport(ctx context.Context, from string, to []string, subject string, series storage.Series, chartPath string) (ok bool) {
	var temps []string
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("report delivery aborted")
			ok = false
		}
		d.cleanup(temps)
	}()

	if d.transport == nil {
		d.logger.Error().Msg("no mail transport configured")
		return false
	}

	chartExists := fileExists(chartPath)
	cid := ""
	if chartExists && isImage(chartPath) {
		cid = InlineChartID
	}
	body := d.composer.HTML(series, cid)

	var attachments []string
	if !series.Empty() {
		pdfPath, err := d.renderDocument(series, chartPath)
		if err != nil {
			d.logger.Error().Err(err).Msg("failed to render pdf report")
			d.record(ctx, series, subject, to, false)
			return false
		}
		temps = append(temps, pdfPath)
		attachments = append(attachments, pdfPath)
	}
	if chartExists {
		attachments = append(attachments, chartPath)
	}

	msg, err := d.buildMessage(from, to, subject, body, attachments)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to compose report mail")
		d.record(ctx, series, subject, to, false)
		return false
	}

	if err := d.transport.Send(ctx, msg); err != nil {
		d.logger.Error().Err(err).Strs("to", to).Msg("failed to send report mail")
		d.record(ctx, series, subject, to, false)
		return false
	}

	d.logger.Info().Strs("to", to).Str("subject", subject).Int("attachments", len(attachments)).Msg("report mail sent")
	d.record(ctx, series, subject, to, true)
	return true
}

func (d *Dispatcher) renderDocument(series storage.Series, chartPath string) (string, error) {
	tmp, err := os.CreateTemp(d.opts.TempDir, "bpi_report_*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp pdf: %w", err)
	}
	name := tmp.Name()
	tmp.Close()

	if _, err := d.composer.WriteDocument(series, chartPath, name); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func (d *Dispatcher) buildMessage(from string, to []string, subject, body string, attachments []string) (*mail.Msg, error) {
	if len(to) == 0 {
		return nil, errors.New("no recipients")
	}

	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("set from: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return nil, fmt.Errorf("set recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, PlainText(body))
	msg.AddAlternativeString(mail.TypeTextHTML, body)

	inlined := false
	for _, path := range attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			d.logger.Error().Err(err).Str("path", path).Msg("failed to read attachment")
			continue
		}
		name := filepath.Base(path)

		if !inlined && isImage(path) {
			inlined = true
			if err := msg.EmbedReader(name, bytes.NewReader(data),
				mail.WithFileContentType(imageType(path)),
				mail.WithFileContentID("<"+InlineChartID+">"),
			); err != nil {
				return nil, fmt.Errorf("embed %s: %w", name, err)
			}
			continue
		}

		if err := msg.AttachReader(name, bytes.NewReader(data), mail.WithFileContentType(attachmentType(path))); err != nil {
			return nil, fmt.Errorf("attach %s: %w", name, err)
		}
	}
	return msg, nil
}

func (d *Dispatcher) record(ctx context.Context, series storage.Series, subject string, to []string, success bool) {
	now := d.opts.Now().UTC()
	ts := now
	if last, ok := series.Last(); ok {
		ts = last.Timestamp
	}

	rec := storage.DeliveryRecord{
		Timestamp:     ts.UTC().Format(time.RFC3339),
		FormattedTime: report.FormatTimestamp(ts, d.opts.Location),
		Success:       success,
		Subject:       subject,
		Recipients:    len(to),
		SentAt:        now.Format(time.RFC3339),
	}

	if d.history != nil {
		if err := d.history.Record(rec); err != nil {
			d.logger.Warn().Err(err).Msg("failed to update delivery history")
		}
	}
	if d.opts.OnRecord != nil {
		d.opts.OnRecord(ctx, rec)
	}
}

func (d *Dispatcher) cleanup(paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			d.logger.Warn().Err(err).Str("path", path).Msg("failed to delete temporary file")
		}
	}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// PlainText derives the text alternative of an HTML body.
func PlainText(body string) string {
	text := strings.NewReplacer("<br>", "\n", "<div>", "", "</div>", "\n").Replace(body)
	text = tagPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return true
	}
	return false
}

func imageType(path string) mail.ContentType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return mail.ContentType("image/jpeg")
	case ".gif":
		return mail.ContentType("image/gif")
	default:
		return mail.ContentType("image/png")
	}
}

func attachmentType(path string) mail.ContentType {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return mail.ContentType("application/pdf")
	}
	return mail.TypeAppOctetStream
}
