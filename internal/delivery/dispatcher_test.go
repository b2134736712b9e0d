package delivery

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/wneessen/go-mail"

	"bpi-collector/internal/report"
	"bpi-collector/internal/storage"
)

var fixedNow = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

type captureTransport struct {
	sent []*mail.Msg
	err  error
}

func (c *captureTransport) Send(ctx context.Context, msg *mail.Msg) error {
	c.sent = append(c.sent, msg)
	return c.err
}

type panicTransport struct{}

func (panicTransport) Send(ctx context.Context, msg *mail.Msg) error {
	panic("connection reset")
}

func newDispatcher(t *testing.T, transport Transport) (*Dispatcher, *storage.DeliveryHistory, string) {
	t.Helper()
	dir := t.TempDir()
	history := storage.NewDeliveryHistory(filepath.Join(dir, "email_status.json"), zerolog.Nop())
	composer := report.New(report.Options{Location: time.UTC, Now: func() time.Time { return fixedNow }}, zerolog.Nop())
	tempDir := filepath.Join(dir, "tmp")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(transport, composer, history, Options{
		TempDir:  tempDir,
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
	}, zerolog.Nop())
	return d, history, tempDir
}

func sampleSeries() storage.Series {
	base := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	return storage.Series{
		storage.NewSample(base, map[string]decimal.Decimal{"BTC-USD": decimal.RequireFromString("100")}),
		storage.NewSample(base.Add(time.Minute), map[string]decimal.Decimal{"BTC-USD": decimal.RequireFromString("110")}),
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 40, 20))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func partContents(t *testing.T, msg *mail.Msg) map[mail.ContentType]string {
	t.Helper()
	out := map[mail.ContentType]string{}
	for _, part := range msg.GetParts() {
		content, err := part.GetContent()
		if err != nil {
			t.Fatal(err)
		}
		out[part.GetContentType()] = string(content)
	}
	return out
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected temp dir to be empty, found %d entries", len(entries))
	}
}

func TestDeliverReportEmptySeries(t *testing.T) {
	transport := &captureTransport{}
	d, history, tempDir := newDispatcher(t, transport)

	ok := d.DeliverReport(context.Background(), "bot@example.com", []string{"ops@example.com"}, "Price Report", nil, filepath.Join(tempDir, "missing.png"))
	if !ok {
		t.Fatal("expected delivery to succeed")
	}
	if len(transport.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(transport.sent))
	}
	msg := transport.sent[0]
	if len(msg.GetAttachments()) != 0 || len(msg.GetEmbeds()) != 0 {
		t.Fatal("empty series should produce a mail without attachments")
	}
	parts := partContents(t, msg)
	if parts[mail.TypeTextHTML] != report.NoDataMessage {
		t.Fatalf("unexpected html body %q", parts[mail.TypeTextHTML])
	}
	if parts[mail.TypeTextPlain] != report.NoDataMessage {
		t.Fatalf("unexpected text body %q", parts[mail.TypeTextPlain])
	}

	records, err := history.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || !records[0].Success {
		t.Fatalf("expected one successful record, got %+v", records)
	}
	if records[0].Timestamp != fixedNow.Format(time.RFC3339) {
		t.Fatalf("empty series should stamp the record with now, got %s", records[0].Timestamp)
	}
}

func TestDeliverReportWithChart(t *testing.T) {
	transport := &captureTransport{}
	d, history, tempDir := newDispatcher(t, transport)
	chartPath := filepath.Join(t.TempDir(), "bpi_graph.png")
	writePNG(t, chartPath)

	var observed []storage.DeliveryRecord
	d.opts.OnRecord = func(ctx context.Context, rec storage.DeliveryRecord) {
		observed = append(observed, rec)
	}

	to := []string{"a@example.com", "b@example.com"}
	if !d.DeliverReport(context.Background(), "bot@example.com", to, "Price Report - Max BTC-USD: $110.00", sampleSeries(), chartPath) {
		t.Fatal("expected delivery to succeed")
	}

	msg := transport.sent[0]
	embeds := msg.GetEmbeds()
	if len(embeds) != 1 {
		t.Fatalf("expected one inline image, got %d", len(embeds))
	}
	if got := embeds[0].Header.Get("Content-ID"); got != "<graphimage>" {
		t.Fatalf("unexpected content id %q", got)
	}
	attachments := msg.GetAttachments()
	if len(attachments) != 1 || attachments[0].ContentType != "application/pdf" {
		t.Fatalf("expected one pdf attachment, got %+v", attachments)
	}
	if !strings.Contains(partContents(t, msg)[mail.TypeTextHTML], "cid:graphimage") {
		t.Fatal("html body should reference the inline chart")
	}

	assertNoTempFiles(t, tempDir)

	records, err := history.Load()
	if err != nil {
		t.Fatal(err)
	}
	rec := records[0]
	if !rec.Success || rec.Recipients != 2 || rec.Subject != "Price Report - Max BTC-USD: $110.00" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Timestamp != "2024-07-01T10:01:00Z" {
		t.Fatalf("record should carry the last sample time, got %s", rec.Timestamp)
	}
	if len(observed) != 1 || observed[0] != rec {
		t.Fatalf("hook should observe the written record, got %+v", observed)
	}
}

func TestDeliverReportTransportFailure(t *testing.T) {
	transport := &captureTransport{err: errors.New("535 authentication failed")}
	d, history, tempDir := newDispatcher(t, transport)

	if d.DeliverReport(context.Background(), "bot@example.com", []string{"ops@example.com"}, "Price Report", sampleSeries(), "") {
		t.Fatal("expected delivery to fail")
	}
	assertNoTempFiles(t, tempDir)

	records, err := history.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Success {
		t.Fatalf("failed attempt should be recorded as unsuccessful, got %+v", records)
	}
}

func TestDeliverReportRecoversPanic(t *testing.T) {
	d, history, tempDir := newDispatcher(t, panicTransport{})

	if d.DeliverReport(context.Background(), "bot@example.com", []string{"ops@example.com"}, "Price Report", sampleSeries(), "") {
		t.Fatal("expected delivery to fail")
	}
	assertNoTempFiles(t, tempDir)
	if records, _ := history.Load(); len(records) != 0 {
		t.Fatalf("aborted attempt leaves no record, got %+v", records)
	}
}

func TestDeliverReportNoRecipients(t *testing.T) {
	transport := &captureTransport{}
	d, _, _ := newDispatcher(t, transport)

	if d.DeliverReport(context.Background(), "bot@example.com", nil, "Price Report", sampleSeries(), "") {
		t.Fatal("expected delivery without recipients to fail")
	}
	if len(transport.sent) != 0 {
		t.Fatal("nothing should reach the transport")
	}
}

func TestBuildMessageAttachmentTypes(t *testing.T) {
	d, _, _ := newDispatcher(t, &captureTransport{})
	dir := t.TempDir()

	first := filepath.Join(dir, "first.png")
	second := filepath.Join(dir, "second.png")
	doc := filepath.Join(dir, "report.pdf")
	notes := filepath.Join(dir, "notes.txt")
	writePNG(t, first)
	writePNG(t, second)
	for _, path := range []string{doc, notes} {
		if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	msg, err := d.buildMessage("bot@example.com", []string{"ops@example.com"}, "subject", "<p>body</p>",
		[]string{doc, first, second, notes, filepath.Join(dir, "missing.bin")})
	if err != nil {
		t.Fatal(err)
	}

	if embeds := msg.GetEmbeds(); len(embeds) != 1 || embeds[0].Name != "first.png" {
		t.Fatalf("only the first image should be inlined, got %+v", embeds)
	}
	got := map[string]mail.ContentType{}
	for _, f := range msg.GetAttachments() {
		got[f.Name] = f.ContentType
	}
	want := map[string]mail.ContentType{
		"report.pdf": "application/pdf",
		"second.png": mail.TypeAppOctetStream,
		"notes.txt":  mail.TypeAppOctetStream,
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected attachments %+v", got)
	}
	for name, ct := range want {
		if got[name] != ct {
			t.Fatalf("attachment %s: got %q, want %q", name, got[name], ct)
		}
	}
}

func TestPlainText(t *testing.T) {
	in := "<div>Report</div><div>Line one<br>Line   two</div>"
	if got := PlainText(in); got != "Report Line one Line two" {
		t.Fatalf("unexpected plain text %q", got)
	}
	if got := PlainText(report.NoDataMessage); got != report.NoDataMessage {
		t.Fatalf("plain input should pass through, got %q", got)
	}
}
