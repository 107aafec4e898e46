package inbox

import (
	"strings"
	"testing"

	"github.com/emersion/go-imap"

	"github.com/sehnem/verified-sources/extract"
)

const sampleMessage = "From: Josue <josue@sehnem.com>\r\n" +
	"To: test@example.com\r\n" +
	"Subject: monthly report\r\n" +
	"Date: Mon, 02 Jan 2023 10:00:00 +0000\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=\"b1\"\r\n" +
	"\r\n" +
	"--b1\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"Please find the report attached.\r\n" +
	"--b1\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"\r\n" +
	"%PDF-1.4 fake report content\r\n" +
	"--b1--\r\n"

func TestParseMessage(t *testing.T) {
	parsed, err := parseMessage(strings.NewReader(sampleMessage))
	if err != nil {
		t.Fatalf("parseMessage error: %v", err)
	}
	if !strings.Contains(parsed.text, "report attached") {
		t.Errorf("inline text = %q; want the message body", parsed.text)
	}
	if len(parsed.attachments) != 1 {
		t.Fatalf("got %d attachments; want 1", len(parsed.attachments))
	}
	attachment := parsed.attachments[0]
	if attachment.filename != "report.pdf" {
		t.Errorf("attachment filename = %q; want %q", attachment.filename, "report.pdf")
	}
	if attachment.mimeType != "application/pdf" {
		t.Errorf("attachment MIME type = %q; want %q", attachment.mimeType, "application/pdf")
	}
	if !strings.Contains(string(attachment.content), "%PDF-1.4") {
		t.Errorf("attachment content = %q; want the PDF payload", attachment.content)
	}
}

func TestMatchesSender(t *testing.T) {
	envelope := &imap.Envelope{
		From: []*imap.Address{{MailboxName: "Josue", HostName: "Sehnem.com"}},
	}
	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{"empty filter matches all", nil, true},
		{"matching address", []string{"josue@sehnem.com"}, true},
		{"case insensitive", []string{"JOSUE@SEHNEM.COM"}, true},
		{"one of several", []string{"astra92293@gmail.com", "josue@sehnem.com"}, true},
		{"no match", []string{"other@example.com"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesSender(envelope, tt.filters); got != tt.want {
				t.Errorf("matchesSender(%v) = %v; want %v", tt.filters, got, tt.want)
			}
		})
	}
	if matchesSender(nil, []string{"josue@sehnem.com"}) {
		t.Errorf("matchesSender(nil envelope) = true; want false")
	}
}

func TestAllowedMimeType(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		filters  []string
		want     bool
	}{
		{"empty filter allows all", "application/pdf", nil, true},
		{"allowed type", "application/pdf", []string{"application/pdf"}, true},
		{"case insensitive", "Application/PDF", []string{"application/pdf"}, true},
		{"filtered out", "image/png", []string{"application/pdf"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := allowedMimeType(tt.mimeType, tt.filters); got != tt.want {
				t.Errorf("allowedMimeType(%q, %v) = %v; want %v", tt.mimeType, tt.filters, got, tt.want)
			}
		})
	}
}

func TestChunkRecords(t *testing.T) {
	records := make([]extract.Record, 7)
	for i := range records {
		records[i] = extract.Record{"id": i}
	}
	batches := chunkRecords(records, 3)
	sizes := make([]int, 0, len(batches))
	for _, batch := range batches {
		sizes = append(sizes, len(batch))
	}
	want := []int{3, 3, 1}
	if len(sizes) != len(want) {
		t.Fatalf("batch sizes = %v; want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d has %d records; want %d", i, sizes[i], want[i])
		}
	}
	if chunkRecords(nil, 3) != nil {
		t.Errorf("chunking no records was supposed to yield no batches")
	}
}

func TestMessageRecord(t *testing.T) {
	parsed, err := parseMessage(strings.NewReader(sampleMessage))
	if err != nil {
		t.Fatalf("parseMessage error: %v", err)
	}
	msg := &imap.Message{
		Uid: 42,
		Envelope: &imap.Envelope{
			MessageId: "<abc@sehnem.com>",
			Subject:   "monthly report",
			From:      []*imap.Address{{MailboxName: "josue", HostName: "sehnem.com"}},
		},
	}
	record := messageRecord(msg, parsed)
	if record["message_uid"] != int64(42) {
		t.Errorf("message_uid = %v; want 42", record["message_uid"])
	}
	if record["from_email"] != "josue@sehnem.com" {
		t.Errorf("from_email = %v; want %q", record["from_email"], "josue@sehnem.com")
	}
	if record["subject"] != "monthly report" {
		t.Errorf("subject = %v; want %q", record["subject"], "monthly report")
	}
	if !strings.Contains(record["body"].(string), "report attached") {
		t.Errorf("body = %v; want the inline text", record["body"])
	}
}
