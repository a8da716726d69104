package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shineum/inkpost/internal/notify"
)

func TestNotify_Delivered(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewWithWriter(&buf)

	r := notify.Receipt{
		To:            "verified@user.com",
		DeviceAddress: "abc-def-ghi-jkl-mno@in.example.com",
		Subject:       "Monthly Report",
		Delivered:     []string{"report.pdf", "book.epub"},
	}

	if err := n.Notify(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "To: verified@user.com") {
		t.Error("output missing To header")
	}
	if !strings.Contains(output, "Subject: Delivered: Monthly Report") {
		t.Errorf("output missing Subject header: %q", output)
	}
	for _, name := range []string{"report.pdf", "book.epub", "abc-def-ghi-jkl-mno@in.example.com"} {
		if !strings.Contains(output, name) {
			t.Errorf("output missing %q", name)
		}
	}
	if strings.Contains(output, "Failed") {
		t.Error("output should not list failures when there are none")
	}
	if !strings.HasPrefix(output, "========================================\n") {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, "========================================\n") {
		t.Error("output should end with separator line")
	}
}

func TestNotify_Partial(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewWithWriter(&buf)

	r := notify.Receipt{
		To:        "verified@user.com",
		Subject:   "Papers",
		Delivered: []string{"a.pdf"},
		Failed:    []notify.Failure{{Filename: "b.pdf", Reason: "upload failed"}},
		Skipped:   []string{"notes.docx"},
	}

	if err := n.Notify(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Subject: Partially delivered: Papers") {
		t.Errorf("output missing partial subject: %q", output)
	}
	if !strings.Contains(output, "b.pdf: upload failed") {
		t.Errorf("output missing failure line: %q", output)
	}
	if !strings.Contains(output, "notes.docx") {
		t.Errorf("output missing skipped file: %q", output)
	}
}

func TestNotify_Problem(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := NewWithWriter(&buf)

	r := notify.Receipt{To: "verified@user.com", Problem: "no attachment or HTML body to deliver"}
	if err := n.Notify(context.Background(), r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Subject: Not delivered: your message") {
		t.Errorf("output missing default subject: %q", output)
	}
	if !strings.Contains(output, "no attachment or HTML body to deliver") {
		t.Errorf("output missing problem: %q", output)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestNotify_WriteError(t *testing.T) {
	t.Parallel()

	n := NewWithWriter(failingWriter{})
	if err := n.Notify(context.Background(), notify.Receipt{To: "a@b.c"}); err == nil {
		t.Fatal("expected write error")
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	if got := New().Name(); got != "stdout" {
		t.Errorf("Name(): got %q, want %q", got, "stdout")
	}
}

func TestNotifierInterface(t *testing.T) {
	t.Parallel()

	var _ notify.Notifier = (*Notifier)(nil)
}
