// Package stdout implements a Notifier that prints receipts to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/inkpost/internal/notify"
)

// Notifier prints receipts in a human-readable format.
type Notifier struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Notifier that writes to os.Stdout.
func New() *Notifier {
	return &Notifier{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Notifier that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Notifier {
	return &Notifier{writer: w}
}

// Notify prints the receipt.
func (n *Notifier) Notify(_ context.Context, r notify.Receipt) error {
	text, err := r.Text()
	if err != nil {
		return err
	}

	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("To: %s\n", r.To))
	b.WriteString(fmt.Sprintf("Subject: %s\n", r.Title()))
	b.WriteString(text + "\n")
	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(n.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write receipt: %w", err)
	}
	return nil
}

// Name returns the notifier name.
func (n *Notifier) Name() string {
	return "stdout"
}
