// Package devicetest provides an in-memory device.API for tests.
package devicetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/shineum/inkpost/internal/email"
	"github.com/shineum/inkpost/internal/fault"
)

// Upload is one recorded call to Fake.Upload.
type Upload struct {
	Token    string
	Filename string
	Kind     email.Kind
	Content  []byte
}

// Fake is a device.API that records uploads instead of calling the vendor.
// It is safe for concurrent use.
type Fake struct {
	mu       sync.Mutex
	issued   int
	uploads  []Upload
	rejected map[string]bool
	failures map[string]error
	exchange error
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		rejected: make(map[string]bool),
		failures: make(map[string]error),
	}
}

// RejectCode makes Register and Reconnect refuse code like the vendor does.
func (f *Fake) RejectCode(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected[code] = true
}

// FailExchange makes every code exchange return err.
func (f *Fake) FailExchange(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchange = err
}

// FailUpload makes uploads of filename return err.
func (f *Fake) FailUpload(filename string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[filename] = err
}

// Register issues a new token for code.
func (f *Fake) Register(ctx context.Context, code string) (string, error) {
	return f.issue(ctx, code)
}

// Reconnect issues a new token for code.
func (f *Fake) Reconnect(ctx context.Context, code string) (string, error) {
	return f.issue(ctx, code)
}

// Upload records doc, or returns the failure configured for its filename.
func (f *Fake) Upload(ctx context.Context, token string, doc email.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failures[doc.Filename]; ok {
		return err
	}
	f.uploads = append(f.uploads, Upload{
		Token:    token,
		Filename: doc.Filename,
		Kind:     doc.Kind,
		Content:  append([]byte(nil), doc.Content...),
	})
	return nil
}

// Uploads returns a copy of the uploads recorded so far.
func (f *Fake) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

// Issued returns how many tokens have been handed out.
func (f *Fake) Issued() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

func (f *Fake) issue(ctx context.Context, code string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.exchange != nil {
		return "", f.exchange
	}
	if f.rejected[code] {
		return "", fault.New(fault.InvalidOneTimeCode, "one-time code was rejected")
	}
	f.issued++
	return fmt.Sprintf("token-%d", f.issued), nil
}
