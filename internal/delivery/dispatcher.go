package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shineum/inkpost/internal/device"
	"github.com/shineum/inkpost/internal/email"
	"github.com/shineum/inkpost/internal/fault"
	"github.com/shineum/inkpost/internal/metrics"
)

// Dispatcher uploads finished documents to a device. It never retries.
type Dispatcher struct {
	api     device.API
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher that uploads through api.
func NewDispatcher(api device.API, cfg Config, m *metrics.Metrics) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		api:     api,
		timeout: cfg.UploadTimeout,
		metrics: m,
	}
}

// Dispatch uploads doc with the device token.
func (d *Dispatcher) Dispatch(ctx context.Context, token string, doc email.Document) error {
	if !doc.Kind.Supported() {
		return fault.New(fault.UnsupportedDocumentKind, "%s has unsupported kind %q", doc.Filename, doc.Kind)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.api.Upload(ctx, token, doc)
	d.metrics.ObserveUpload(string(doc.Kind), time.Since(start))
	if err == nil {
		return nil
	}

	if fault.Is(err, fault.UnsupportedDocumentKind) {
		return err
	}

	var apiErr *device.APIError
	if errors.As(err, &apiErr) {
		return fault.Wrap(fault.UploadFailure, err, fmt.Sprintf("device cloud rejected %s: %s", doc.Filename, apiErr.Message))
	}
	return fault.Wrap(fault.UploadFailure, err, fmt.Sprintf("could not upload %s", doc.Filename))
}
