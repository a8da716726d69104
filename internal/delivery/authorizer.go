package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/shineum/inkpost/internal/address"
	"github.com/shineum/inkpost/internal/fault"
	"github.com/shineum/inkpost/internal/store"
)

// Directory is the read-only view of the registry used to authorize a
// delivery. *store.Store implements it.
type Directory interface {
	AccountByEmail(ctx context.Context, email string) (*store.Account, error)
	DeviceForDelivery(ctx context.Context, address string, accountID int64) (*store.Device, error)
}

// Authorizer checks that the sender of a message owns the device behind
// the recipient address.
type Authorizer struct {
	dir Directory
}

// NewAuthorizer creates an Authorizer backed by dir.
func NewAuthorizer(dir Directory) *Authorizer {
	return &Authorizer{dir: dir}
}

// Authorize returns the registered device that pair.To delivers to,
// provided pair.From is a verified account that owns it.
func (a *Authorizer) Authorize(ctx context.Context, pair address.Pair) (*store.Device, error) {
	account, err := a.dir.AccountByEmail(ctx, pair.From.String())
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.New(fault.UnknownOrUnverifiedSender, "sender %s is not a known account", pair.From)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up sender: %w", err)
	}
	if !account.EmailVerified {
		return nil, fault.New(fault.UnknownOrUnverifiedSender, "sender %s has not verified their email", pair.From)
	}

	dev, err := a.dir.DeviceForDelivery(ctx, pair.To.String(), account.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.New(fault.UnregisteredOrForeignDevice, "no device of %s is reachable at %s", pair.From, pair.To)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up device: %w", err)
	}
	if !dev.Registered || dev.Token == "" {
		return nil, fault.New(fault.UnregisteredOrForeignDevice, "device at %s is not registered", pair.To)
	}
	return dev, nil
}
