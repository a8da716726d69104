package device

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shineum/inkpost/internal/fault"
	"github.com/shineum/inkpost/internal/store"
)

const (
	// codeLength is the length of the vendor's one-time codes.
	codeLength = 8

	addressGroups    = 5
	addressGroupSize = 3

	// maxAddressAttempts bounds address generation. With 26^15 possible
	// local parts a second attempt is already unlikely.
	maxAddressAttempts = 5
)

// Store is the persistence the Registrar needs. *store.Store implements it.
type Store interface {
	CreateDevice(ctx context.Context, device *store.Device) error
	DeviceByID(ctx context.Context, id int64) (*store.Device, error)
	DevicesForAccount(ctx context.Context, accountID int64) ([]store.Device, error)
	AddressExists(ctx context.Context, address string) (bool, error)
	ReplaceDeviceToken(ctx context.Context, id int64, token string) (*store.Device, error)
	DeleteDevice(ctx context.Context, id int64) error
}

// Registrar manages the device lifecycle: pairing a new device, rotating
// the token of an existing one, and removing it.
type Registrar struct {
	store  Store
	api    API
	domain string
	random io.Reader
}

// NewRegistrar creates a Registrar that hands out delivery addresses in
// domain.
func NewRegistrar(s Store, api API, domain string) *Registrar {
	return &Registrar{
		store:  s,
		api:    api,
		domain: strings.ToLower(strings.TrimSpace(domain)),
		random: rand.Reader,
	}
}

// Register pairs a new device with accountID. Every successful call creates
// a new device with a freshly generated delivery address.
func (r *Registrar) Register(ctx context.Context, accountID int64, code string) (*store.Device, error) {
	code, err := validateCode(code)
	if err != nil {
		return nil, err
	}

	token, err := r.api.Register(ctx, code)
	if err != nil {
		return nil, exchangeError(err)
	}

	for attempt := 0; attempt < maxAddressAttempts; attempt++ {
		address, err := r.newAddress(ctx)
		if err != nil {
			return nil, err
		}

		dev := &store.Device{
			AccountID:  accountID,
			Token:      token,
			Address:    address,
			Registered: true,
		}
		err = r.store.CreateDevice(ctx, dev)
		if errors.Is(err, store.ErrDuplicate) {
			slog.Warn("delivery address collision on insert, retrying", "address", address)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save device: %w", err)
		}

		slog.Info("device registered",
			"device_id", dev.ID,
			"account_id", accountID,
			"address", dev.Address,
		)
		return dev, nil
	}
	return nil, fmt.Errorf("could not allocate a unique delivery address after %d attempts", maxAddressAttempts)
}

// Reconnect replaces the token of an existing device owned by accountID.
// The delivery address is preserved.
func (r *Registrar) Reconnect(ctx context.Context, accountID, deviceID int64, code string) (*store.Device, error) {
	if _, err := r.owned(ctx, accountID, deviceID); err != nil {
		return nil, err
	}

	code, err := validateCode(code)
	if err != nil {
		return nil, err
	}

	token, err := r.api.Reconnect(ctx, code)
	if err != nil {
		return nil, exchangeError(err)
	}

	dev, err := r.store.ReplaceDeviceToken(ctx, deviceID, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.New(fault.DeviceNotFound, "device %d not found", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}

	slog.Info("device reconnected",
		"device_id", dev.ID,
		"account_id", accountID,
	)
	return dev, nil
}

// Delete removes a device owned by accountID.
func (r *Registrar) Delete(ctx context.Context, accountID, deviceID int64) error {
	if _, err := r.owned(ctx, accountID, deviceID); err != nil {
		return err
	}

	err := r.store.DeleteDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		return fault.New(fault.DeviceNotFound, "device %d not found", deviceID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	slog.Info("device deleted", "device_id", deviceID, "account_id", accountID)
	return nil
}

// List returns the devices owned by accountID.
func (r *Registrar) List(ctx context.Context, accountID int64) ([]store.Device, error) {
	devices, err := r.store.DevicesForAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

// owned loads a device and checks that accountID owns it. A device owned by
// someone else is reported exactly like a missing one.
func (r *Registrar) owned(ctx context.Context, accountID, deviceID int64) (*store.Device, error) {
	dev, err := r.store.DeviceByID(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && dev.AccountID != accountID) {
		return nil, fault.New(fault.DeviceNotFound, "device %d not found", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	return dev, nil
}

// newAddress generates a delivery address that is not yet assigned.
func (r *Registrar) newAddress(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAddressAttempts; attempt++ {
		local, err := randomLocalPart(r.random)
		if err != nil {
			return "", fmt.Errorf("failed to generate delivery address: %w", err)
		}
		address := local + "@" + r.domain

		exists, err := r.store.AddressExists(ctx, address)
		if err != nil {
			return "", fmt.Errorf("failed to check delivery address: %w", err)
		}
		if !exists {
			return address, nil
		}
		slog.Warn("delivery address collision, retrying", "address", address)
	}
	return "", fmt.Errorf("could not allocate a unique delivery address after %d attempts", maxAddressAttempts)
}

// randomLocalPart returns five dash-separated groups of three lower-case
// letters, e.g. "abc-def-ghi-jkl-mno".
func randomLocalPart(random io.Reader) (string, error) {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	// Largest multiple of 26 that fits in a byte; higher values are
	// rejected so every letter is equally likely.
	const limit = 256 - 256%len(letters)

	var b strings.Builder
	buf := make([]byte, 1)
	for g := 0; g < addressGroups; g++ {
		if g > 0 {
			b.WriteByte('-')
		}
		for n := 0; n < addressGroupSize; {
			if _, err := io.ReadFull(random, buf); err != nil {
				return "", err
			}
			if int(buf[0]) >= limit {
				continue
			}
			b.WriteByte(letters[int(buf[0])%len(letters)])
			n++
		}
	}
	return b.String(), nil
}

// validateCode checks the shape of a one-time code before it is sent to
// the vendor.
func validateCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if len(code) != codeLength {
		return "", fault.New(fault.InvalidOneTimeCode, "one-time code must be %d characters", codeLength)
	}
	for _, c := range code {
		if !('a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9') {
			return "", fault.New(fault.InvalidOneTimeCode, "one-time code must be alphanumeric")
		}
	}
	return code, nil
}

// exchangeError keeps a rejection from the vendor tagged as an invalid code
// and wraps everything else.
func exchangeError(err error) error {
	if fault.Is(err, fault.InvalidOneTimeCode) {
		return err
	}
	return fmt.Errorf("one-time code exchange failed: %w", err)
}
