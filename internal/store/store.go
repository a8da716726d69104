// Package store persists accounts and devices with bun on top of sqlite.
package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate")
)

// Store is the account and device registry.
type Store struct {
	db *bun.DB
}

// Open connects to the sqlite database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "could not open database")
	}
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, errors.Wrap(err, "could not reach database")
	}
	return New(bun.NewDB(sqldb, sqlitedialect.New())), nil
}

// New wraps an existing bun database.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*Account)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "could not create accounts table")
	}

	_, err = s.db.NewCreateTable().
		Model((*Device)(nil)).
		IfNotExists().
		ForeignKey(`("account_id") REFERENCES "accounts" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "could not create devices table")
	}

	_, err = s.db.NewCreateIndex().
		Model((*Device)(nil)).
		Index("devices_account_id_idx").
		Column("account_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "could not create devices index")
	}
	return nil
}

// CreateAccount inserts an account. The email is stored lower-cased.
func (s *Store) CreateAccount(ctx context.Context, email string, verified bool) (*Account, error) {
	account := &Account{
		Email:         normalizeEmail(email),
		EmailVerified: verified,
	}
	if _, err := s.db.NewInsert().Model(account).Exec(ctx); err != nil {
		if isUniqueConstraintErr(err) {
			return nil, ErrDuplicate
		}
		return nil, errors.Wrap(err, "could not create account")
	}
	return account, nil
}

// AccountByEmail looks up an account by its email address.
func (s *Store) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	var account Account
	err := s.db.NewSelect().
		Model(&account).
		Where("email = ?", normalizeEmail(email)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "could not query accounts")
	}
	return &account, nil
}

// SetEmailVerified updates the verification flag of an account.
func (s *Store) SetEmailVerified(ctx context.Context, email string, verified bool) error {
	res, err := s.db.NewUpdate().
		Model((*Account)(nil)).
		Set("email_verified = ?", verified).
		Where("email = ?", normalizeEmail(email)).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "could not update account")
	}
	return requireAffected(res)
}

// Accounts lists every account ordered by id.
func (s *Store) Accounts(ctx context.Context) ([]Account, error) {
	var accounts []Account
	if err := s.db.NewSelect().Model(&accounts).Order("id ASC").Scan(ctx); err != nil {
		return nil, errors.Wrap(err, "could not list accounts")
	}
	return accounts, nil
}

// CreateDevice inserts a device. A clash on the delivery address is
// reported as ErrDuplicate.
func (s *Store) CreateDevice(ctx context.Context, device *Device) error {
	device.Address = normalizeEmail(device.Address)
	if _, err := s.db.NewInsert().Model(device).Exec(ctx); err != nil {
		if isUniqueConstraintErr(err) {
			return ErrDuplicate
		}
		return errors.Wrap(err, "could not create device")
	}
	return nil
}

// DeviceByID looks up a device by its id.
func (s *Store) DeviceByID(ctx context.Context, id int64) (*Device, error) {
	var device Device
	err := s.db.NewSelect().
		Model(&device).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "could not query devices")
	}
	return &device, nil
}

// DeviceForDelivery returns the device bound to address that is owned by
// accountID.
func (s *Store) DeviceForDelivery(ctx context.Context, address string, accountID int64) (*Device, error) {
	var device Device
	err := s.db.NewSelect().
		Model(&device).
		Where("address = ?", normalizeEmail(address)).
		Where("account_id = ?", accountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "could not query devices")
	}
	return &device, nil
}

// DevicesForAccount lists the devices owned by accountID ordered by id.
func (s *Store) DevicesForAccount(ctx context.Context, accountID int64) ([]Device, error) {
	var devices []Device
	err := s.db.NewSelect().
		Model(&devices).
		Where("account_id = ?", accountID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not list devices")
	}
	return devices, nil
}

// AddressExists reports whether a delivery address is already assigned.
func (s *Store) AddressExists(ctx context.Context, address string) (bool, error) {
	exists, err := s.db.NewSelect().
		Model((*Device)(nil)).
		Where("address = ?", normalizeEmail(address)).
		Exists(ctx)
	if err != nil {
		return false, errors.Wrap(err, "could not query devices")
	}
	return exists, nil
}

// ReplaceDeviceToken stores a new token and marks the device registered.
// The delivery address is never touched.
func (s *Store) ReplaceDeviceToken(ctx context.Context, id int64, token string) (*Device, error) {
	res, err := s.db.NewUpdate().
		Model((*Device)(nil)).
		Set("token = ?", token).
		Set("registered = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not update device")
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.DeviceByID(ctx, id)
}

// DeleteDevice removes a device row.
func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	res, err := s.db.NewDelete().
		Model((*Device)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "could not delete device")
	}
	return requireAffected(res)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "could not read affected rows")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueConstraintErr reports whether err is a sqlite unique violation.
func isUniqueConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
