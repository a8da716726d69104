package store

import (
	"time"

	"github.com/uptrace/bun"
)

// Account is a user known to the identity store.
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID            int64     `bun:",pk,autoincrement"`
	Email         string    `bun:",notnull,unique"`
	EmailVerified bool      `bun:",notnull,default:false"`
	CreatedAt     time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// Device is a tablet bound to an account. Address is assigned once at
// registration and survives token replacement.
type Device struct {
	bun.BaseModel `bun:"table:devices"`

	ID         int64  `bun:",pk,autoincrement"`
	AccountID  int64  `bun:",notnull"`
	Token      string `bun:",nullzero"`
	Address    string `bun:",notnull,unique"`
	Registered bool   `bun:",notnull,default:false"`

	Account *Account `bun:"rel:belongs-to,join:account_id=id,on_delete:cascade"`

	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}
