// Package smtp accepts inbound mail for device addresses and hands each
// message to the delivery pipeline.
package smtp

import (
	"crypto/subtle"
	"errors"

	"github.com/emersion/go-sasl"
)

var errAuthFailed = errors.New("authentication failed")

// Authenticator verifies SMTP AUTH credentials against a single configured
// account. Upstream relays use it; direct MX delivery leaves it disabled.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
// If both username and password are empty, authentication is disabled.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a != nil && a.username != "" && a.password != ""
}

// Verify compares the credentials in constant time.
func (a *Authenticator) Verify(username, password string) error {
	if !a.Enabled() {
		return errAuthFailed
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return errAuthFailed
	}
	return nil
}

// plainServer returns a SASL PLAIN server that calls onSuccess once the
// credentials check out. The authorization identity is ignored.
func (a *Authenticator) plainServer(onSuccess func()) sasl.Server {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if err := a.Verify(username, password); err != nil {
			return err
		}
		onSuccess()
		return nil
	})
}
