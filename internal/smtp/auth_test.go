package smtp

import (
	"testing"
)

func TestAuthenticator_Enabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{name: "both set", username: "user", password: "pass", want: true},
		{name: "empty username", username: "", password: "pass", want: false},
		{name: "empty password", username: "user", password: "", want: false},
		{name: "both empty", username: "", password: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth := NewAuthenticator(tt.username, tt.password)
			if got := auth.Enabled(); got != tt.want {
				t.Errorf("Enabled(): got %v, want %v", got, tt.want)
			}
		})
	}

	var nilAuth *Authenticator
	if nilAuth.Enabled() {
		t.Error("nil Authenticator reports enabled")
	}
}

func TestAuthenticator_Verify(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("testuser", "testpass")

	tests := []struct {
		name     string
		username string
		password string
		wantErr  bool
	}{
		{name: "valid", username: "testuser", password: "testpass", wantErr: false},
		{name: "wrong password", username: "testuser", password: "wrong", wantErr: true},
		{name: "wrong username", username: "other", password: "testpass", wantErr: true},
		{name: "prefix of password", username: "testuser", password: "test", wantErr: true},
		{name: "empty", username: "", password: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := auth.Verify(tt.username, tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("Verify(%q, %q): got err %v, wantErr %v", tt.username, tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticator_VerifyDisabled(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("", "")
	if err := auth.Verify("", ""); err == nil {
		t.Error("expected error when authentication is disabled, got nil")
	}
}

func TestAuthenticator_PlainServer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
		wantOK   bool
	}{
		{name: "no authzid", response: "\x00testuser\x00testpass", wantOK: true},
		{name: "with authzid", response: "admin\x00testuser\x00testpass", wantOK: true},
		{name: "bad password", response: "\x00testuser\x00nope", wantOK: false},
		{name: "malformed", response: "testuser testpass", wantOK: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			auth := NewAuthenticator("testuser", "testpass")
			succeeded := false
			server := auth.plainServer(func() { succeeded = true })

			_, _, err := server.Next([]byte(tt.response))
			if (err == nil) != tt.wantOK {
				t.Errorf("Next: got err %v, wantOK %v", err, tt.wantOK)
			}
			if succeeded != tt.wantOK {
				t.Errorf("onSuccess called: got %v, want %v", succeeded, tt.wantOK)
			}
		})
	}
}
