package credentials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"creepwatch/internal/auth"

	"github.com/zalando/go-keyring"
)

// Service is the keyring service passwords are stored under, keyed by email.
const Service = "creepwatch"

const (
	EnvEmail    = "CREEPWATCH_EMAIL"
	EnvPassword = "CREEPWATCH_PASSWORD"
)

var ErrMissing = errors.New("credentials not found")

var (
	keyringGet    = keyring.Get
	keyringSet    = keyring.Set
	keyringDelete = keyring.Delete
)

// Resolve builds credentials from the environment, falling back to email for
// the account and to the OS keyring for the password.
func Resolve(email string) (auth.Credentials, error) {
	email = Email(email)
	if email == "" {
		return auth.Credentials{}, fmt.Errorf("%w: set %s or email in the config file", ErrMissing, EnvEmail)
	}

	if pw := os.Getenv(EnvPassword); pw != "" {
		return auth.Credentials{Email: email, Password: pw}, nil
	}

	pw, err := keyringGet(Service, email)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return auth.Credentials{}, fmt.Errorf("%w: no password for %s in %s or the keyring", ErrMissing, email, EnvPassword)
	case err != nil:
		return auth.Credentials{}, fmt.Errorf("failed to read keyring: %w", err)
	}
	return auth.Credentials{Email: email, Password: pw}, nil
}

// Email returns the account from CREEPWATCH_EMAIL, or fallback when it is unset.
func Email(fallback string) string {
	if v := strings.TrimSpace(os.Getenv(EnvEmail)); v != "" {
		return v
	}
	return fallback
}

// Store saves the password in the OS keyring.
func Store(creds auth.Credentials) error {
	if creds.Empty() {
		return fmt.Errorf("%w: email and password are required", ErrMissing)
	}
	if err := keyringSet(Service, creds.Email, creds.Password); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

// Forget removes a stored password. Forgetting an unknown account is not an error.
func Forget(email string) error {
	if err := keyringDelete(Service, email); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return nil
}
