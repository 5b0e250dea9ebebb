package core

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/illarion/filevault/internal/crypto"
)

// PasswordEnv names the environment variable checked before prompting
const PasswordEnv = "FILEVAULT_PASSWORD"

var ErrPasswordMismatch = errors.New("passwords do not match")

// ReadPassword reads a password from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm() ([]byte, error) {
	password1, err := ReadPassword("Enter password: ")
	if err != nil {
		return nil, err
	}

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		crypto.ClearBytes(password1)
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		crypto.ClearBytes(password1)
		return nil, ErrPasswordMismatch
	}
	return password1, nil
}

// GetPasswordFromEnv returns a copy of FILEVAULT_PASSWORD, or nil
func GetPasswordFromEnv() []byte {
	password := os.Getenv(PasswordEnv)
	if password == "" {
		return nil
	}
	return []byte(password)
}
