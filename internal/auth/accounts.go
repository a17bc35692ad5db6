package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/jensholdgaard/team-auction/internal/config"
)

// ErrInvalidCredentials is returned for unknown users and wrong passwords.
var ErrInvalidCredentials = errors.New("invalid username or password")

// Accounts checks operator passwords against configured bcrypt hashes.
type Accounts struct {
	hashes map[string][]byte
}

// NewAccounts indexes the admins that have a username.
func NewAccounts(admins []config.AdminAccount) *Accounts {
	a := &Accounts{hashes: make(map[string][]byte)}
	for _, adm := range admins {
		if adm.Username != "" {
			a.hashes[strings.ToLower(adm.Username)] = []byte(adm.PasswordHash)
		}
	}
	return a
}

// Authenticate returns the principal for a correct username and password.
func (a *Accounts) Authenticate(username, password string) (Principal, error) {
	name := strings.ToLower(strings.TrimSpace(username))
	hash, ok := a.hashes[name]
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{ID: name, Name: username, Source: "http"}, nil
}
