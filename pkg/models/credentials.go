package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/ajitpratap0/crmsync/pkg/errors"
)

// Credentials identifies one CRM account. Values are immutable once built.
type Credentials struct {
	Username     string `yaml:"username" json:"username" mapstructure:"username"`
	Password     string `yaml:"password" json:"-" mapstructure:"password"`
	ClientID     string `yaml:"client_id" json:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-" mapstructure:"client_secret"`
	// LoginURL is the OAuth2 host, e.g. https://login.salesforce.com
	LoginURL string `yaml:"login_url" json:"login_url" mapstructure:"login_url"`
}

// Fingerprint returns a stable hex digest of the credential fields.
//
// Each field is length-prefixed before hashing so that shifting characters
// between adjacent fields changes the digest.
func (c Credentials) Fingerprint() string {
	h := sha256.New()
	var n [8]byte
	for _, f := range []string{c.Username, c.Password, c.ClientID, c.ClientSecret, c.LoginURL} {
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Validate checks that the fields needed for a password-grant login are set.
func (c Credentials) Validate() error {
	switch {
	case c.Username == "":
		return errors.New(errors.ErrorTypeValidation, "username is required")
	case c.Password == "":
		return errors.New(errors.ErrorTypeValidation, "password is required")
	case c.ClientID == "":
		return errors.New(errors.ErrorTypeValidation, "client_id is required")
	case c.ClientSecret == "":
		return errors.New(errors.ErrorTypeValidation, "client_secret is required")
	}
	return nil
}
