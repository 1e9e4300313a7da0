package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// SecurityLevel is the SNMPv3 USM security level.
type SecurityLevel string

const (
	NoAuthNoPriv SecurityLevel = "noAuthNoPriv"
	AuthNoPriv   SecurityLevel = "authNoPriv"
	AuthPriv     SecurityLevel = "authPriv"
)

// SNMPCredential is a stored SNMPv3 credential. Secrets are kept encrypted
// and are only materialised by the credential resolver.
type SNMPCredential struct {
	ID               uuid.UUID     `json:"id"`
	Name             string        `json:"name"`
	Username         string        `json:"username"`
	SecurityLevel    SecurityLevel `json:"security_level"`
	AuthProtocol     string        `json:"auth_protocol,omitempty"`
	PrivProtocol     string        `json:"priv_protocol,omitempty"`
	EncryptedSecrets string        `json:"-"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// SNMPv3Params are decrypted USM parameters ready for a prober.
type SNMPv3Params struct {
	Username      string        `json:"username" validate:"required,min=1,max=64"`
	SecurityLevel SecurityLevel `json:"security_level" validate:"required,oneof=noAuthNoPriv authNoPriv authPriv"`
	AuthProtocol  string        `json:"auth_protocol,omitempty" validate:"omitempty,oneof=MD5 SHA SHA224 SHA256 SHA384 SHA512"`
	AuthPassword  string        `json:"auth_password,omitempty"`
	PrivProtocol  string        `json:"priv_protocol,omitempty" validate:"omitempty,oneof=DES AES AES192 AES256 AES192C AES256C"`
	PrivPassword  string        `json:"priv_password,omitempty"`
	ContextName   string        `json:"context_name,omitempty"`
}

// Validate checks that the protocols and secrets match the security level.
func (p *SNMPv3Params) Validate() error {
	switch p.SecurityLevel {
	case AuthNoPriv, AuthPriv:
		if p.AuthProtocol == "" {
			return errors.New("auth_protocol is required for " + string(p.SecurityLevel))
		}
		if len(p.AuthPassword) < 8 {
			return errors.New("auth_password must be at least 8 characters")
		}
	}
	if p.SecurityLevel == AuthPriv {
		if p.PrivProtocol == "" {
			return errors.New("priv_protocol is required for authPriv")
		}
		if len(p.PrivPassword) < 8 {
			return errors.New("priv_password must be at least 8 characters")
		}
	}
	return nil
}

// Secrets is the plaintext payload sealed into SNMPCredential.EncryptedSecrets.
type Secrets struct {
	AuthPassword string `json:"auth_password,omitempty"`
	PrivPassword string `json:"priv_password,omitempty"`
}
