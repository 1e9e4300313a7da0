// Package credentials seals and resolves SNMPv3 credentials. Decrypted
// secrets only live for the duration of a probe.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nmslite/netmon/internal/auth"
	"github.com/nmslite/netmon/internal/model"
	"github.com/nmslite/netmon/internal/store"
)

var (
	ErrNotFound = errors.New("snmp credential not found")
	ErrDecrypt  = errors.New("failed to decrypt snmp credential")
)

// Service handles credential operations
type Service struct {
	cipher *auth.Cipher
	store  store.CredentialStore
}

// NewService creates a new credential service
func NewService(cipher *auth.Cipher, st store.CredentialStore) *Service {
	return &Service{
		cipher: cipher,
		store:  st,
	}
}

// Create validates params, encrypts the secrets and persists the credential.
func (s *Service) Create(ctx context.Context, name string, params model.SNMPv3Params) (*model.SNMPCredential, error) {
	if err := model.ValidateStruct(&params); err != nil {
		return nil, err
	}

	sealed, err := s.Seal(model.Secrets{AuthPassword: params.AuthPassword, PrivPassword: params.PrivPassword})
	if err != nil {
		return nil, err
	}

	cred := &model.SNMPCredential{
		Name:             name,
		Username:         params.Username,
		SecurityLevel:    params.SecurityLevel,
		AuthProtocol:     params.AuthProtocol,
		PrivProtocol:     params.PrivProtocol,
		EncryptedSecrets: sealed,
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	return cred, nil
}

// Seal encrypts the secrets payload.
func (s *Service) Seal(secrets model.Secrets) (string, error) {
	data, err := json.Marshal(secrets)
	if err != nil {
		return "", fmt.Errorf("failed to marshal secrets: %w", err)
	}
	return s.cipher.Encrypt(data)
}

// Resolve fetches and decrypts a credential into USM parameters.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*model.SNMPv3Params, error) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch credential: %w", err)
	}

	params := &model.SNMPv3Params{
		Username:      cred.Username,
		SecurityLevel: cred.SecurityLevel,
		AuthProtocol:  cred.AuthProtocol,
		PrivProtocol:  cred.PrivProtocol,
	}
	if cred.EncryptedSecrets == "" {
		return params, nil
	}

	plain, err := s.cipher.Decrypt(cred.EncryptedSecrets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	var secrets model.Secrets
	if err := json.Unmarshal(plain, &secrets); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	params.AuthPassword = secrets.AuthPassword
	params.PrivPassword = secrets.PrivPassword
	return params, nil
}
