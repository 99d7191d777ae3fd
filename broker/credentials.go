// Package broker turns IAM role ARNs into short-lived, server-held sessions.
//
// A Service assumes a role through a RoleProvider, shortens the returned
// credential lifetime by a safety margin and stores the result in a Cache
// under a random session identifier. Clients only ever see the identifier;
// the credentials stay on the server.
package broker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"
)

// Credentials is a set of temporary AWS security credentials.
//
// SecretAccessKey and SessionToken are secrets. String and LogValue redact
// them so a Credentials value can be passed to a logger or formatted
// without leaking anything beyond the access key ID.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	// Expiration is the hard expiry set by the credential issuer.
	Expiration time.Time
}

// Valid reports whether the issuer returned a usable credential set.
func (c Credentials) Valid() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != "" && c.SessionToken != "" && !c.Expiration.IsZero()
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{AccessKeyID: %s, Expiration: %s}", c.AccessKeyID, c.Expiration.UTC().Format(time.RFC3339))
}

// LogValue implements slog.LogValuer.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access_key_id", c.AccessKeyID),
		slog.Time("expiration", c.Expiration),
	)
}

// sealedSecrets is the JSON form of the secret half of a credential set
// while it sits inside an enclave.
type sealedSecrets struct {
	SecretAccessKey string `json:"s"`
	SessionToken    string `json:"t"`
}

// sealedCredentials keeps the secret half of a credential set in a memguard
// Enclave (encrypted in memory) while it is cached.
type sealedCredentials struct {
	accessKeyID string
	expiration  time.Time
	secrets     *memguard.Enclave
}

func sealCredentials(c Credentials) (*sealedCredentials, error) {
	buf, err := json.Marshal(sealedSecrets{
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding credential secrets: %w", err)
	}
	// NewEnclave wipes buf after copying it.
	return &sealedCredentials{
		accessKeyID: c.AccessKeyID,
		expiration:  c.Expiration,
		secrets:     memguard.NewEnclave(buf),
	}, nil
}

func (s *sealedCredentials) open() (Credentials, error) {
	lb, err := s.secrets.Open()
	if err != nil {
		return Credentials{}, fmt.Errorf("opening credential enclave: %w", err)
	}
	defer lb.Destroy()

	var secrets sealedSecrets
	if err := json.Unmarshal(lb.Bytes(), &secrets); err != nil {
		return Credentials{}, fmt.Errorf("decoding credential secrets: %w", err)
	}
	return Credentials{
		AccessKeyID:     s.accessKeyID,
		SecretAccessKey: secrets.SecretAccessKey,
		SessionToken:    secrets.SessionToken,
		Expiration:      s.expiration,
	}, nil
}
