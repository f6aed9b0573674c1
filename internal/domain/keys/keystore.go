package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// ErrUnknownKey is returned when the configured active kid is not in the set.
var ErrUnknownKey = errors.New("unknown signing key")

// KeyStore holds the signing keys. Several keys may live in the set at
// once so verification keeps working across rotations; exactly one is
// active for signing.
type KeyStore struct {
	ActiveKid string
	KeySet    jwk.Set
}

// LoadKeys reads every private-<kid>.pem under path into a JWK set.
func LoadKeys(path, activeKid string) (*KeyStore, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("keys directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("keys path %s is not a directory", path)
	}

	files, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys directory: %w", err)
	}

	keySet := jwk.NewSet()

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		fileName := file.Name()
		if !strings.HasPrefix(fileName, "private-") || filepath.Ext(fileName) != ".pem" {
			continue
		}

		kid := strings.TrimSuffix(strings.TrimPrefix(fileName, "private-"), ".pem")
		if kid == "" {
			continue
		}

		priv, err := readPrivateKey(filepath.Join(path, fileName))
		if err != nil {
			return nil, fmt.Errorf("key file %s: %w", fileName, err)
		}

		jwkKey, err := jwk.Import(priv)
		if err != nil {
			return nil, fmt.Errorf("failed to convert private key to JWK: %w", err)
		}
		if err := jwkKey.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, fmt.Errorf("failed to set key ID: %w", err)
		}
		if err := jwkKey.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
			return nil, fmt.Errorf("failed to set algorithm: %w", err)
		}
		if err := keySet.AddKey(jwkKey); err != nil {
			return nil, fmt.Errorf("failed to add key to set: %w", err)
		}
	}

	ks := &KeyStore{
		ActiveKid: activeKid,
		KeySet:    keySet,
	}

	if _, err := ks.ActiveKey(); err != nil {
		return nil, err
	}
	return ks, nil
}

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}

	pkcs8Key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := pkcs8Key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rsaKey, nil
}

// ActiveKey returns the key used for signing.
func (ks *KeyStore) ActiveKey() (jwk.Key, error) {
	key, ok := ks.KeySet.LookupKeyID(ks.ActiveKid)
	if !ok {
		return nil, ErrUnknownKey
	}
	return key, nil
}

// JWKS returns the public half of the key set for the JWKS endpoint.
func (ks *KeyStore) JWKS() jwk.Set {
	publicSet, err := jwk.PublicSetOf(ks.KeySet)
	if err != nil {
		return jwk.NewSet()
	}
	return publicSet
}
