// Package exchange wraps NIST P-256 Diffie-Hellman key agreement behind the
// small surface the ratchets need: generate, marshal/restore, and exchange.
package exchange

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"fmt"
)

// KeyPair is a P-256 DH key pair.
type KeyPair struct {
	private *ecdh.PrivateKey
	public  *ecdh.PublicKey
}

// Generate creates a fresh P-256 key pair.
func Generate() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("exchange: generating key: %w", err)
	}
	return &KeyPair{private: priv, public: priv.PublicKey()}, nil
}

// PublicKeyBytes returns the PKIX-encoded public key.
func (k *KeyPair) PublicKeyBytes() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(k.public)
}

// PrivateKeyBytes returns the raw ECDH private scalar bytes.
func (k *KeyPair) PrivateKeyBytes() []byte {
	return k.private.Bytes()
}

// ExportPrivate returns the PKCS8-encoded private key, for canonical state
// serialisation (see pkg/ratchet and pkg/addrratchet's MarshalBinary).
func (k *KeyPair) ExportPrivate() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.private)
	if err != nil {
		return nil, fmt.Errorf("exchange: marshalling PKCS8 private key: %w", err)
	}
	return der, nil
}

// RestorePKCS8 reconstructs a KeyPair from a PKCS8-encoded private key
// produced by ExportPrivate.
func RestorePKCS8(der []byte) (*KeyPair, error) {
	raw, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("exchange: parsing PKCS8 private key: %w", err)
	}
	// x509 hands P-256 keys back as *ecdsa.PrivateKey; convert to ECDH form.
	var priv *ecdh.PrivateKey
	switch k := raw.(type) {
	case *ecdh.PrivateKey:
		priv = k
	case *ecdsa.PrivateKey:
		if priv, err = k.ECDH(); err != nil {
			return nil, fmt.Errorf("exchange: converting PKCS8 private key: %w", err)
		}
	default:
		return nil, fmt.Errorf("exchange: unexpected PKCS8 private key type %T", raw)
	}
	return &KeyPair{private: priv, public: priv.PublicKey()}, nil
}

// MarshalPublicKey PKIX-encodes an arbitrary P-256 public key. Unlike
// PublicKeyBytes this takes a standalone key, for serialising a ratchet's
// remote DH public key rather than a KeyPair's own.
func MarshalPublicKey(pub *ecdh.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("exchange: marshalling public key: %w", err)
	}
	return der, nil
}

// Public returns the underlying public key.
func (k *KeyPair) Public() *ecdh.PublicKey { return k.public }

// Exchange performs ECDH against a PKIX-encoded remote public key.
func (k *KeyPair) Exchange(remote []byte) ([]byte, error) {
	pub, err := ParsePublicKey(remote)
	if err != nil {
		return nil, err
	}
	return k.ExchangeKey(pub)
}

// ExchangeKey performs ECDH against an already-parsed remote public key.
func (k *KeyPair) ExchangeKey(remote *ecdh.PublicKey) ([]byte, error) {
	secret, err := k.private.ECDH(remote)
	if err != nil {
		return nil, fmt.Errorf("exchange: computing shared secret: %w", err)
	}
	return secret, nil
}

// ParsePublicKey decodes a PKIX-encoded P-256 public key.
func ParsePublicKey(der []byte) (*ecdh.PublicKey, error) {
	raw, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("exchange: parsing public key: %w", err)
	}
	// x509 hands P-256 keys back as *ecdsa.PublicKey; convert to ECDH form.
	switch k := raw.(type) {
	case *ecdh.PublicKey:
		return k, nil
	case *ecdsa.PublicKey:
		pub, err := k.ECDH()
		if err != nil {
			return nil, fmt.Errorf("exchange: converting public key: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("exchange: unexpected public key type %T", raw)
	}
}

// Restore reconstructs a KeyPair from raw private scalar bytes.
func Restore(privBytes []byte) (*KeyPair, error) {
	priv, err := ecdh.P256().NewPrivateKey(privBytes)
	if err != nil {
		return nil, fmt.Errorf("exchange: restoring private key: %w", err)
	}
	return &KeyPair{private: priv, public: priv.PublicKey()}, nil
}
