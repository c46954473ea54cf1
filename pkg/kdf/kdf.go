// Package kdf provides the two key-derivation steps the Double Ratchet
// chains are built from: a root-key step taken once per DH ratchet, and a
// chain-key step taken once per message.
package kdf

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const rootKeyInfo = "magicratchet root key"

var (
	chainKeyLabel   = []byte{0x01}
	messageKeyLabel = []byte{0x02}
)

// RootStep derives the next root key and chain key from the current root
// key and a fresh DH output, via HKDF-SHA-512 with rk as salt and dhOut as
// input key material.
func RootStep(rk, dhOut [32]byte) (newRK, newCK [32]byte, err error) {
	h := hkdf.New(sha512.New, dhOut[:], rk[:], []byte(rootKeyInfo))
	okm := make([]byte, 64)
	if _, err := io.ReadFull(h, okm); err != nil {
		return newRK, newCK, fmt.Errorf("kdf: expanding root step: %w", err)
	}
	copy(newRK[:], okm[:32])
	copy(newCK[:], okm[32:])
	return newRK, newCK, nil
}

// RootStepHE is the header-encryption variant of RootStep: it derives a
// root key, a chain key, and a next header key in one HKDF-SHA-512 expand
// of 96 bytes, for ratchets that rotate a header key alongside the chain
// key on every DH step.
func RootStepHE(rk, dhOut [32]byte) (newRK, newCK, newNHK [32]byte, err error) {
	h := hkdf.New(sha512.New, dhOut[:], rk[:], []byte(rootKeyInfo))
	okm := make([]byte, 96)
	if _, err := io.ReadFull(h, okm); err != nil {
		return newRK, newCK, newNHK, fmt.Errorf("kdf: expanding root step (HE): %w", err)
	}
	copy(newRK[:], okm[:32])
	copy(newCK[:], okm[32:64])
	copy(newNHK[:], okm[64:96])
	return newRK, newCK, newNHK, nil
}

// ChainStep derives the next chain key and a message key from the current
// chain key, via two domain-separated HMAC-SHA-512 invocations keyed by ck.
func ChainStep(ck [32]byte) (newCK, mk [32]byte) {
	ckMac := hmac.New(sha512.New, ck[:])
	ckMac.Write(chainKeyLabel)
	ckSum := ckMac.Sum(nil)
	copy(newCK[:], ckSum[:32])

	mkMac := hmac.New(sha512.New, ck[:])
	mkMac.Write(messageKeyLabel)
	mkSum := mkMac.Sum(nil)
	copy(mk[:], mkSum[:32])

	return newCK, mk
}
