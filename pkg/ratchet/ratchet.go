// Package ratchet implements the encryption ratchet: a Double Ratchet with
// header encryption (DHs/DHr/RK/CKs/CKr/Ns/Nr/PN, plus rotating header keys
// HKs/HKr/NHKs/NHKr), producing an encrypted header alongside the content
// ciphertext for every message.
package ratchet

import (
	"crypto/ecdh"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zentalk-labs/magicratchet/pkg/aead"
	"github.com/zentalk-labs/magicratchet/pkg/exchange"
	"github.com/zentalk-labs/magicratchet/pkg/header"
	"github.com/zentalk-labs/magicratchet/pkg/kdf"
)

// MaxSkip bounds the number of out-of-order message keys cached per
// receiving chain before RatchetDecrypt refuses to advance further.
const MaxSkip = 100

var (
	// ErrHeaderAuthFailed is returned when no stored or freshly-derived
	// header key authenticates the encrypted header.
	ErrHeaderAuthFailed = header.ErrHeaderAuthFailed
	// ErrContentAuthFailed is returned when the header authenticated but
	// the content ciphertext did not.
	ErrContentAuthFailed = errors.New("ratchet: content authentication failed")
	// ErrSkippedTooMany is returned when advancing the receive chain would
	// exceed MaxSkip cached keys.
	ErrSkippedTooMany = errors.New("ratchet: too many skipped message keys")
	// ErrNoSendChain is returned by RatchetEncrypt before any sending
	// chain key has been derived.
	ErrNoSendChain = errors.New("ratchet: no sending chain established")
)

type skippedEntry struct {
	n  uint32
	mk [32]byte
}

// State is the encryption ratchet's full mutable state.
type State struct {
	dhs *exchange.KeyPair
	dhr *ecdh.PublicKey

	rk  [32]byte
	cks *[32]byte
	ckr *[32]byte

	ns, nr, pn uint32

	hks  *[32]byte
	hkr  *[32]byte
	nhks [32]byte
	nhkr [32]byte

	// mkSkipped is grouped by the header key active when the skip
	// happened, since a caller must first find which header key
	// authenticates an incoming encrypted header before it can know the
	// message number to look up.
	mkSkipped map[[32]byte][]skippedEntry
}

// InitAlice seeds the ratchet on the initiating side. bobDHPublic is Bob's
// initial DH public key (PKIX-encoded P-256).
func InitAlice(sk [32]byte, bobDHPublic []byte, sharedHka, sharedNhkb [32]byte) (*State, error) {
	dhs, err := exchange.Generate()
	if err != nil {
		return nil, fmt.Errorf("ratchet: generating DH pair: %w", err)
	}
	dhr, err := exchange.ParsePublicKey(bobDHPublic)
	if err != nil {
		return nil, fmt.Errorf("ratchet: parsing remote public key: %w", err)
	}
	dhOut, err := dhs.ExchangeKey(dhr)
	if err != nil {
		return nil, fmt.Errorf("ratchet: initial DH: %w", err)
	}
	rk, cks, nhks, err := kdf.RootStepHE(sk, toArray32(dhOut))
	if err != nil {
		return nil, err
	}
	hks := sharedHka
	return &State{
		dhs:       dhs,
		dhr:       dhr,
		rk:        rk,
		cks:       &cks,
		hks:       &hks,
		nhks:      nhks,
		nhkr:      sharedNhkb,
		mkSkipped: make(map[[32]byte][]skippedEntry),
	}, nil
}

// InitBob seeds the ratchet on the responding side and returns the DH
// public key (PKIX-encoded) to be delivered to Alice's bundle.
func InitBob(sk [32]byte, sharedHka, sharedNhkb [32]byte) (*State, []byte, error) {
	dhs, err := exchange.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("ratchet: generating DH pair: %w", err)
	}
	pubBytes, err := dhs.PublicKeyBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("ratchet: marshalling public key: %w", err)
	}
	return &State{
		dhs:       dhs,
		rk:        sk,
		nhks:      sharedNhkb,
		nhkr:      sharedHka,
		mkSkipped: make(map[[32]byte][]skippedEntry),
	}, pubBytes, nil
}

// RatchetEncrypt derives the next message key, builds and encrypts the
// header, and encrypts plaintext under ad as associated data.
func (s *State) RatchetEncrypt(plaintext, ad []byte) (encHeader, hNonce, ciphertext, cNonce []byte, err error) {
	if s.cks == nil {
		return nil, nil, nil, nil, ErrNoSendChain
	}
	newCK, mk := kdf.ChainStep(*s.cks)
	s.cks = &newCK

	pubBytes, err := s.dhs.PublicKeyBytes()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ratchet: marshalling public key: %w", err)
	}
	h := header.New(pubBytes, s.pn, s.ns)

	encHeader, hNonce, err = header.Encrypt(h, *s.hks, ad)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ratchet: encrypting header: %w", err)
	}

	cNonce, err = aead.RandomNonce()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ciphertext, err = aead.Seal(plaintext, mk[:], cNonce, append(append([]byte(nil), ad...), encHeader...))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("ratchet: encrypting content: %w", err)
	}

	s.ns++
	return encHeader, hNonce, ciphertext, cNonce, nil
}

// RatchetDecrypt is the inverse of RatchetEncrypt. On any failure the
// receiver is left exactly as it was before the call: all mutation happens
// on a clone that is only swapped in on success.
func (s *State) RatchetDecrypt(encHeader, hNonce, ciphertext, cNonce, ad []byte) ([]byte, header.Header, error) {
	plaintext, h, work, err := s.TryDecrypt(encHeader, hNonce, ciphertext, cNonce, ad)
	if err != nil {
		return nil, header.Header{}, err
	}
	s.Commit(work)
	return plaintext, h, nil
}

// TryDecrypt performs the same decryption RatchetDecrypt does, but never
// mutates the receiver: it returns the prospective post-decrypt state for
// the caller to install later via Commit. This lets a caller that depends
// on further operations succeeding — such as pkg/magicratchet advancing its
// address ratchets — defer committing the content ratchet's own state until
// the whole compound operation is known to succeed.
func (s *State) TryDecrypt(encHeader, hNonce, ciphertext, cNonce, ad []byte) ([]byte, header.Header, *State, error) {
	work := s.clone()

	if mk, h, ok := work.trySkippedMessageKeys(encHeader, hNonce, ad); ok {
		concatAD := append(append([]byte(nil), ad...), encHeader...)
		plaintext, err := aead.Open(ciphertext, mk[:], cNonce, concatAD)
		if err != nil {
			return nil, header.Header{}, nil, ErrContentAuthFailed
		}
		return plaintext, h, work, nil
	}

	h, needsDHRatchet, err := work.decryptHeader(encHeader, hNonce, ad)
	if err != nil {
		return nil, header.Header{}, nil, err
	}

	if needsDHRatchet {
		var oldHKr [32]byte
		if work.hkr != nil {
			oldHKr = *work.hkr
		}
		if err := work.skipMessageKeys(oldHKr, h.PrevChainLen); err != nil {
			return nil, header.Header{}, nil, err
		}
		if err := work.dhRatchet(h); err != nil {
			return nil, header.Header{}, nil, err
		}
	}

	if err := work.skipMessageKeys(*work.hkr, h.MessageNum); err != nil {
		return nil, header.Header{}, nil, err
	}

	newCK, mk := kdf.ChainStep(*work.ckr)
	work.ckr = &newCK
	work.nr++

	concatAD := append(append([]byte(nil), ad...), encHeader...)
	plaintext, err := aead.Open(ciphertext, mk[:], cNonce, concatAD)
	if err != nil {
		return nil, header.Header{}, nil, ErrContentAuthFailed
	}

	return plaintext, h, work, nil
}

// Commit installs a state previously produced by TryDecrypt as the
// receiver's new state.
func (s *State) Commit(work *State) {
	*s = *work
}

func (s *State) decryptHeader(encHeader, hNonce, ad []byte) (header.Header, bool, error) {
	if s.hkr != nil {
		if h, err := header.Decrypt(s.hkr, encHeader, hNonce, ad); err == nil {
			return h, false, nil
		}
	}
	nhkr := s.nhkr
	if h, err := header.Decrypt(&nhkr, encHeader, hNonce, ad); err == nil {
		return h, true, nil
	}
	return header.Header{}, false, ErrHeaderAuthFailed
}

func (s *State) trySkippedMessageKeys(encHeader, hNonce, ad []byte) ([32]byte, header.Header, bool) {
	for hk, entries := range s.mkSkipped {
		hkCopy := hk
		h, err := header.Decrypt(&hkCopy, encHeader, hNonce, ad)
		if err != nil {
			continue
		}
		for i, e := range entries {
			if e.n == h.MessageNum {
				mk := e.mk
				s.mkSkipped[hk] = append(entries[:i], entries[i+1:]...)
				if len(s.mkSkipped[hk]) == 0 {
					delete(s.mkSkipped, hk)
				}
				return mk, h, true
			}
		}
	}
	return [32]byte{}, header.Header{}, false
}

func (s *State) skipMessageKeys(hk [32]byte, until uint32) error {
	if s.ckr == nil {
		return nil
	}
	if uint32(len(s.mkSkipped[hk]))+until-s.nr > MaxSkip {
		return ErrSkippedTooMany
	}
	for s.nr < until {
		newCK, mk := kdf.ChainStep(*s.ckr)
		s.ckr = &newCK
		s.mkSkipped[hk] = append(s.mkSkipped[hk], skippedEntry{n: s.nr, mk: mk})
		s.nr++
	}
	return nil
}

func (s *State) dhRatchet(h header.Header) error {
	s.pn = s.ns
	s.ns = 0
	s.nr = 0
	hks := s.nhks
	s.hks = &hks
	hkr := s.nhkr
	s.hkr = &hkr

	remote, err := exchange.ParsePublicKey(h.PublicKey)
	if err != nil {
		return fmt.Errorf("ratchet: parsing remote public key: %w", err)
	}
	s.dhr = remote

	dhOut, err := s.dhs.ExchangeKey(s.dhr)
	if err != nil {
		return fmt.Errorf("ratchet: DH step (recv): %w", err)
	}
	rk, ckr, nhkr, err := kdf.RootStepHE(s.rk, toArray32(dhOut))
	if err != nil {
		return err
	}
	s.rk, s.ckr, s.nhkr = rk, &ckr, nhkr

	newDHs, err := exchange.Generate()
	if err != nil {
		return fmt.Errorf("ratchet: generating new DH pair: %w", err)
	}
	s.dhs = newDHs

	dhOut2, err := s.dhs.ExchangeKey(s.dhr)
	if err != nil {
		return fmt.Errorf("ratchet: DH step (send): %w", err)
	}
	rk2, cks, nhks, err := kdf.RootStepHE(s.rk, toArray32(dhOut2))
	if err != nil {
		return err
	}
	s.rk, s.cks, s.nhks = rk2, &cks, nhks
	return nil
}

// clone deep-copies the state so a failed operation never mutates the
// original.
func (s *State) clone() *State {
	c := &State{
		dhs: s.dhs,
		dhr: s.dhr,
		rk:  s.rk,
		ns:  s.ns, nr: s.nr, pn: s.pn,
		nhks: s.nhks, nhkr: s.nhkr,
	}
	if s.cks != nil {
		v := *s.cks
		c.cks = &v
	}
	if s.ckr != nil {
		v := *s.ckr
		c.ckr = &v
	}
	if s.hks != nil {
		v := *s.hks
		c.hks = &v
	}
	if s.hkr != nil {
		v := *s.hkr
		c.hkr = &v
	}
	c.mkSkipped = make(map[[32]byte][]skippedEntry, len(s.mkSkipped))
	for k, v := range s.mkSkipped {
		cp := make([]skippedEntry, len(v))
		copy(cp, v)
		c.mkSkipped[k] = cp
	}
	return c
}

// Zeroize overwrites all key material. Call once the state is no longer
// needed.
func (s *State) Zeroize() {
	zero32(&s.rk)
	if s.cks != nil {
		zero32(s.cks)
	}
	if s.ckr != nil {
		zero32(s.ckr)
	}
	if s.hks != nil {
		zero32(s.hks)
	}
	if s.hkr != nil {
		zero32(s.hkr)
	}
	zero32(&s.nhks)
	zero32(&s.nhkr)
	for k, v := range s.mkSkipped {
		for i := range v {
			zero32(&v[i].mk)
		}
		delete(s.mkSkipped, k)
	}
}

func zero32(b *[32]byte) {
	for i := range b {
		b[i] = 0
	}
}

func toArray32(b []byte) [32]byte {
	var a [32]byte
	copy(a[:], b)
	return a
}

// DHPublicKeyHex is a convenience used by tests and diagnostics to compare
// DH public keys without dealing with PKIX encoding directly.
func DHPublicKeyHex(s *State) string {
	b, err := s.dhs.PublicKeyBytes()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
