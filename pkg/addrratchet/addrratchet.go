// Package addrratchet implements the address ratchet: a Double Ratchet
// without header encryption, whose chain-key-derived message key is used
// directly as a storage address rather than as an AEAD key. Headers travel
// in plaintext inside the encryption ratchet's own payload, so this ratchet
// never encrypts or decrypts a header itself.
package addrratchet

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	"github.com/zentalk-labs/magicratchet/pkg/exchange"
	"github.com/zentalk-labs/magicratchet/pkg/header"
	"github.com/zentalk-labs/magicratchet/pkg/kdf"
)

// MaxSkip bounds how far the receiving chain may be advanced ahead of the
// last confirmed message number.
const MaxSkip = 100

// Header is the unencrypted per-step header carried inside the encryption
// ratchet's plaintext.
type Header = header.Header

var (
	// ErrNoSendChain is returned by RatchetSend before any sending chain
	// key exists.
	ErrNoSendChain = errors.New("addrratchet: no sending chain established")
	// ErrNoRecvChain is returned by NextAddress/SkipMessageKeys before any
	// receiving chain key exists.
	ErrNoRecvChain = errors.New("addrratchet: no receiving chain established")
	// ErrSkippedTooMany is returned when advancing the receive chain would
	// exceed MaxSkip cached keys.
	ErrSkippedTooMany = errors.New("addrratchet: too many skipped message keys")
)

type skipKey struct {
	remote string
	n      uint32
}

// State is the address ratchet's full mutable state.
type State struct {
	dhs *exchange.KeyPair
	dhr *ecdh.PublicKey

	rk  [32]byte
	ckr *[32]byte
	cks *[32]byte

	ns, nr, pn uint32

	mkSkipped map[skipKey][32]byte
}

// InitAlice seeds the ratchet on the initiating side, immediately deriving
// a sending chain against Bob's known public key.
func InitAlice(sk [32]byte, bobDHPublic []byte) (*State, error) {
	dhs, err := exchange.Generate()
	if err != nil {
		return nil, fmt.Errorf("addrratchet: generating DH pair: %w", err)
	}
	dhr, err := exchange.ParsePublicKey(bobDHPublic)
	if err != nil {
		return nil, fmt.Errorf("addrratchet: parsing remote public key: %w", err)
	}
	dhOut, err := dhs.ExchangeKey(dhr)
	if err != nil {
		return nil, fmt.Errorf("addrratchet: initial DH: %w", err)
	}
	rk, cks, err := kdf.RootStep(sk, toArray32(dhOut))
	if err != nil {
		return nil, err
	}
	return &State{
		dhs:       dhs,
		dhr:       dhr,
		rk:        rk,
		cks:       &cks,
		mkSkipped: make(map[skipKey][32]byte),
	}, nil
}

// InitBob seeds the ratchet on the responding side and returns the DH
// public key to be delivered to Alice.
func InitBob(sk [32]byte) (*State, []byte, error) {
	dhs, err := exchange.Generate()
	if err != nil {
		return nil, nil, fmt.Errorf("addrratchet: generating DH pair: %w", err)
	}
	pubBytes, err := dhs.PublicKeyBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("addrratchet: marshalling public key: %w", err)
	}
	return &State{
		dhs:       dhs,
		rk:        sk,
		mkSkipped: make(map[skipKey][32]byte),
	}, pubBytes, nil
}

// RatchetSend steps the sending chain, returning the header to attach and
// the 32-byte storage address derived for this message.
func (s *State) RatchetSend() (Header, [32]byte, error) {
	if s.cks == nil {
		return Header{}, [32]byte{}, ErrNoSendChain
	}
	newCK, mk := kdf.ChainStep(*s.cks)
	s.cks = &newCK

	pubBytes, err := s.dhs.PublicKeyBytes()
	if err != nil {
		return Header{}, [32]byte{}, fmt.Errorf("addrratchet: marshalling public key: %w", err)
	}
	h := header.New(pubBytes, s.pn, s.ns)
	s.ns++
	return h, mk, nil
}

// TrySkippedMessageKey returns a previously pre-derived address for the
// given header, if one was cached by a prior NextAddress call. The lookup
// key is normalised through ParsePublicKey/dhrString so it matches the form
// SkipMessageKeys and NextAddress cache under, regardless of how the
// header's public key happened to be encoded on the wire.
func (s *State) TrySkippedMessageKey(h Header) ([32]byte, bool) {
	remotePub, err := exchange.ParsePublicKey(h.PublicKey)
	if err != nil {
		return [32]byte{}, false
	}
	key := skipKey{remote: dhrString(remotePub), n: h.MessageNum}
	mk, ok := s.mkSkipped[key]
	if ok {
		delete(s.mkSkipped, key)
	}
	return mk, ok
}

// SkipMessageKeys advances the receiving chain up to (excluding) until,
// caching every derived address keyed by the current remote public key.
func (s *State) SkipMessageKeys(until uint32) error {
	if s.nr+MaxSkip < until {
		return ErrSkippedTooMany
	}
	if s.ckr == nil {
		return ErrNoRecvChain
	}
	if s.dhr == nil {
		return ErrNoRecvChain
	}
	remote := dhrString(s.dhr)
	for s.nr < until {
		newCK, mk := kdf.ChainStep(*s.ckr)
		s.ckr = &newCK
		s.mkSkipped[skipKey{remote: remote, n: s.nr}] = mk
		s.nr++
	}
	return nil
}

// NextAddress pre-derives the next receiving-chain address without having
// seen the corresponding header yet, so a caller can know where to look for
// a message before it arrives.
func (s *State) NextAddress() ([32]byte, error) {
	if s.nr > MaxSkip {
		return [32]byte{}, ErrSkippedTooMany
	}
	if s.ckr == nil {
		return [32]byte{}, ErrNoRecvChain
	}
	newCK, mk := kdf.ChainStep(*s.ckr)
	s.ckr = &newCK
	s.mkSkipped[skipKey{remote: dhrString(s.dhr), n: s.nr}] = mk
	s.nr++
	return mk, nil
}

// ProcessRecv reconciles state against an arriving header: it DH-ratchets
// if the header's public key is new, and lazily derives the receiving chain
// key on first contact.
func (s *State) ProcessRecv(h Header) error {
	if _, ok := s.TrySkippedMessageKey(h); ok {
		// nothing further to do: the address was already consumed by a
		// prior NextAddress prediction.
	}
	remotePub, err := exchange.ParsePublicKey(h.PublicKey)
	if err != nil {
		return fmt.Errorf("addrratchet: parsing remote public key: %w", err)
	}
	if s.dhr == nil || dhrString(remotePub) != dhrString(s.dhr) {
		if err := s.dhRatchet(remotePub); err != nil {
			return err
		}
	}
	if s.ckr == nil {
		dhOut, err := s.dhs.ExchangeKey(s.dhr)
		if err != nil {
			return fmt.Errorf("addrratchet: DH (recv chain): %w", err)
		}
		rk, ckr, err := kdf.RootStep(s.rk, toArray32(dhOut))
		if err != nil {
			return err
		}
		s.rk = rk
		s.ckr = &ckr
	}
	return nil
}

// dhRatchet matches the reference algorithm's asymmetric shape: only the
// remote's public key moves forward here. This ratchet never regenerates
// its own dhs keypair — the fixed sending identity is what makes its
// derived addresses predictable ahead of time via NextAddress.
func (s *State) dhRatchet(remote *ecdh.PublicKey) error {
	s.pn = s.ns
	s.ns = 0
	s.nr = 0
	s.dhr = remote

	dhOut, err := s.dhs.ExchangeKey(s.dhr)
	if err != nil {
		return fmt.Errorf("addrratchet: DH step (recv): %w", err)
	}
	rk, ckr, err := kdf.RootStep(s.rk, toArray32(dhOut))
	if err != nil {
		return err
	}
	s.rk, s.ckr = rk, &ckr

	dhOut2, err := s.dhs.ExchangeKey(s.dhr)
	if err != nil {
		return fmt.Errorf("addrratchet: DH step (send): %w", err)
	}
	rk2, cks, err := kdf.RootStep(s.rk, toArray32(dhOut2))
	if err != nil {
		return err
	}
	s.rk, s.cks = rk2, &cks
	return nil
}

// Clone returns a deep copy of the ratchet state, so a caller can stage a
// tentative ProcessRecv and discard it on failure without mutating the
// original — used by pkg/magicratchet to keep a Recv call atomic across all
// of its address ratchets.
func (s *State) Clone() *State {
	c := &State{
		dhs: s.dhs,
		dhr: s.dhr,
		rk:  s.rk,
		ns:  s.ns, nr: s.nr, pn: s.pn,
	}
	if s.cks != nil {
		v := *s.cks
		c.cks = &v
	}
	if s.ckr != nil {
		v := *s.ckr
		c.ckr = &v
	}
	c.mkSkipped = make(map[skipKey][32]byte, len(s.mkSkipped))
	for k, v := range s.mkSkipped {
		c.mkSkipped[k] = v
	}
	return c
}

// Zeroize overwrites all key material.
func (s *State) Zeroize() {
	zero32(&s.rk)
	if s.cks != nil {
		zero32(s.cks)
	}
	if s.ckr != nil {
		zero32(s.ckr)
	}
	for k, v := range s.mkSkipped {
		zv := v
		zero32(&zv)
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

func dhrString(k *ecdh.PublicKey) string {
	if k == nil {
		return ""
	}
	return string(k.Bytes())
}
