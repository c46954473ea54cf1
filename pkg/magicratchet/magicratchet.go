// Package magicratchet wires together the header-encrypted Double Ratchet,
// N parallel address ratchets, Shamir header splitting, and randomised
// content block splitting into a single send/recv API that emits and
// consumes N unlinkable (address, payload) pairs per message, with no
// single storage address carrying enough information to reconstruct either
// the message or the sender's identity on its own.
package magicratchet

import (
	"errors"
	"fmt"

	"github.com/zentalk-labs/magicratchet/pkg/addrratchet"
	"github.com/zentalk-labs/magicratchet/pkg/blocksplit"
	"github.com/zentalk-labs/magicratchet/pkg/header"
	"github.com/zentalk-labs/magicratchet/pkg/ratchet"
	"github.com/zentalk-labs/magicratchet/pkg/shamir"
)

var (
	// ErrAddressCountMismatch is returned when the number of incoming
	// address shares does not match the ratchet's configured share count.
	ErrAddressCountMismatch = errors.New("magicratchet: address share count mismatch")
	// ErrHeaderCountMismatch is returned when a decrypted payload's
	// address-header count does not match the number of address ratchets.
	ErrHeaderCountMismatch = errors.New("magicratchet: address header count mismatch")
)

// AddressShare is one message fragment bound to its storage address.
type AddressShare struct {
	Address [32]byte
	Payload []byte
}

// State is a single party's full Magic Ratchet session: one header-
// encrypted Double Ratchet for content plus N address ratchets, one per
// parallel storage address.
type State struct {
	encRatchet      *ratchet.State
	shareNumber     int
	addressRatchets []*addrratchet.State
	skippedAddrs    map[string][][32]byte
}

// InitAlice seeds a full session on the initiating side. Every secret here
// must come from its own independent key-exchange run (see pkg/bundle) —
// reusing one secret across enc_rk, shka, snhkb, and the address root keys
// would correlate the address ratchets with the content ratchet.
func InitAlice(encRK [32]byte, encPK []byte, shka, snhkb [32]byte, shareNumber int, addressRKs [][32]byte, addressPKs [][]byte) (*State, error) {
	if len(addressRKs) != len(addressPKs) {
		return nil, fmt.Errorf("magicratchet: %d address root keys but %d address public keys", len(addressRKs), len(addressPKs))
	}
	encRatchet, err := ratchet.InitAlice(encRK, encPK, shka, snhkb)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: init content ratchet: %w", err)
	}
	addrs := make([]*addrratchet.State, len(addressRKs))
	for i := range addressRKs {
		ar, err := addrratchet.InitAlice(addressRKs[i], addressPKs[i])
		if err != nil {
			return nil, fmt.Errorf("magicratchet: init address ratchet %d: %w", i, err)
		}
		addrs[i] = ar
	}
	return &State{
		encRatchet:      encRatchet,
		shareNumber:     shareNumber,
		addressRatchets: addrs,
		skippedAddrs:    make(map[string][][32]byte),
	}, nil
}

// InitBob seeds a full session on the responding side, returning the
// content ratchet's public key and each address ratchet's public key, to be
// delivered to Alice via their own independent key-exchange runs.
func InitBob(encRK, shka, snhkb [32]byte, shareNumber int, addressRKs [][32]byte) (*State, []byte, [][]byte, error) {
	encRatchet, encPK, err := ratchet.InitBob(encRK, shka, snhkb)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("magicratchet: init content ratchet: %w", err)
	}
	addrs := make([]*addrratchet.State, len(addressRKs))
	addrPKs := make([][]byte, len(addressRKs))
	for i := range addressRKs {
		ar, pk, err := addrratchet.InitBob(addressRKs[i])
		if err != nil {
			return nil, nil, nil, fmt.Errorf("magicratchet: init address ratchet %d: %w", i, err)
		}
		addrs[i] = ar
		addrPKs[i] = pk
	}
	return &State{
		encRatchet:      encRatchet,
		shareNumber:     shareNumber,
		addressRatchets: addrs,
		skippedAddrs:    make(map[string][][32]byte),
	}, encPK, addrPKs, nil
}

// Send encrypts data, splits the result across all N address ratchets, and
// returns one (address, payload) pair per address ratchet in ratchet order.
func (s *State) Send(data, ad []byte) ([]AddressShare, error) {
	n := len(s.addressRatchets)
	addresses := make([][32]byte, n)
	addressHeaders := make([][]byte, n)
	for i, ar := range s.addressRatchets {
		h, addr, err := ar.RatchetSend()
		if err != nil {
			return nil, fmt.Errorf("magicratchet: stepping address ratchet %d: %w", i, err)
		}
		addresses[i] = addr
		addressHeaders[i] = h.Encode()
	}

	payload := encodePayload(addressHeaders, data)
	encHeader, hNonce, ciphertext, cNonce, err := s.encRatchet.RatchetEncrypt(payload, ad)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: encrypting message: %w", err)
	}

	sh := sharedHeader{encHeader: encHeader, hNonce: hNonce, cNonce: cNonce}
	headerShares, err := shamir.Share(sh.encode(), n, n)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: sharing header: %w", err)
	}
	contentBlocks, err := blocksplit.Share(ciphertext, n)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: splitting content: %w", err)
	}

	out := make([]AddressShare, n)
	for i := 0; i < n; i++ {
		sh := share{headerShare: headerShares[i], contentSeg: contentBlocks[i]}
		out[i] = AddressShare{Address: addresses[i], Payload: sh.encode()}
	}
	return out, nil
}

// Recv reconstructs and decrypts a message from its N address shares,
// advancing every address ratchet to match the sender's reported headers.
// shares must be supplied in the same order Send produced them in. On any
// failure the receiver is left exactly as it was before the call: the
// content ratchet and every address ratchet are staged on working copies
// and only committed once all N+1 steps have succeeded.
func (s *State) Recv(shares []AddressShare, ad []byte) ([]byte, error) {
	n := len(s.addressRatchets)
	if len(shares) != n {
		return nil, ErrAddressCountMismatch
	}

	headerShares := make([][]byte, n)
	contentSegs := make([][]byte, n)
	for i, as := range shares {
		sh, err := decodeShare(as.Payload)
		if err != nil {
			return nil, fmt.Errorf("magicratchet: decoding share %d: %w", i, err)
		}
		headerShares[i] = sh.headerShare
		contentSegs[i] = sh.contentSeg
	}

	sharedHeaderBytes, err := shamir.Reconstruct(headerShares)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: reconstructing header: %w", err)
	}
	sh, err := decodeSharedHeader(sharedHeaderBytes)
	if err != nil {
		return nil, err
	}
	ciphertext := blocksplit.Reconstruct(contentSegs)

	payload, _, encWork, err := s.encRatchet.TryDecrypt(sh.encHeader, sh.hNonce, ciphertext, sh.cNonce, ad)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: decrypting message: %w", err)
	}

	headerBytes, message, err := decodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: decoding payload: %w", err)
	}
	if len(headerBytes) != n {
		return nil, ErrHeaderCountMismatch
	}

	stagedAddrs := make([]*addrratchet.State, n)
	for i, ar := range s.addressRatchets {
		h, err := header.Decode(headerBytes[i])
		if err != nil {
			return nil, fmt.Errorf("magicratchet: decoding address header %d: %w", i, err)
		}
		work := ar.Clone()
		if err := work.ProcessRecv(h); err != nil {
			return nil, fmt.Errorf("magicratchet: processing address header %d: %w", i, err)
		}
		stagedAddrs[i] = work
	}

	// Every step above succeeded: commit the content ratchet and swap in
	// the staged address ratchets together, so a partial failure never
	// leaves the two halves of the session out of sync.
	s.encRatchet.Commit(encWork)
	s.addressRatchets = stagedAddrs
	return message, nil
}

// NextAddresses pre-derives the next storage address on every address
// ratchet without waiting for a message to arrive, so a caller can start
// polling those addresses ahead of time.
func (s *State) NextAddresses() ([][32]byte, error) {
	addresses := make([][32]byte, len(s.addressRatchets))
	for i, ar := range s.addressRatchets {
		addr, err := ar.NextAddress()
		if err != nil {
			return nil, fmt.Errorf("magicratchet: predicting address %d: %w", i, err)
		}
		addresses[i] = addr
	}
	s.skippedAddrs[addrSetKey(addresses)] = addresses
	return addresses, nil
}

// Zeroize releases key material held by the content ratchet and every
// address ratchet.
func (s *State) Zeroize() {
	s.encRatchet.Zeroize()
	for _, ar := range s.addressRatchets {
		ar.Zeroize()
	}
}

func addrSetKey(addresses [][32]byte) string {
	buf := make([]byte, 0, 32*len(addresses))
	for _, a := range addresses {
		buf = append(buf, a[:]...)
	}
	return string(buf)
}
