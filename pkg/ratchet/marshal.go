package ratchet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/zentalk-labs/magicratchet/pkg/exchange"
)

// putBytes appends a length-prefixed byte string: uint64 LE length || bytes.
func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(b)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, b...)
	return buf
}

// takeBytes reads a length-prefixed byte string starting at offset off,
// returning the slice and the offset immediately following it.
func takeBytes(buf []byte, off int) ([]byte, int, error) {
	if off+8 > len(buf) {
		return nil, 0, fmt.Errorf("ratchet: buffer too short for length prefix")
	}
	n := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	if n > uint64(len(buf)-off) {
		return nil, 0, fmt.Errorf("ratchet: declared length exceeds buffer")
	}
	end := off + int(n)
	out := make([]byte, n)
	copy(out, buf[off:end])
	return out, end, nil
}

func putUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func takeUint32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, 0, fmt.Errorf("ratchet: buffer too short for uint32")
	}
	return binary.LittleEndian.Uint32(buf[off : off+4]), off + 4, nil
}

func putUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func takeUint64(buf []byte, off int) (uint64, int, error) {
	if off+8 > len(buf) {
		return 0, 0, fmt.Errorf("ratchet: buffer too short for uint64")
	}
	return binary.LittleEndian.Uint64(buf[off : off+8]), off + 8, nil
}

// putOptional32 encodes a possibly-absent 32-byte key: a presence byte
// followed by the 32 bytes when present.
func putOptional32(buf []byte, k *[32]byte) []byte {
	if k == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, k[:]...)
}

func takeOptional32(buf []byte, off int) (*[32]byte, int, error) {
	if off+1 > len(buf) {
		return nil, 0, fmt.Errorf("ratchet: buffer too short for presence byte")
	}
	present := buf[off]
	off++
	if present == 0 {
		return nil, off, nil
	}
	if off+32 > len(buf) {
		return nil, 0, fmt.Errorf("ratchet: buffer too short for 32-byte key")
	}
	var k [32]byte
	copy(k[:], buf[off:off+32])
	return &k, off + 32, nil
}

// MarshalBinary produces the canonical length-prefixed encoding of the
// encryption ratchet's full mutable state: the DH key pair (as its PKCS8
// private key; the public half is re-derived on restore), the optional
// remote public key (PKIX), the root/chain/header keys, the three counters,
// and every cached skipped-message-key entry grouped by the header key that
// was active when it was skipped, in ascending header-key order.
func (s *State) MarshalBinary() ([]byte, error) {
	priv, err := s.dhs.ExportPrivate()
	if err != nil {
		return nil, fmt.Errorf("ratchet: exporting DH private key: %w", err)
	}
	buf := make([]byte, 0, 512)
	buf = putBytes(buf, priv)

	if s.dhr != nil {
		dhrBytes, err := exchange.MarshalPublicKey(s.dhr)
		if err != nil {
			return nil, fmt.Errorf("ratchet: marshalling remote public key: %w", err)
		}
		buf = putBytes(buf, dhrBytes)
	} else {
		buf = putBytes(buf, nil)
	}

	buf = append(buf, s.rk[:]...)
	buf = putOptional32(buf, s.cks)
	buf = putOptional32(buf, s.ckr)
	buf = putUint32(buf, s.ns)
	buf = putUint32(buf, s.nr)
	buf = putUint32(buf, s.pn)
	buf = putOptional32(buf, s.hks)
	buf = putOptional32(buf, s.hkr)
	buf = append(buf, s.nhks[:]...)
	buf = append(buf, s.nhkr[:]...)

	hks := make([][32]byte, 0, len(s.mkSkipped))
	for hk := range s.mkSkipped {
		hks = append(hks, hk)
	}
	sort.Slice(hks, func(i, j int) bool { return bytes.Compare(hks[i][:], hks[j][:]) < 0 })
	buf = putUint64(buf, uint64(len(s.mkSkipped)))
	for _, hk := range hks {
		entries := s.mkSkipped[hk]
		buf = append(buf, hk[:]...)
		buf = putUint64(buf, uint64(len(entries)))
		for _, e := range entries {
			buf = putUint32(buf, e.n)
			buf = append(buf, e.mk[:]...)
		}
	}
	return buf, nil
}

// UnmarshalState parses the encoding produced by MarshalBinary into a fresh
// encryption ratchet state.
func UnmarshalState(buf []byte) (*State, error) {
	priv, off, err := takeBytes(buf, 0)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding DH private key: %w", err)
	}
	dhs, err := exchange.RestorePKCS8(priv)
	if err != nil {
		return nil, fmt.Errorf("ratchet: restoring DH key pair: %w", err)
	}

	dhrBytes, off, err := takeBytes(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding remote public key: %w", err)
	}
	s := &State{dhs: dhs}
	if len(dhrBytes) > 0 {
		pub, err := exchange.ParsePublicKey(dhrBytes)
		if err != nil {
			return nil, fmt.Errorf("ratchet: parsing remote public key: %w", err)
		}
		s.dhr = pub
	}

	if off+32 > len(buf) {
		return nil, fmt.Errorf("ratchet: buffer too short for root key")
	}
	copy(s.rk[:], buf[off:off+32])
	off += 32

	s.cks, off, err = takeOptional32(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding sending chain key: %w", err)
	}
	s.ckr, off, err = takeOptional32(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding receiving chain key: %w", err)
	}

	s.ns, off, err = takeUint32(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding send counter: %w", err)
	}
	s.nr, off, err = takeUint32(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding recv counter: %w", err)
	}
	s.pn, off, err = takeUint32(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding previous-chain counter: %w", err)
	}

	s.hks, off, err = takeOptional32(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding sending header key: %w", err)
	}
	s.hkr, off, err = takeOptional32(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding receiving header key: %w", err)
	}

	if off+64 > len(buf) {
		return nil, fmt.Errorf("ratchet: buffer too short for next header keys")
	}
	copy(s.nhks[:], buf[off:off+32])
	off += 32
	copy(s.nhkr[:], buf[off:off+32])
	off += 32

	count, off, err := takeUint64(buf, off)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decoding skipped-header count: %w", err)
	}
	s.mkSkipped = make(map[[32]byte][]skippedEntry, count)
	for i := uint64(0); i < count; i++ {
		if off+32 > len(buf) {
			return nil, fmt.Errorf("ratchet: buffer too short for skipped header key %d", i)
		}
		var hk [32]byte
		copy(hk[:], buf[off:off+32])
		off += 32

		var entryCount uint64
		entryCount, off, err = takeUint64(buf, off)
		if err != nil {
			return nil, fmt.Errorf("ratchet: decoding skipped entry count %d: %w", i, err)
		}
		entries := make([]skippedEntry, 0, entryCount)
		for j := uint64(0); j < entryCount; j++ {
			var n uint32
			n, off, err = takeUint32(buf, off)
			if err != nil {
				return nil, fmt.Errorf("ratchet: decoding skipped entry %d/%d counter: %w", i, j, err)
			}
			if off+32 > len(buf) {
				return nil, fmt.Errorf("ratchet: buffer too short for skipped entry %d/%d key", i, j)
			}
			var mk [32]byte
			copy(mk[:], buf[off:off+32])
			off += 32
			entries = append(entries, skippedEntry{n: n, mk: mk})
		}
		s.mkSkipped[hk] = entries
	}

	return s, nil
}
