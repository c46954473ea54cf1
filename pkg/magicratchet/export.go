package magicratchet

import (
	"fmt"
	"sort"

	"github.com/zentalk-labs/magicratchet/pkg/addrratchet"
	"github.com/zentalk-labs/magicratchet/pkg/ratchet"
)

// protocolVersion is encoded as the first byte of every Export. Import
// refuses to parse an export whose version byte it does not recognise;
// compatibility is only promised across versions of this same byte.
const protocolVersion = 1

// Export serialises the complete session state — the content ratchet, every
// address ratchet (in the order they were constructed), the configured
// share number, and every address set pre-derived by NextAddresses (a set
// stays recorded after Recv delivers the matching message) — into the
// canonical encoding Import expects.
// The resulting bytes carry key material and must be handled with the same
// care as the live State.
func (s *State) Export() ([]byte, error) {
	encBytes, err := s.encRatchet.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("magicratchet: exporting content ratchet: %w", err)
	}

	buf := make([]byte, 0, len(encBytes)+256)
	buf = append(buf, byte(protocolVersion))
	buf = putBytes(buf, encBytes)
	buf = putUint64(buf, uint64(s.shareNumber))

	buf = putUint64(buf, uint64(len(s.addressRatchets)))
	for i, ar := range s.addressRatchets {
		arBytes, err := ar.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("magicratchet: exporting address ratchet %d: %w", i, err)
		}
		buf = putBytes(buf, arBytes)
	}

	// skippedAddrs is keyed by a map, so its iteration order is random;
	// sort the keys first so two Export calls on identical state produce
	// identical bytes.
	keys := make([]string, 0, len(s.skippedAddrs))
	for k := range s.skippedAddrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf = putUint64(buf, uint64(len(keys)))
	for _, k := range keys {
		addrs := s.skippedAddrs[k]
		buf = putBytes(buf, []byte(k))
		buf = putUint64(buf, uint64(len(addrs)))
		for _, a := range addrs {
			buf = append(buf, a[:]...)
		}
	}

	return buf, nil
}

// Import parses the encoding produced by Export into a fresh session state,
// behaviourally equivalent to the one that was exported: the same next send
// address on every address ratchet, and able to decrypt the same next
// inbound message the original could have.
func Import(buf []byte) (*State, error) {
	if len(buf) < 1 {
		return nil, fmt.Errorf("magicratchet: buffer too short for version byte")
	}
	if buf[0] != protocolVersion {
		return nil, fmt.Errorf("magicratchet: unsupported export version %d", buf[0])
	}
	off := 1

	encBytes, off, err := takeBytes(buf, off)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: decoding content ratchet: %w", err)
	}
	encRatchet, err := ratchet.UnmarshalState(encBytes)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: restoring content ratchet: %w", err)
	}

	shareNumber, off, err := takeUint64(buf, off)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: decoding share number: %w", err)
	}

	addrCount, off, err := takeUint64(buf, off)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: decoding address ratchet count: %w", err)
	}
	addrs := make([]*addrratchet.State, addrCount)
	for i := uint64(0); i < addrCount; i++ {
		var arBytes []byte
		arBytes, off, err = takeBytes(buf, off)
		if err != nil {
			return nil, fmt.Errorf("magicratchet: decoding address ratchet %d: %w", i, err)
		}
		ar, err := addrratchet.UnmarshalState(arBytes)
		if err != nil {
			return nil, fmt.Errorf("magicratchet: restoring address ratchet %d: %w", i, err)
		}
		addrs[i] = ar
	}

	skipCount, off, err := takeUint64(buf, off)
	if err != nil {
		return nil, fmt.Errorf("magicratchet: decoding skipped-address count: %w", err)
	}
	skipped := make(map[string][][32]byte, skipCount)
	for i := uint64(0); i < skipCount; i++ {
		var keyBytes []byte
		keyBytes, off, err = takeBytes(buf, off)
		if err != nil {
			return nil, fmt.Errorf("magicratchet: decoding skipped-address key %d: %w", i, err)
		}
		var n uint64
		n, off, err = takeUint64(buf, off)
		if err != nil {
			return nil, fmt.Errorf("magicratchet: decoding skipped-address set size %d: %w", i, err)
		}
		set := make([][32]byte, n)
		for j := uint64(0); j < n; j++ {
			if off+32 > len(buf) {
				return nil, fmt.Errorf("magicratchet: buffer too short for skipped address %d/%d", i, j)
			}
			copy(set[j][:], buf[off:off+32])
			off += 32
		}
		skipped[string(keyBytes)] = set
	}

	return &State{
		encRatchet:      encRatchet,
		shareNumber:     int(shareNumber),
		addressRatchets: addrs,
		skippedAddrs:    skipped,
	}, nil
}
