// Package blocksplit partitions a byte string into n contiguous blocks of
// randomised length, summing exactly to the original length. It carries no
// redundancy and provides no secrecy on its own — the data it splits is
// already AEAD ciphertext, indistinguishable from random without the
// message key.
package blocksplit

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

// Share partitions data into n contiguous blocks with randomised lengths
// summing to len(data). A block may legitimately end up zero-length; this
// is tolerated, not avoided.
func Share(data []byte, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("blocksplit: n must be positive, got %d", n)
	}

	weights := make([]float64, n)
	var sum float64
	for i := range weights {
		w, err := randomUnitFloat()
		if err != nil {
			return nil, err
		}
		weights[i] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}

	contentLen := len(data)
	lengths := make([]int, n)
	var between int
	for i, w := range weights {
		lengths[i] = int(math.Round(w * float64(contentLen)))
		between += lengths[i]
	}

	for between != contentLen {
		idx, err := randomIndex(n)
		if err != nil {
			return nil, err
		}
		if between > contentLen {
			if lengths[idx] == 0 {
				continue
			}
			lengths[idx]--
		} else {
			lengths[idx]++
		}
		between = 0
		for _, l := range lengths {
			between += l
		}
	}

	blocks := make([][]byte, n)
	offset := 0
	for i, l := range lengths {
		blocks[i] = append([]byte(nil), data[offset:offset+l]...)
		offset += l
	}
	return blocks, nil
}

// Reconstruct concatenates blocks back into the original byte string, in
// the order supplied by the caller.
func Reconstruct(blocks [][]byte) []byte {
	var total int
	for _, b := range blocks {
		total += len(b)
	}
	result := make([]byte, 0, total)
	for _, b := range blocks {
		result = append(result, b...)
	}
	return result
}

func randomUnitFloat() (float64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("blocksplit: drawing random float: %w", err)
	}
	// 53 bits of entropy into [0, 1), mirroring the precision of a typical
	// uniform f64 generator.
	v := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(v) / float64(uint64(1)<<53), nil
}

func randomIndex(n int) (int, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("blocksplit: drawing random index: %w", err)
	}
	return int(binary.LittleEndian.Uint32(buf[:]) % uint32(n)), nil
}
