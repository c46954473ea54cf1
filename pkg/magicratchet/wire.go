package magicratchet

import (
	"encoding/binary"
	"fmt"

	"github.com/zentalk-labs/magicratchet/pkg/aead"
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
		return nil, 0, fmt.Errorf("magicratchet: buffer too short for length prefix")
	}
	n := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	if n > uint64(len(buf)-off) {
		return nil, 0, fmt.Errorf("magicratchet: declared length exceeds buffer")
	}
	end := off + int(n)
	out := make([]byte, n)
	copy(out, buf[off:end])
	return out, end, nil
}

// putUint64 appends a fixed-width uint64 LE counter.
func putUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// takeUint64 reads a fixed-width uint64 LE counter starting at offset off.
func takeUint64(buf []byte, off int) (uint64, int, error) {
	if off+8 > len(buf) {
		return 0, 0, fmt.Errorf("magicratchet: buffer too short for uint64")
	}
	return binary.LittleEndian.Uint64(buf[off : off+8]), off + 8, nil
}

// encodePayload serialises the N address headers plus the plaintext payload
// that travels inside the encryption ratchet: count uint64 LE, then each
// header length-prefixed, then the message length-prefixed.
func encodePayload(headers [][]byte, message []byte) []byte {
	buf := make([]byte, 0, 8+len(message)+64*len(headers))
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(headers)))
	buf = append(buf, countBuf[:]...)
	for _, h := range headers {
		buf = putBytes(buf, h)
	}
	buf = putBytes(buf, message)
	return buf
}

// decodePayload is the inverse of encodePayload.
func decodePayload(buf []byte) (headers [][]byte, message []byte, err error) {
	if len(buf) < 8 {
		return nil, nil, fmt.Errorf("magicratchet: payload too short for header count")
	}
	count := binary.LittleEndian.Uint64(buf[0:8])
	off := 8
	headers = make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		var h []byte
		h, off, err = takeBytes(buf, off)
		if err != nil {
			return nil, nil, fmt.Errorf("magicratchet: decoding address header %d: %w", i, err)
		}
		headers = append(headers, h)
	}
	message, off, err = takeBytes(buf, off)
	if err != nil {
		return nil, nil, fmt.Errorf("magicratchet: decoding message: %w", err)
	}
	return headers, message, nil
}

// sharedHeader bundles the encrypted ratchet header together with the two
// nonces needed to decrypt it and the content it authenticates. Its encoding
// is len(encHeader) ‖ encHeader ‖ hNonce ‖ cNonce, each nonce at its fixed
// aead.NonceSize width.
type sharedHeader struct {
	encHeader []byte
	hNonce    []byte
	cNonce    []byte
}

func (s sharedHeader) encode() []byte {
	buf := make([]byte, 0, 8+len(s.encHeader)+len(s.hNonce)+len(s.cNonce))
	buf = putBytes(buf, s.encHeader)
	buf = append(buf, s.hNonce...)
	buf = append(buf, s.cNonce...)
	return buf
}

func decodeSharedHeader(buf []byte) (sharedHeader, error) {
	var s sharedHeader
	var off int
	var err error
	s.encHeader, off, err = takeBytes(buf, off)
	if err != nil {
		return sharedHeader{}, fmt.Errorf("magicratchet: decoding shared header: %w", err)
	}
	if len(buf)-off != 2*aead.NonceSize {
		return sharedHeader{}, fmt.Errorf("magicratchet: decoding shared header nonces: want %d bytes, got %d", 2*aead.NonceSize, len(buf)-off)
	}
	s.hNonce = append([]byte(nil), buf[off:off+aead.NonceSize]...)
	s.cNonce = append([]byte(nil), buf[off+aead.NonceSize:]...)
	return s, nil
}

// share is one storage-address payload: a Shamir share of the shared header
// paired with a block-split fragment of the content ciphertext.
type share struct {
	headerShare []byte
	contentSeg  []byte
}

func (s share) encode() []byte {
	buf := make([]byte, 0, len(s.headerShare)+len(s.contentSeg)+16)
	buf = putBytes(buf, s.headerShare)
	buf = putBytes(buf, s.contentSeg)
	return buf
}

func decodeShare(buf []byte) (share, error) {
	var s share
	var off int
	var err error
	s.headerShare, off, err = takeBytes(buf, off)
	if err != nil {
		return share{}, fmt.Errorf("magicratchet: decoding share header: %w", err)
	}
	s.contentSeg, _, err = takeBytes(buf, off)
	if err != nil {
		return share{}, fmt.Errorf("magicratchet: decoding share content: %w", err)
	}
	return s, nil
}
