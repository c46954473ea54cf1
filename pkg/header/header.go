// Package header implements the per-message ratchet header: a DH public
// key plus the two counters (previous chain length, message number) needed
// to recover a skipped or reordered message key, and the header-encryption
// wrapper used by the encryption ratchet.
package header

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zentalk-labs/magicratchet/pkg/aead"
)

// ErrHeaderAuthFailed is returned whenever a header fails to decrypt or
// fails to deserialise once decrypted, and whenever no header key is
// available yet.
var ErrHeaderAuthFailed = errors.New("header: authentication failed")

// Header is a single ratchet step's public metadata.
type Header struct {
	PublicKey     []byte // PKIX-encoded DH public key
	PrevChainLen  uint32
	MessageNum    uint32
}

// New builds a Header for the given public key and counters.
func New(publicKey []byte, prevChainLen, messageNum uint32) Header {
	return Header{PublicKey: publicKey, PrevChainLen: prevChainLen, MessageNum: messageNum}
}

// Encode produces the canonical, deterministic byte encoding used both as
// additional data for header encryption and for wire transport:
// len(pubkey) uint64 LE || pubkey || prevChainLen uint32 LE || messageNum uint32 LE.
func (h Header) Encode() []byte {
	buf := make([]byte, 8+len(h.PublicKey)+4+4)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(h.PublicKey)))
	copy(buf[8:8+len(h.PublicKey)], h.PublicKey)
	off := 8 + len(h.PublicKey)
	binary.LittleEndian.PutUint32(buf[off:off+4], h.PrevChainLen)
	binary.LittleEndian.PutUint32(buf[off+4:off+8], h.MessageNum)
	return buf
}

// Decode parses a Header from the Encode wire format.
func Decode(buf []byte) (Header, error) {
	if len(buf) < 8 {
		return Header{}, fmt.Errorf("header: buffer too short for length prefix")
	}
	pkLen := binary.LittleEndian.Uint64(buf[0:8])
	if pkLen > uint64(len(buf)-8) {
		return Header{}, fmt.Errorf("header: declared public key length exceeds buffer")
	}
	off := 8 + int(pkLen)
	if len(buf) < off+8 {
		return Header{}, fmt.Errorf("header: buffer too short for counters")
	}
	pk := make([]byte, pkLen)
	copy(pk, buf[8:off])
	prevChainLen := binary.LittleEndian.Uint32(buf[off : off+4])
	messageNum := binary.LittleEndian.Uint32(buf[off+4 : off+8])
	return Header{PublicKey: pk, PrevChainLen: prevChainLen, MessageNum: messageNum}, nil
}

// Encrypt seals the header under hk using the misuse-resistant AEAD,
// authenticating ad alongside it. It returns the ciphertext and the
// synthetic nonce SealMR actually used.
func Encrypt(h Header, hk [32]byte, ad []byte) (ciphertext, nonce []byte, err error) {
	plaintext := h.Encode()
	zeroNonce := make([]byte, aead.NonceSize)
	ciphertext, nonce, err = aead.SealMR(plaintext, hk[:], zeroNonce, ad)
	if err != nil {
		return nil, nil, fmt.Errorf("header: encrypting: %w", err)
	}
	return ciphertext, nonce, nil
}

// Decrypt opens a header ciphertext produced by Encrypt. hk == nil (no
// header key available yet) is treated identically to an authentication
// failure, and a successfully-authenticated but malformed plaintext is also
// surfaced as ErrHeaderAuthFailed rather than propagating a decode error —
// the caller never learns anything about *why* a header didn't decode.
func Decrypt(hk *[32]byte, ciphertext, nonce, ad []byte) (Header, error) {
	if hk == nil {
		return Header{}, ErrHeaderAuthFailed
	}
	plaintext, err := aead.OpenMR(ciphertext, hk[:], nonce, ad)
	if err != nil {
		return Header{}, ErrHeaderAuthFailed
	}
	h, err := Decode(plaintext)
	if err != nil {
		return Header{}, ErrHeaderAuthFailed
	}
	return h, nil
}
