package header

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		h    Header
	}{
		{name: "typical", h: New([]byte{1, 2, 3, 4}, 5, 9)},
		{name: "zero counters", h: New([]byte{0xaa}, 0, 0)},
		{name: "empty public key", h: New(nil, 3, 3)},
		{name: "large public key", h: New(bytes.Repeat([]byte{7}, 256), 100, 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.h.Encode()
			got, err := Decode(buf)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !bytes.Equal(got.PublicKey, tt.h.PublicKey) && !(len(got.PublicKey) == 0 && len(tt.h.PublicKey) == 0) {
				t.Errorf("PublicKey = %v, want %v", got.PublicKey, tt.h.PublicKey)
			}
			if got.PrevChainLen != tt.h.PrevChainLen {
				t.Errorf("PrevChainLen = %d, want %d", got.PrevChainLen, tt.h.PrevChainLen)
			}
			if got.MessageNum != tt.h.MessageNum {
				t.Errorf("MessageNum = %d, want %d", got.MessageNum, tt.h.MessageNum)
			}
		})
	}
}

func TestDecodeRejectsTruncatedBuffers(t *testing.T) {
	h := New([]byte{1, 2, 3}, 1, 1)
	buf := h.Encode()

	for n := 0; n < 8; n++ {
		if _, err := Decode(buf[:n]); err == nil {
			t.Errorf("Decode(buf[:%d]) want error, got nil", n)
		}
	}
	if _, err := Decode(buf[:len(buf)-1]); err == nil {
		t.Error("Decode() of a buffer missing its last counter byte: want error, got nil")
	}
}

func TestDecodeRejectsOversizedLengthPrefix(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 0xff // declares an absurd public key length
	if _, err := Decode(buf); err == nil {
		t.Error("Decode() with an oversized length prefix: want error, got nil")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	hk := [32]byte{1, 2, 3}
	ad := []byte("associated data")
	h := New([]byte{9, 9, 9}, 4, 7)

	ciphertext, nonce, err := Encrypt(h, hk, ad)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	got, err := Decrypt(&hk, ciphertext, nonce, ad)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got.PublicKey, h.PublicKey) || got.PrevChainLen != h.PrevChainLen || got.MessageNum != h.MessageNum {
		t.Errorf("Decrypt() = %+v, want %+v", got, h)
	}
}

func TestDecryptRejectsNilHeaderKey(t *testing.T) {
	h := New([]byte{1}, 0, 0)
	ciphertext, nonce, err := Encrypt(h, [32]byte{1}, nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := Decrypt(nil, ciphertext, nonce, nil); err != ErrHeaderAuthFailed {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrHeaderAuthFailed)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	h := New([]byte{1}, 0, 0)
	hk := [32]byte{1}
	wrongHk := [32]byte{2}
	ciphertext, nonce, err := Encrypt(h, hk, nil)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := Decrypt(&wrongHk, ciphertext, nonce, nil); err != ErrHeaderAuthFailed {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrHeaderAuthFailed)
	}
}

func TestDecryptRejectsWrongAD(t *testing.T) {
	h := New([]byte{1}, 0, 0)
	hk := [32]byte{1}
	ciphertext, nonce, err := Encrypt(h, hk, []byte("a"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := Decrypt(&hk, ciphertext, nonce, []byte("b")); err != ErrHeaderAuthFailed {
		t.Errorf("Decrypt() error = %v, want %v", err, ErrHeaderAuthFailed)
	}
}
