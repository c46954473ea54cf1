package ratchet

import (
	"bytes"
	"testing"
)

func newPair(t *testing.T) (*State, *State) {
	t.Helper()
	sk := [32]byte{1}
	shka := [32]byte{2}
	snhkb := [32]byte{3}

	bob, bobPub, err := InitBob(sk, shka, snhkb)
	if err != nil {
		t.Fatalf("InitBob() error = %v", err)
	}
	alice, err := InitAlice(sk, bobPub, shka, snhkb)
	if err != nil {
		t.Fatalf("InitAlice() error = %v", err)
	}
	return alice, bob
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	alice, bob := newPair(t)
	ad := []byte("associated data")

	encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("hello bob"), ad)
	if err != nil {
		t.Fatalf("RatchetEncrypt() error = %v", err)
	}
	plaintext, _, err := bob.RatchetDecrypt(encHeader, hNonce, ciphertext, cNonce, ad)
	if err != nil {
		t.Fatalf("RatchetDecrypt() error = %v", err)
	}
	if !bytes.Equal(plaintext, []byte("hello bob")) {
		t.Errorf("RatchetDecrypt() = %q, want %q", plaintext, "hello bob")
	}
}

func TestBidirectionalExchange(t *testing.T) {
	alice, bob := newPair(t)

	encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("ping"), nil)
	if err != nil {
		t.Fatalf("alice.RatchetEncrypt() error = %v", err)
	}
	if _, _, err := bob.RatchetDecrypt(encHeader, hNonce, ciphertext, cNonce, nil); err != nil {
		t.Fatalf("bob.RatchetDecrypt() error = %v", err)
	}

	encHeader2, hNonce2, ciphertext2, cNonce2, err := bob.RatchetEncrypt([]byte("pong"), nil)
	if err != nil {
		t.Fatalf("bob.RatchetEncrypt() error = %v", err)
	}
	plaintext, _, err := alice.RatchetDecrypt(encHeader2, hNonce2, ciphertext2, cNonce2, nil)
	if err != nil {
		t.Fatalf("alice.RatchetDecrypt() error = %v", err)
	}
	if !bytes.Equal(plaintext, []byte("pong")) {
		t.Errorf("alice.RatchetDecrypt() = %q, want %q", plaintext, "pong")
	}
}

func TestOutOfOrderDeliveryUsesSkippedKeys(t *testing.T) {
	alice, bob := newPair(t)

	type msg struct {
		encHeader, hNonce, ciphertext, cNonce []byte
	}
	var msgs []msg
	for i := 0; i < 3; i++ {
		encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("msg"), nil)
		if err != nil {
			t.Fatalf("RatchetEncrypt() error = %v", err)
		}
		msgs = append(msgs, msg{encHeader, hNonce, ciphertext, cNonce})
	}

	// Deliver message 2 before message 0 and 1.
	if _, _, err := bob.RatchetDecrypt(msgs[2].encHeader, msgs[2].hNonce, msgs[2].ciphertext, msgs[2].cNonce, nil); err != nil {
		t.Fatalf("RatchetDecrypt(msg 2) error = %v", err)
	}
	if _, _, err := bob.RatchetDecrypt(msgs[0].encHeader, msgs[0].hNonce, msgs[0].ciphertext, msgs[0].cNonce, nil); err != nil {
		t.Fatalf("RatchetDecrypt(msg 0, late) error = %v", err)
	}
	if _, _, err := bob.RatchetDecrypt(msgs[1].encHeader, msgs[1].hNonce, msgs[1].ciphertext, msgs[1].cNonce, nil); err != nil {
		t.Fatalf("RatchetDecrypt(msg 1, late) error = %v", err)
	}
}

func TestDecryptRejectsTamperedContent(t *testing.T) {
	alice, bob := newPair(t)
	encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("RatchetEncrypt() error = %v", err)
	}
	ciphertext[0] ^= 0xff

	if _, _, err := bob.RatchetDecrypt(encHeader, hNonce, ciphertext, cNonce, nil); err != ErrContentAuthFailed {
		t.Errorf("RatchetDecrypt() error = %v, want %v", err, ErrContentAuthFailed)
	}
}

func TestDecryptRejectsTamperedHeader(t *testing.T) {
	alice, bob := newPair(t)
	encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("RatchetEncrypt() error = %v", err)
	}
	encHeader[0] ^= 0xff

	if _, _, err := bob.RatchetDecrypt(encHeader, hNonce, ciphertext, cNonce, nil); err != ErrHeaderAuthFailed {
		t.Errorf("RatchetDecrypt() error = %v, want %v", err, ErrHeaderAuthFailed)
	}
}

func TestFailedDecryptLeavesStateUnchanged(t *testing.T) {
	alice, bob := newPair(t)
	encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("RatchetEncrypt() error = %v", err)
	}
	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff

	if _, _, err := bob.RatchetDecrypt(encHeader, hNonce, tampered, cNonce, nil); err == nil {
		t.Fatal("RatchetDecrypt() with tampered ciphertext: want error, got nil")
	}

	// The real message must still decrypt after the failed attempt, proving
	// bob's state was not mutated by the rejected call.
	plaintext, _, err := bob.RatchetDecrypt(encHeader, hNonce, ciphertext, cNonce, nil)
	if err != nil {
		t.Fatalf("RatchetDecrypt() after a failed attempt: error = %v", err)
	}
	if !bytes.Equal(plaintext, []byte("hello")) {
		t.Errorf("RatchetDecrypt() = %q, want %q", plaintext, "hello")
	}
}

func TestEncryptWithoutSendChainFails(t *testing.T) {
	sk := [32]byte{1}
	bob, _, err := InitBob(sk, [32]byte{2}, [32]byte{3})
	if err != nil {
		t.Fatalf("InitBob() error = %v", err)
	}
	if _, _, _, _, err := bob.RatchetEncrypt([]byte("x"), nil); err != ErrNoSendChain {
		t.Errorf("RatchetEncrypt() error = %v, want %v", err, ErrNoSendChain)
	}
}

func TestTryDecryptDoesNotMutateReceiverUntilCommit(t *testing.T) {
	alice, bob := newPair(t)
	encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("staged"), nil)
	if err != nil {
		t.Fatalf("RatchetEncrypt() error = %v", err)
	}

	before, err := bob.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	plaintext, _, work, err := bob.TryDecrypt(encHeader, hNonce, ciphertext, cNonce, nil)
	if err != nil {
		t.Fatalf("TryDecrypt() error = %v", err)
	}
	if !bytes.Equal(plaintext, []byte("staged")) {
		t.Errorf("TryDecrypt() plaintext = %q, want %q", plaintext, "staged")
	}

	after, err := bob.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("TryDecrypt() mutated the receiver before Commit() was called")
	}

	bob.Commit(work)
	committed, err := bob.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if bytes.Equal(before, committed) {
		t.Error("Commit() left the receiver's state unchanged")
	}
}

func TestMarshalBinaryUnmarshalStateRoundTrip(t *testing.T) {
	alice, bob := newPair(t)

	// Exchange one message each way so the optional keys (cks, ckr, hks,
	// hkr) are all populated before round-tripping. The skipped-key map stays
	// empty here; the next test covers it.
	encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("hello"), nil)
	if err != nil {
		t.Fatalf("RatchetEncrypt() error = %v", err)
	}
	if _, _, err := bob.RatchetDecrypt(encHeader, hNonce, ciphertext, cNonce, nil); err != nil {
		t.Fatalf("RatchetDecrypt() error = %v", err)
	}
	encHeader2, hNonce2, ciphertext2, cNonce2, err := bob.RatchetEncrypt([]byte("hi alice"), nil)
	if err != nil {
		t.Fatalf("bob.RatchetEncrypt() error = %v", err)
	}

	encoded, err := bob.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	restoredBob, err := UnmarshalState(encoded)
	if err != nil {
		t.Fatalf("UnmarshalState() error = %v", err)
	}

	plaintext, _, err := alice.RatchetDecrypt(encHeader2, hNonce2, ciphertext2, cNonce2, nil)
	if err != nil {
		t.Fatalf("alice.RatchetDecrypt() error = %v", err)
	}
	if !bytes.Equal(plaintext, []byte("hi alice")) {
		t.Errorf("alice.RatchetDecrypt() = %q, want %q", plaintext, "hi alice")
	}

	// The restored bob must still be able to continue the same session.
	encHeader3, hNonce3, ciphertext3, cNonce3, err := alice.RatchetEncrypt([]byte("continuing"), nil)
	if err != nil {
		t.Fatalf("alice.RatchetEncrypt() error = %v", err)
	}
	got, _, err := restoredBob.RatchetDecrypt(encHeader3, hNonce3, ciphertext3, cNonce3, nil)
	if err != nil {
		t.Fatalf("restoredBob.RatchetDecrypt() error = %v", err)
	}
	if !bytes.Equal(got, []byte("continuing")) {
		t.Errorf("restoredBob.RatchetDecrypt() = %q, want %q", got, "continuing")
	}
}

func TestMarshalBinaryUnmarshalStatePreservesSkippedKeys(t *testing.T) {
	alice, bob := newPair(t)

	var msgs [][4][]byte
	for i := 0; i < 3; i++ {
		encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("msg"), nil)
		if err != nil {
			t.Fatalf("RatchetEncrypt() error = %v", err)
		}
		msgs = append(msgs, [4][]byte{encHeader, hNonce, ciphertext, cNonce})
	}

	// Deliver message 2 first, so 0 and 1 are cached as skipped keys.
	if _, _, err := bob.RatchetDecrypt(msgs[2][0], msgs[2][1], msgs[2][2], msgs[2][3], nil); err != nil {
		t.Fatalf("RatchetDecrypt(msg 2) error = %v", err)
	}

	encoded, err := bob.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	restoredBob, err := UnmarshalState(encoded)
	if err != nil {
		t.Fatalf("UnmarshalState() error = %v", err)
	}

	plaintext, _, err := restoredBob.RatchetDecrypt(msgs[0][0], msgs[0][1], msgs[0][2], msgs[0][3], nil)
	if err != nil {
		t.Fatalf("restoredBob.RatchetDecrypt(msg 0, late) error = %v", err)
	}
	if !bytes.Equal(plaintext, []byte("msg")) {
		t.Errorf("restoredBob.RatchetDecrypt(msg 0) = %q, want %q", plaintext, "msg")
	}
}

func TestUnmarshalStateRejectsTruncatedBuffer(t *testing.T) {
	alice, _ := newPair(t)
	encoded, err := alice.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if _, err := UnmarshalState(encoded[:len(encoded)/2]); err == nil {
		t.Error("UnmarshalState() of a truncated buffer: want error, got nil")
	}
}

func TestManyMessagesInSequence(t *testing.T) {
	alice, bob := newPair(t)
	for i := 0; i < 20; i++ {
		encHeader, hNonce, ciphertext, cNonce, err := alice.RatchetEncrypt([]byte("iteration"), nil)
		if err != nil {
			t.Fatalf("RatchetEncrypt() at i=%d: error = %v", i, err)
		}
		plaintext, _, err := bob.RatchetDecrypt(encHeader, hNonce, ciphertext, cNonce, nil)
		if err != nil {
			t.Fatalf("RatchetDecrypt() at i=%d: error = %v", i, err)
		}
		if !bytes.Equal(plaintext, []byte("iteration")) {
			t.Fatalf("RatchetDecrypt() at i=%d = %q, want %q", i, plaintext, "iteration")
		}
	}
}
