package exchange

import (
	"bytes"
	"testing"
)

func TestExchangeAgreesBothSides(t *testing.T) {
	alice, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	bob, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	bobPub, err := bob.PublicKeyBytes()
	if err != nil {
		t.Fatalf("PublicKeyBytes() error = %v", err)
	}
	alicePub, err := alice.PublicKeyBytes()
	if err != nil {
		t.Fatalf("PublicKeyBytes() error = %v", err)
	}

	secretA, err := alice.Exchange(bobPub)
	if err != nil {
		t.Fatalf("alice.Exchange() error = %v", err)
	}
	secretB, err := bob.Exchange(alicePub)
	if err != nil {
		t.Fatalf("bob.Exchange() error = %v", err)
	}

	if !bytes.Equal(secretA, secretB) {
		t.Error("ECDH shared secrets disagree between the two sides")
	}
}

func TestExchangeKeyMatchesExchange(t *testing.T) {
	alice, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	bob, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	bobPubBytes, err := bob.PublicKeyBytes()
	if err != nil {
		t.Fatalf("PublicKeyBytes() error = %v", err)
	}
	secret1, err := alice.Exchange(bobPubBytes)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	secret2, err := alice.ExchangeKey(bob.Public())
	if err != nil {
		t.Fatalf("ExchangeKey() error = %v", err)
	}
	if !bytes.Equal(secret1, secret2) {
		t.Error("Exchange() and ExchangeKey() disagree for the same remote key")
	}
}

func TestRestoreReproducesKeyPair(t *testing.T) {
	original, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	restored, err := Restore(original.PrivateKeyBytes())
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	originalPub, _ := original.PublicKeyBytes()
	restoredPub, _ := restored.PublicKeyBytes()
	if !bytes.Equal(originalPub, restoredPub) {
		t.Error("Restore() did not reproduce the original public key")
	}

	peer, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	peerPub, _ := peer.PublicKeyBytes()
	s1, _ := original.Exchange(peerPub)
	s2, _ := restored.Exchange(peerPub)
	if !bytes.Equal(s1, s2) {
		t.Error("Restore()'d key pair derives a different shared secret")
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	if _, err := ParsePublicKey([]byte("not a key")); err == nil {
		t.Error("ParsePublicKey() of garbage bytes: want error, got nil")
	}
}

func TestRestorePKCS8ReproducesKeyPair(t *testing.T) {
	original, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	der, err := original.ExportPrivate()
	if err != nil {
		t.Fatalf("ExportPrivate() error = %v", err)
	}
	restored, err := RestorePKCS8(der)
	if err != nil {
		t.Fatalf("RestorePKCS8() error = %v", err)
	}

	originalPub, _ := original.PublicKeyBytes()
	restoredPub, _ := restored.PublicKeyBytes()
	if !bytes.Equal(originalPub, restoredPub) {
		t.Error("RestorePKCS8() did not reproduce the original public key")
	}

	peer, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	peerPub, _ := peer.PublicKeyBytes()
	s1, _ := original.Exchange(peerPub)
	s2, _ := restored.Exchange(peerPub)
	if !bytes.Equal(s1, s2) {
		t.Error("RestorePKCS8()'d key pair derives a different shared secret")
	}
}

func TestRestorePKCS8RejectsGarbage(t *testing.T) {
	if _, err := RestorePKCS8([]byte("not a key")); err == nil {
		t.Error("RestorePKCS8() of garbage bytes: want error, got nil")
	}
}

func TestMarshalPublicKeyMatchesParsePublicKey(t *testing.T) {
	kp, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	der, err := MarshalPublicKey(kp.Public())
	if err != nil {
		t.Fatalf("MarshalPublicKey() error = %v", err)
	}
	parsed, err := ParsePublicKey(der)
	if err != nil {
		t.Fatalf("ParsePublicKey() error = %v", err)
	}
	if !bytes.Equal(parsed.Bytes(), kp.Public().Bytes()) {
		t.Error("MarshalPublicKey() round trip through ParsePublicKey() changed the key")
	}
}

func TestGenerateProducesDistinctKeyPairs(t *testing.T) {
	a, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := Generate()
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	aPub, _ := a.PublicKeyBytes()
	bPub, _ := b.PublicKeyBytes()
	if bytes.Equal(aPub, bPub) {
		t.Error("Generate() produced two identical key pairs")
	}
}
