package session

import (
	"bytes"
	"testing"

	"github.com/zentalk-labs/magicratchet/pkg/magicratchet"
)

func fill32(b byte) [32]byte {
	var a [32]byte
	for i := range a {
		a[i] = b
	}
	return a
}

func seededSessions(t *testing.T) (*Session, *Session) {
	t.Helper()
	encRK := [32]byte{}
	shka := fill32(1)
	snhkb := fill32(2)
	addressRKs := [][32]byte{fill32(3), fill32(4), fill32(5)}
	const n = 3

	bobState, encPK, addrPKs, err := magicratchet.InitBob(encRK, shka, snhkb, n, addressRKs)
	if err != nil {
		t.Fatalf("InitBob() error = %v", err)
	}
	aliceState, err := magicratchet.InitAlice(encRK, encPK, shka, snhkb, n, addressRKs, addrPKs)
	if err != nil {
		t.Fatalf("InitAlice() error = %v", err)
	}
	return New(aliceState), New(bobState)
}

func TestSessionSendRecvRoundTrip(t *testing.T) {
	alice, bob := seededSessions(t)

	shares, err := alice.Send([]byte("hello across the mesh"), nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got, err := bob.Recv(shares, nil)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if !bytes.Equal(got, []byte("hello across the mesh")) {
		t.Errorf("Recv() = %q, want %q", got, "hello across the mesh")
	}
}

func TestSessionNextAddressesMatchesSubsequentSend(t *testing.T) {
	alice, bob := seededSessions(t)

	// Prime bob's receiving chains with one exchange first.
	shares, err := alice.Send([]byte("prime"), nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := bob.Recv(shares, nil); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	// The first call yields the addresses of the message just received; the
	// second predicts alice's next send.
	if _, err := bob.NextAddresses(); err != nil {
		t.Fatalf("NextAddresses() error = %v", err)
	}
	predicted, err := bob.NextAddresses()
	if err != nil {
		t.Fatalf("NextAddresses() error = %v", err)
	}
	if len(predicted) != 3 {
		t.Fatalf("NextAddresses() returned %d addresses, want 3", len(predicted))
	}

	next, err := alice.Send([]byte("next"), nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	for i, sh := range next {
		if predicted[i] != sh.Address {
			t.Errorf("address %d: NextAddresses() predicted %x, Send() produced %x", i, predicted[i], sh.Address)
		}
	}
}

func TestSessionExportRoundTrip(t *testing.T) {
	alice, bob := seededSessions(t)

	shares, err := alice.Send([]byte("persisted"), nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := bob.Recv(shares, nil); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	exported, err := bob.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	restoredState, err := magicratchet.Import(exported)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	restored := New(restoredState)

	shares2, err := alice.Send([]byte("after restart"), nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got, err := restored.Recv(shares2, nil)
	if err != nil {
		t.Fatalf("Recv() on restored session: error = %v", err)
	}
	if !bytes.Equal(got, []byte("after restart")) {
		t.Errorf("Recv() on restored session = %q, want %q", got, "after restart")
	}
}

func TestSessionCloseZeroisesState(t *testing.T) {
	alice, _ := seededSessions(t)

	before, err := alice.Export()
	if err != nil {
		t.Fatalf("Export() before Close(): error = %v", err)
	}
	alice.Close()
	after, err := alice.Export()
	if err != nil {
		t.Fatalf("Export() after Close(): error = %v", err)
	}
	if bytes.Equal(before, after) {
		t.Error("Export() before and after Close() are identical; Close() did not zeroise any key material")
	}
}
