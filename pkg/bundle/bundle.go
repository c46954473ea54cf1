// Package bundle implements the X3DH-style key agreement that seeds a
// Magic Ratchet session: N+3 independent secrets (the content ratchet's
// root key, its two header keys, and one root key per address ratchet),
// each derived from its own separate identity/ephemeral/signed-prekey/
// one-time-prekey exchange so that no two secrets are correlated.
package bundle

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/zentalk-labs/magicratchet/pkg/exchange"
)

// ErrInvalidSignature is returned when Alice's side of the exchange cannot
// verify Bob's signed-prekey signature. Bob's side of the exchange never
// fails: it has nothing to verify.
var ErrInvalidSignature = errors.New("bundle: signed prekey signature invalid")

const x3dhInfo = "magicratchet x3dh"

// AliceKeys is one X3DH initiator identity: a long-term identity DH key
// plus a fresh ephemeral DH key, both generated locally.
type AliceKeys struct {
	Identity  *exchange.KeyPair
	Ephemeral *exchange.KeyPair
}

// AlicePublic is the subset of AliceKeys published to the responder.
type AlicePublic struct {
	IdentityPublic  []byte
	EphemeralPublic []byte
}

// NewAliceKeys generates a fresh initiator identity.
func NewAliceKeys() (*AliceKeys, error) {
	id, err := exchange.Generate()
	if err != nil {
		return nil, fmt.Errorf("bundle: generating alice identity key: %w", err)
	}
	eph, err := exchange.Generate()
	if err != nil {
		return nil, fmt.Errorf("bundle: generating alice ephemeral key: %w", err)
	}
	return &AliceKeys{Identity: id, Ephemeral: eph}, nil
}

// Public returns the bundle Alice publishes to Bob.
func (a *AliceKeys) Public() (AlicePublic, error) {
	idBytes, err := a.Identity.PublicKeyBytes()
	if err != nil {
		return AlicePublic{}, fmt.Errorf("bundle: marshalling alice identity key: %w", err)
	}
	ephBytes, err := a.Ephemeral.PublicKeyBytes()
	if err != nil {
		return AlicePublic{}, fmt.Errorf("bundle: marshalling alice ephemeral key: %w", err)
	}
	return AlicePublic{IdentityPublic: idBytes, EphemeralPublic: ephBytes}, nil
}

// BobKeys is one X3DH responder identity: a long-term identity DH key, a
// signed prekey (authenticated by a dedicated Ed25519 signing key), and a
// one-time prekey consumed by exactly one exchange.
type BobKeys struct {
	Identity      *exchange.KeyPair
	SignedPrekey  *exchange.KeyPair
	OneTimePrekey *exchange.KeyPair
	SigningPublic ed25519.PublicKey
	signingKey    ed25519.PrivateKey
	Signature     []byte
}

// BobPublic is the subset of BobKeys published to the initiator.
type BobPublic struct {
	IdentityPublic      []byte
	SignedPrekeyPublic  []byte
	OneTimePrekeyPublic []byte
	SigningPublic       ed25519.PublicKey
	Signature           []byte
}

// NewBobKeys generates a fresh responder identity and signs its signed
// prekey with a freshly generated Ed25519 key.
func NewBobKeys() (*BobKeys, error) {
	id, err := exchange.Generate()
	if err != nil {
		return nil, fmt.Errorf("bundle: generating bob identity key: %w", err)
	}
	spk, err := exchange.Generate()
	if err != nil {
		return nil, fmt.Errorf("bundle: generating bob signed prekey: %w", err)
	}
	opk, err := exchange.Generate()
	if err != nil {
		return nil, fmt.Errorf("bundle: generating bob one-time prekey: %w", err)
	}
	signingPub, signingPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("bundle: generating signing key: %w", err)
	}
	spkBytes, err := spk.PublicKeyBytes()
	if err != nil {
		return nil, fmt.Errorf("bundle: marshalling signed prekey: %w", err)
	}
	sig := ed25519.Sign(signingPriv, spkBytes)
	return &BobKeys{
		Identity:      id,
		SignedPrekey:  spk,
		OneTimePrekey: opk,
		SigningPublic: signingPub,
		signingKey:    signingPriv,
		Signature:     sig,
	}, nil
}

// Public returns the bundle Bob publishes to Alice.
func (b *BobKeys) Public() (BobPublic, error) {
	idBytes, err := b.Identity.PublicKeyBytes()
	if err != nil {
		return BobPublic{}, fmt.Errorf("bundle: marshalling bob identity key: %w", err)
	}
	spkBytes, err := b.SignedPrekey.PublicKeyBytes()
	if err != nil {
		return BobPublic{}, fmt.Errorf("bundle: marshalling bob signed prekey: %w", err)
	}
	opkBytes, err := b.OneTimePrekey.PublicKeyBytes()
	if err != nil {
		return BobPublic{}, fmt.Errorf("bundle: marshalling bob one-time prekey: %w", err)
	}
	return BobPublic{
		IdentityPublic:      idBytes,
		SignedPrekeyPublic:  spkBytes,
		OneTimePrekeyPublic: opkBytes,
		SigningPublic:       b.SigningPublic,
		Signature:           b.Signature,
	}, nil
}

// AliceExchange runs the initiator's half of one X3DH exchange against
// Bob's published bundle, verifying his signed-prekey signature first.
// This is the only half of the exchange that can fail.
func AliceExchange(alice *AliceKeys, bob BobPublic) ([32]byte, error) {
	var secret [32]byte
	if !ed25519.Verify(bob.SigningPublic, bob.SignedPrekeyPublic, bob.Signature) {
		return secret, ErrInvalidSignature
	}

	dh1, err := alice.Identity.Exchange(bob.SignedPrekeyPublic) // DH(IKa, SPKb)
	if err != nil {
		return secret, fmt.Errorf("bundle: dh1: %w", err)
	}
	dh2, err := alice.Ephemeral.Exchange(bob.IdentityPublic) // DH(EKa, IKb)
	if err != nil {
		return secret, fmt.Errorf("bundle: dh2: %w", err)
	}
	dh3, err := alice.Ephemeral.Exchange(bob.SignedPrekeyPublic) // DH(EKa, SPKb)
	if err != nil {
		return secret, fmt.Errorf("bundle: dh3: %w", err)
	}
	dh4, err := alice.Ephemeral.Exchange(bob.OneTimePrekeyPublic) // DH(EKa, OPKb)
	if err != nil {
		return secret, fmt.Errorf("bundle: dh4: %w", err)
	}

	return deriveSecret(dh1, dh2, dh3, dh4)
}

// BobExchange runs the responder's half of the same X3DH exchange against
// Alice's published bundle. It never fails: Bob has no signature of
// Alice's to verify.
func BobExchange(bob *BobKeys, alice AlicePublic) ([32]byte, error) {
	dh1, err := bob.SignedPrekey.Exchange(alice.IdentityPublic) // DH(SPKb, IKa)
	if err != nil {
		return [32]byte{}, fmt.Errorf("bundle: dh1: %w", err)
	}
	dh2, err := bob.Identity.Exchange(alice.EphemeralPublic) // DH(IKb, EKa)
	if err != nil {
		return [32]byte{}, fmt.Errorf("bundle: dh2: %w", err)
	}
	dh3, err := bob.SignedPrekey.Exchange(alice.EphemeralPublic) // DH(SPKb, EKa)
	if err != nil {
		return [32]byte{}, fmt.Errorf("bundle: dh3: %w", err)
	}
	dh4, err := bob.OneTimePrekey.Exchange(alice.EphemeralPublic) // DH(OPKb, EKa)
	if err != nil {
		return [32]byte{}, fmt.Errorf("bundle: dh4: %w", err)
	}

	return deriveSecret(dh1, dh2, dh3, dh4)
}

func deriveSecret(dh1, dh2, dh3, dh4 []byte) ([32]byte, error) {
	var secret [32]byte
	ikm := make([]byte, 0, len(dh1)+len(dh2)+len(dh3)+len(dh4))
	ikm = append(ikm, dh1...)
	ikm = append(ikm, dh2...)
	ikm = append(ikm, dh3...)
	ikm = append(ikm, dh4...)

	h := hkdf.New(sha512.New, ikm, nil, []byte(x3dhInfo))
	okm := make([]byte, 32)
	if _, err := io.ReadFull(h, okm); err != nil {
		return secret, fmt.Errorf("bundle: expanding shared secret: %w", err)
	}
	copy(secret[:], okm)
	return secret, nil
}

// AliceBundle holds Alice's side of a full Magic Ratchet bootstrap: one
// independent AliceKeys per secret the session needs (enc_rk, shka, snhkb,
// and one per address ratchet).
type AliceBundle struct {
	EncRK   *AliceKeys
	Shka    *AliceKeys
	Snhkb   *AliceKeys
	Address []*AliceKeys
}

// AliceBundlePublic is what Alice publishes for Bob to consume.
type AliceBundlePublic struct {
	EncRK   AlicePublic
	Shka    AlicePublic
	Snhkb   AlicePublic
	Address []AlicePublic
}

// NewAliceBundle generates a fresh N+3-secret Alice-side bundle for n
// address ratchets.
func NewAliceBundle(n int) (*AliceBundle, error) {
	build := func(name string) (*AliceKeys, error) {
		k, err := NewAliceKeys()
		if err != nil {
			return nil, fmt.Errorf("bundle: building alice %s secret: %w", name, err)
		}
		return k, nil
	}
	encRK, err := build("enc_rk")
	if err != nil {
		return nil, err
	}
	shka, err := build("shka")
	if err != nil {
		return nil, err
	}
	snhkb, err := build("snhkb")
	if err != nil {
		return nil, err
	}
	address := make([]*AliceKeys, n)
	for i := range address {
		address[i], err = build(fmt.Sprintf("address_rk[%d]", i))
		if err != nil {
			return nil, err
		}
	}
	return &AliceBundle{EncRK: encRK, Shka: shka, Snhkb: snhkb, Address: address}, nil
}

// Public returns the bundle Alice sends to Bob.
func (b *AliceBundle) Public() (AliceBundlePublic, error) {
	var out AliceBundlePublic
	var err error
	if out.EncRK, err = b.EncRK.Public(); err != nil {
		return out, err
	}
	if out.Shka, err = b.Shka.Public(); err != nil {
		return out, err
	}
	if out.Snhkb, err = b.Snhkb.Public(); err != nil {
		return out, err
	}
	out.Address = make([]AlicePublic, len(b.Address))
	for i, a := range b.Address {
		if out.Address[i], err = a.Public(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// BobBundle holds Bob's side of a full Magic Ratchet bootstrap.
type BobBundle struct {
	EncRK   *BobKeys
	Shka    *BobKeys
	Snhkb   *BobKeys
	Address []*BobKeys
}

// BobBundlePublic is what Bob publishes for Alice to consume.
type BobBundlePublic struct {
	EncRK   BobPublic
	Shka    BobPublic
	Snhkb   BobPublic
	Address []BobPublic
}

// NewBobBundle generates a fresh N+3-secret Bob-side bundle for n address
// ratchets.
func NewBobBundle(n int) (*BobBundle, error) {
	build := func(name string) (*BobKeys, error) {
		k, err := NewBobKeys()
		if err != nil {
			return nil, fmt.Errorf("bundle: building bob %s secret: %w", name, err)
		}
		return k, nil
	}
	encRK, err := build("enc_rk")
	if err != nil {
		return nil, err
	}
	shka, err := build("shka")
	if err != nil {
		return nil, err
	}
	snhkb, err := build("snhkb")
	if err != nil {
		return nil, err
	}
	address := make([]*BobKeys, n)
	for i := range address {
		address[i], err = build(fmt.Sprintf("address_rk[%d]", i))
		if err != nil {
			return nil, err
		}
	}
	return &BobBundle{EncRK: encRK, Shka: shka, Snhkb: snhkb, Address: address}, nil
}

// Public returns the bundle Bob sends to Alice.
func (b *BobBundle) Public() (BobBundlePublic, error) {
	var out BobBundlePublic
	var err error
	if out.EncRK, err = b.EncRK.Public(); err != nil {
		return out, err
	}
	if out.Shka, err = b.Shka.Public(); err != nil {
		return out, err
	}
	if out.Snhkb, err = b.Snhkb.Public(); err != nil {
		return out, err
	}
	out.Address = make([]BobPublic, len(b.Address))
	for i, a := range b.Address {
		if out.Address[i], err = a.Public(); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Secrets is the N+3 derived 32-byte secrets a Magic Ratchet session is
// seeded from.
type Secrets struct {
	EncRK   [32]byte
	Shka    [32]byte
	Snhkb   [32]byte
	Address [][32]byte
}

// DeriveAlice runs AliceExchange once per secret against Bob's published
// bundle, failing as soon as any one signature fails to verify.
func DeriveAlice(alice *AliceBundle, bob BobBundlePublic) (Secrets, error) {
	var out Secrets
	var err error
	if out.EncRK, err = AliceExchange(alice.EncRK, bob.EncRK); err != nil {
		return out, fmt.Errorf("bundle: deriving enc_rk: %w", err)
	}
	if out.Shka, err = AliceExchange(alice.Shka, bob.Shka); err != nil {
		return out, fmt.Errorf("bundle: deriving shka: %w", err)
	}
	if out.Snhkb, err = AliceExchange(alice.Snhkb, bob.Snhkb); err != nil {
		return out, fmt.Errorf("bundle: deriving snhkb: %w", err)
	}
	if len(alice.Address) != len(bob.Address) {
		return out, fmt.Errorf("bundle: %d local address secrets but %d remote", len(alice.Address), len(bob.Address))
	}
	out.Address = make([][32]byte, len(alice.Address))
	for i := range alice.Address {
		if out.Address[i], err = AliceExchange(alice.Address[i], bob.Address[i]); err != nil {
			return out, fmt.Errorf("bundle: deriving address_rk[%d]: %w", i, err)
		}
	}
	return out, nil
}

// DeriveBob runs BobExchange once per secret against Alice's published
// bundle. It never fails on signature grounds; it can still fail on a
// count mismatch or a malformed public key.
func DeriveBob(bob *BobBundle, alice AliceBundlePublic) (Secrets, error) {
	var out Secrets
	var err error
	if out.EncRK, err = BobExchange(bob.EncRK, alice.EncRK); err != nil {
		return out, fmt.Errorf("bundle: deriving enc_rk: %w", err)
	}
	if out.Shka, err = BobExchange(bob.Shka, alice.Shka); err != nil {
		return out, fmt.Errorf("bundle: deriving shka: %w", err)
	}
	if out.Snhkb, err = BobExchange(bob.Snhkb, alice.Snhkb); err != nil {
		return out, fmt.Errorf("bundle: deriving snhkb: %w", err)
	}
	if len(bob.Address) != len(alice.Address) {
		return out, fmt.Errorf("bundle: %d local address secrets but %d remote", len(bob.Address), len(alice.Address))
	}
	out.Address = make([][32]byte, len(bob.Address))
	for i := range bob.Address {
		if out.Address[i], err = BobExchange(bob.Address[i], alice.Address[i]); err != nil {
			return out, fmt.Errorf("bundle: deriving address_rk[%d]: %w", i, err)
		}
	}
	return out, nil
}
