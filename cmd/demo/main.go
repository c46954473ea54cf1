// Command demo exercises one full Magic Ratchet exchange end to end: it
// bootstraps Alice and Bob via independent X3DH bundles, sends one message
// from Alice to Bob across N ephemeral mesh storage nodes, and reports
// whether Bob recovered it. It is a non-interactive smoke test, not a chat
// client — there is no interactive session here to run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/zentalk-labs/magicratchet/pkg/bundle"
	"github.com/zentalk-labs/magicratchet/pkg/magicratchet"
	"github.com/zentalk-labs/magicratchet/pkg/meshstore"
)

func main() {
	n := flag.Int("addresses", 3, "number of parallel address ratchets (and storage nodes)")
	message := flag.String("message", "Hello, Magic Ratchet", "plaintext message Alice sends to Bob")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(*n, *message, logger); err != nil {
		fmt.Fprintln(os.Stderr, "demo failed:", err)
		os.Exit(1)
	}
}

func run(n int, message string, logger *slog.Logger) error {
	ctx := context.Background()

	bobBundle, err := bundle.NewBobBundle(n)
	if err != nil {
		return fmt.Errorf("building bob's bundle: %w", err)
	}
	bobPublic, err := bobBundle.Public()
	if err != nil {
		return fmt.Errorf("publishing bob's bundle: %w", err)
	}

	aliceBundle, err := bundle.NewAliceBundle(n)
	if err != nil {
		return fmt.Errorf("building alice's bundle: %w", err)
	}
	alicePublic, err := aliceBundle.Public()
	if err != nil {
		return fmt.Errorf("publishing alice's bundle: %w", err)
	}

	aliceSecrets, err := bundle.DeriveAlice(aliceBundle, bobPublic)
	if err != nil {
		return fmt.Errorf("deriving alice's secrets: %w", err)
	}
	bobSecrets, err := bundle.DeriveBob(bobBundle, alicePublic)
	if err != nil {
		return fmt.Errorf("deriving bob's secrets: %w", err)
	}

	ratchetBob, encPK, addrPKs, err := magicratchet.InitBob(bobSecrets.EncRK, bobSecrets.Shka, bobSecrets.Snhkb, n, bobSecrets.Address)
	if err != nil {
		return fmt.Errorf("initialising bob's ratchet: %w", err)
	}
	ratchetAlice, err := magicratchet.InitAlice(aliceSecrets.EncRK, encPK, aliceSecrets.Shka, aliceSecrets.Snhkb, n, aliceSecrets.Address, addrPKs)
	if err != nil {
		return fmt.Errorf("initialising alice's ratchet: %w", err)
	}

	stores := make([]*meshstore.Store, n)
	for i := 0; i < n; i++ {
		dir, err := os.MkdirTemp("", "magicratchet-demo-*")
		if err != nil {
			return fmt.Errorf("creating storage node %d: %w", i, err)
		}
		defer os.RemoveAll(dir)
		store, err := meshstore.Open(dir, logger.With("node", i))
		if err != nil {
			return fmt.Errorf("opening storage node %d: %w", i, err)
		}
		defer store.Close()
		stores[i] = store
	}

	shares, err := ratchetAlice.Send([]byte(message), nil)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	for i, sh := range shares {
		if err := stores[i].Put(ctx, sh.Address, sh.Payload); err != nil {
			return fmt.Errorf("writing share %d: %w", i, err)
		}
	}

	recovered := make([]magicratchet.AddressShare, n)
	for i, sh := range shares {
		data, err := stores[i].Get(ctx, sh.Address)
		if err != nil {
			return fmt.Errorf("reading share %d: %w", i, err)
		}
		recovered[i] = magicratchet.AddressShare{Address: sh.Address, Payload: data}
	}

	plaintext, err := ratchetBob.Recv(recovered, nil)
	if err != nil {
		return fmt.Errorf("receiving message: %w", err)
	}

	fmt.Printf("alice sent:    %q\n", message)
	fmt.Printf("bob received:  %q\n", string(plaintext))
	if string(plaintext) != message {
		return fmt.Errorf("round trip mismatch")
	}
	fmt.Println("round trip OK across", n, "unlinkable addresses")
	return nil
}
