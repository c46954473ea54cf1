// Package session serializes access to a single magicratchet.State. The
// ratchet itself assumes a single caller per session — concurrent Send,
// Recv, and NextAddresses calls on the same state would race on chain-key
// advancement — so Session is the one place that owns a mutex.
package session

import (
	"sync"

	"github.com/zentalk-labs/magicratchet/pkg/magicratchet"
)

// Session wraps a magicratchet.State with a mutex so it can be shared
// across goroutines (e.g. a send path and a poll-for-incoming path)
// without the caller having to reason about ratchet-internal races.
// Distinct Sessions (distinct conversations) never contend with each other.
type Session struct {
	mu    sync.Mutex
	state *magicratchet.State
}

// New wraps an already-initialised magicratchet.State.
func New(state *magicratchet.State) *Session {
	return &Session{state: state}
}

// Send encrypts and splits data under the session's lock.
func (s *Session) Send(data, ad []byte) ([]magicratchet.AddressShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Send(data, ad)
}

// Recv reconstructs and decrypts data under the session's lock.
func (s *Session) Recv(shares []magicratchet.AddressShare, ad []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Recv(shares, ad)
}

// NextAddresses predicts upcoming storage addresses under the session's
// lock.
func (s *Session) NextAddresses() ([][32]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.NextAddresses()
}

// Export serialises the session's state under the session's lock, for
// persisting it across a process restart. The caller is responsible for
// guarding the returned bytes as carefully as the live Session.
func (s *Session) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Export()
}

// Close zeroises all key material held by the session. The Session must
// not be used afterward.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Zeroize()
}
