package handshake

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GUID is a server identifier exchanged during the SASL handshake: 16
// random bytes, rendered on the wire as 32 lowercase hex characters.
type GUID [16]byte

// NewGUID generates a fresh, random GUID, suitable for a server side
// of a handshake to hand to each connecting client.
func NewGUID() (GUID, error) {
	var g GUID
	if _, err := rand.Read(g[:]); err != nil {
		return GUID{}, fmt.Errorf("generating dbus GUID: %w", err)
	}
	return g, nil
}

// String renders the GUID as 32 lowercase hex characters.
func (g GUID) String() string {
	return hex.EncodeToString(g[:])
}

// ParseGUID parses the 32-character lowercase hex form of a GUID, as
// received in a handshake "OK <guid>" response. It rejects anything
// else, including uppercase hex, per the wire grammar.
func ParseGUID(s string) (GUID, error) {
	if len(s) != 32 {
		return GUID{}, fmt.Errorf("dbus GUID must be 32 hex characters, got %d", len(s))
	}
	var g GUID
	n, err := hex.Decode(g[:], []byte(s))
	if err != nil {
		return GUID{}, fmt.Errorf("parsing dbus GUID: %w", err)
	}
	if n != 16 {
		return GUID{}, fmt.Errorf("dbus GUID decoded to %d bytes, want 16", n)
	}
	for _, c := range s {
		if c >= 'A' && c <= 'F' {
			return GUID{}, fmt.Errorf("dbus GUID must be lowercase hex, got %q", s)
		}
	}
	return g, nil
}
