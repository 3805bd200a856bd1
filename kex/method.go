// Package kex implements KEXINIT construction/negotiation and the key
// exchange methods (DH group14, plus two domain-stack alternates) the
// transport state machine drives.
package kex

import "io"

// Method is implemented by every negotiable key exchange algorithm.
// The server side always plays the "respond to peer's public value"
// role: given the peer's contribution, it produces its own public
// contribution and the resulting shared secret.
type Method interface {
	// Name is the wire name advertised/matched in KEXINIT's kex
	// name-list.
	Name() string

	// Exchange consumes the peer's public value and yields the
	// server's public value plus the shared secret. rnd supplies
	// randomness for ephemeral secrets.
	Exchange(rnd io.Reader, peerPublic []byte) (serverPublic []byte, secret []byte, err error)
}

// Registry is the set of key exchange methods this server advertises,
// keyed by wire name. DH group14 is mandatory; Kyber768 and Herradura
// generalize the teacher's selectable KEXAlg into additional KEXINIT
// choices (see SPEC_FULL.md DOMAIN STACK).
func Registry() map[string]Method {
	return map[string]Method{
		DHGroup14SHA256Name: DHGroup14SHA256{},
		Kyber768Name:        Kyber768{},
		Herradura256Name:    Herradura256{},
	}
}

// PreferenceOrder is this server's advertised kex name-list, most
// preferred first.
var PreferenceOrder = []string{DHGroup14SHA256Name, Kyber768Name, Herradura256Name}
