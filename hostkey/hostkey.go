// Package hostkey wraps a server host key pair so the rest of the
// core never touches raw crypto/rsa types directly. The core treats a
// Key as opaque: sign, verify, canonical name, wire blob.
//
// No file parsing lives here (reading a PEM off disk is the host's
// job, out of scope per spec.md §1) -- this package only wraps an
// already-materialized key pair.
package hostkey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"math/big"

	"blitter.com/go/awa/wire"
)

// Variant tags the three shapes a Key can take.
type Variant int

const (
	// Unknown never verifies; it exists so callers can represent "no
	// host key configured yet" or a key format this core does not
	// implement, per the source behavior noted in spec.md §9.
	Unknown Variant = iota
	RSAPublic
	RSAPrivate
)

// CanonicalName is the ssh-name this package's only supported key
// algorithm advertises.
const CanonicalName = "ssh-rsa"

// Key is an opaque host key pair (or, for Unknown, the absence of
// one). Private is nil unless Variant == RSAPrivate.
type Key struct {
	Variant Variant
	Public  *rsa.PublicKey
	Private *rsa.PrivateKey
}

// Generate produces a fresh RSA host key pair of the given bit size.
// This is a convenience for tests and demo hosts; production hosts
// are expected to load a persisted key via their own file-parsing
// code and construct a Key directly.
func Generate(bits int) (Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return Key{}, err
	}
	return Key{Variant: RSAPrivate, Public: &priv.PublicKey, Private: priv}, nil
}

// Name returns the canonical ssh-name for k, or "" for Unknown.
func (k Key) Name() string {
	switch k.Variant {
	case RSAPublic, RSAPrivate:
		return CanonicalName
	default:
		return ""
	}
}

// PublicBlob returns the canonical wire encoding of the public key:
// string(name) || mpint(e) || mpint(n).
func (k Key) PublicBlob() ([]byte, error) {
	if k.Variant != RSAPublic && k.Variant != RSAPrivate || k.Public == nil {
		return nil, errors.New("hostkey: no public key to encode")
	}
	out := wire.EncodeString([]byte(CanonicalName))
	out = append(out, wire.EncodeMPInt(big.NewInt(int64(k.Public.E)))...)
	out = append(out, wire.EncodeMPInt(k.Public.N)...)
	return out, nil
}

// Sign produces a signature blob over data, in the form
// string(alg-name) || string(raw-signature). Only RSAPrivate keys can
// sign.
func (k Key) Sign(data []byte) ([]byte, error) {
	if k.Variant != RSAPrivate || k.Private == nil {
		return nil, errors.New("hostkey: no private key to sign with")
	}
	h := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.Private, crypto.SHA256, h[:])
	if err != nil {
		return nil, err
	}
	out := wire.EncodeString([]byte("rsa-sha2-256"))
	out = append(out, wire.EncodeString(sig)...)
	return out, nil
}

// Verify checks sigBlob (as produced by Sign) against unsigned data.
// Unknown keys always fail to verify, per spec.md §9.
func (k Key) Verify(unsigned, sigBlob []byte) error {
	if k.Variant == Unknown || k.Public == nil {
		return errors.New("hostkey: cannot verify against an unknown key")
	}
	_, rest, err := wire.DecodeString(sigBlob) // alg name, unused beyond presence check
	if err != nil {
		return err
	}
	sig, _, err := wire.DecodeString(rest)
	if err != nil {
		return err
	}
	h := sha256.Sum256(unsigned)
	return rsa.VerifyPKCS1v15(k.Public, crypto.SHA256, h[:], sig)
}

// Scrub zeroes the private exponent and primes so key material does
// not linger in memory once a session is dropped, mirroring the
// security-scrub pattern in the teacher's ClearAuthCookie.
func (k *Key) Scrub() {
	if k.Private == nil {
		return
	}
	k.Private.D.SetInt64(0)
	for _, p := range k.Private.Primes {
		p.SetInt64(0)
	}
}
