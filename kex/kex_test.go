package kex

import (
	"bytes"
	"crypto/rand"
	"math/big"
	"testing"

	"blitter.com/go/awa/message"
)

func clientProposal() message.KexInit {
	p := Proposal{
		KexAlgs:     []string{Kyber768Name, DHGroup14SHA256Name},
		HostKeyAlgs: []string{"ssh-rsa"},
		CipherAlgs:  []string{"aes256-ctr", "chacha20-ctr"},
		MacAlgs:     []string{"hmac-sha2-256"},
		CompAlgs:    []string{"none"},
	}
	return p.Build([16]byte{1, 2, 3}, false)
}

func TestNegotiatePicksClientPreferenceAmongSupported(t *testing.T) {
	client := clientProposal()
	n, err := Negotiate(client, DefaultProposal())
	if err != nil {
		t.Fatal(err)
	}
	if n.Kex != Kyber768Name {
		t.Fatalf("expected client's first mutually supported kex alg, got %s", n.Kex)
	}
	if n.CipherC2S != "aes256-ctr" || n.CipherS2C != "aes256-ctr" {
		t.Fatalf("unexpected cipher negotiation: %+v", n)
	}
	if n.MacC2S != "hmac-sha2-256" {
		t.Fatalf("unexpected mac negotiation: %+v", n)
	}
}

func TestNegotiateFailsWithNoCommonAlgorithm(t *testing.T) {
	client := message.KexInit{
		KexAlgs:                []string{"nonsense-kex"},
		HostKeyAlgs:            []string{"ssh-rsa"},
		CiphAlgsClientToServer: []string{"aes256-ctr"},
		CiphAlgsServerToClient: []string{"aes256-ctr"},
		MacAlgsClientToServer:  []string{"hmac-sha2-256"},
		MacAlgsServerToClient:  []string{"hmac-sha2-256"},
	}
	if _, err := Negotiate(client, DefaultProposal()); err == nil {
		t.Fatal("expected NegotiationFailure")
	}
}

func TestDHGroup14ExchangeProducesSharedSecret(t *testing.T) {
	server := DHGroup14SHA256{}
	// simulate a peer contribution: another random exponent applied to g
	peerY := make([]byte, 256)
	rand.Read(peerY)
	y := new(big.Int).SetBytes(peerY)
	y.Mod(y, group14Prime)
	peerE := new(big.Int).Exp(group14Generator, y, group14Prime)

	f, k, err := server.Exchange(rand.Reader, peerE.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(f) == 0 || len(k) == 0 {
		t.Fatal("expected non-empty public value and secret")
	}
}

func TestDHGroup14RejectsOutOfRangePeerValue(t *testing.T) {
	server := DHGroup14SHA256{}
	_, _, err := server.Exchange(rand.Reader, []byte{0})
	if err == nil {
		t.Fatal("expected rejection of peer value 0")
	}
}

func TestExchangeHashIsDeterministic(t *testing.T) {
	e := big.NewInt(12345)
	f := big.NewInt(67890)
	k := big.NewInt(424242)
	h1 := ExchangeHash("V_C", "V_S", []byte("IC"), []byte("IS"), []byte("hostkeyblob"), e, f, k)
	h2 := ExchangeHash("V_C", "V_S", []byte("IC"), []byte("IS"), []byte("hostkeyblob"), e, f, k)
	if !bytes.Equal(h1, h2) {
		t.Fatal("exchange hash should be deterministic for identical inputs")
	}
	h3 := ExchangeHash("V_C", "V_S", []byte("IC"), []byte("IS-different"), []byte("hostkeyblob"), e, f, k)
	if bytes.Equal(h1, h3) {
		t.Fatal("exchange hash must be sensitive to I_S")
	}
}

func TestDeriveKeysProducesDistinctDirectionalMaterial(t *testing.T) {
	k := big.NewInt(99999)
	h := []byte("some exchange hash")
	sessionID := []byte("session-id-fixture")
	n := Negotiated{
		CipherC2S: "aes256-ctr",
		CipherS2C: "aes256-ctr",
		MacC2S:    "hmac-sha2-256",
		MacS2C:    "hmac-sha2-256",
	}
	c2s, s2c := DeriveKeys(k, h, sessionID, n)
	if len(c2s.CipherKey) != 32 || len(s2c.CipherKey) != 32 {
		t.Fatalf("expected 32-byte aes256 keys, got %d/%d", len(c2s.CipherKey), len(s2c.CipherKey))
	}
	if bytes.Equal(c2s.CipherKey, s2c.CipherKey) {
		t.Fatal("client-to-server and server-to-client keys must differ")
	}
	if bytes.Equal(c2s.IV, s2c.IV) {
		t.Fatal("client-to-server and server-to-client IVs must differ")
	}

	c2sAgain, _ := DeriveKeys(k, h, sessionID, n)
	if !bytes.Equal(c2s.CipherKey, c2sAgain.CipherKey) {
		t.Fatal("key derivation must be a pure function of (k, h, sessionID, negotiated)")
	}
}
