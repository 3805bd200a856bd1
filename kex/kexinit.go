package kex

import (
	"crypto/sha256"
	"io"
	"math/big"

	"blitter.com/go/awa/awaerr"
	"blitter.com/go/awa/framer"
	"blitter.com/go/awa/hostkey"
	"blitter.com/go/awa/message"
	"blitter.com/go/awa/wire"
)

// Proposal is this server's full KEXINIT algorithm advertisement, in
// preference order within each category.
type Proposal struct {
	KexAlgs     []string
	HostKeyAlgs []string
	CipherAlgs  []string
	MacAlgs     []string
	CompAlgs    []string
	Langs       []string
}

// DefaultProposal advertises every algorithm this package and the
// framer package implement.
func DefaultProposal() Proposal {
	return Proposal{
		KexAlgs:     PreferenceOrder,
		HostKeyAlgs: []string{hostkey.CanonicalName},
		CipherAlgs:  framer.SupportedCiphers,
		MacAlgs:     framer.SupportedMacs,
		CompAlgs:    []string{"none"},
		Langs:       nil,
	}
}

// NewCookie fills a fresh KEXINIT cookie.
func NewCookie(rnd io.Reader) ([16]byte, error) {
	var c [16]byte
	_, err := io.ReadFull(rnd, c[:])
	return c, err
}

// Build turns a Proposal into a wire KexInit message. The same
// name-list is advertised for both directions of a category; this
// server does not distinguish client-to-server from server-to-client
// preferences.
func (p Proposal) Build(cookie [16]byte, firstKexPacketFollows bool) message.KexInit {
	return message.KexInit{
		Cookie:                 cookie,
		KexAlgs:                p.KexAlgs,
		HostKeyAlgs:            p.HostKeyAlgs,
		CiphAlgsClientToServer: p.CipherAlgs,
		CiphAlgsServerToClient: p.CipherAlgs,
		MacAlgsClientToServer:  p.MacAlgs,
		MacAlgsServerToClient:  p.MacAlgs,
		CompAlgsClientToServer: p.CompAlgs,
		CompAlgsServerToClient: p.CompAlgs,
		LangsClientToServer:    p.Langs,
		LangsServerToClient:    p.Langs,
		FirstKexPacketFollows:  firstKexPacketFollows,
	}
}

// Negotiated holds the algorithm chosen per category once both sides'
// KEXINIT proposals have been matched.
type Negotiated struct {
	Kex       string
	HostKey   string
	CipherC2S string
	CipherS2C string
	MacC2S    string
	MacS2C    string
}

// negotiateOne picks the first client-proposed name the server also
// supports. The real protocol's rule: the client's preference order
// decides ties, the server only vetoes names it cannot do.
func negotiateOne(clientProposed, serverSupported []string) (string, error) {
	supported := make(map[string]bool, len(serverSupported))
	for _, s := range serverSupported {
		supported[s] = true
	}
	for _, c := range clientProposed {
		if supported[c] {
			return c, nil
		}
	}
	return "", awaerr.NegotiationFailure
}

// Negotiate matches a client's KexInit against this server's
// Proposal, returning NegotiationFailure if any category has no
// common algorithm.
func Negotiate(client message.KexInit, server Proposal) (Negotiated, error) {
	var n Negotiated
	var err error
	if n.Kex, err = negotiateOne(client.KexAlgs, server.KexAlgs); err != nil {
		return Negotiated{}, err
	}
	if n.HostKey, err = negotiateOne(client.HostKeyAlgs, server.HostKeyAlgs); err != nil {
		return Negotiated{}, err
	}
	if n.CipherC2S, err = negotiateOne(client.CiphAlgsClientToServer, server.CipherAlgs); err != nil {
		return Negotiated{}, err
	}
	if n.CipherS2C, err = negotiateOne(client.CiphAlgsServerToClient, server.CipherAlgs); err != nil {
		return Negotiated{}, err
	}
	if n.MacC2S, err = negotiateOne(client.MacAlgsClientToServer, server.MacAlgs); err != nil {
		return Negotiated{}, err
	}
	if n.MacS2C, err = negotiateOne(client.MacAlgsServerToClient, server.MacAlgs); err != nil {
		return Negotiated{}, err
	}
	if _, err = negotiateOne(client.CompAlgsClientToServer, server.CompAlgs); err != nil {
		return Negotiated{}, err
	}
	if _, err = negotiateOne(client.CompAlgsServerToClient, server.CompAlgs); err != nil {
		return Negotiated{}, err
	}
	return n, nil
}

// ExchangeHash computes H = HASH(V_C||V_S||I_C||I_S||K_S||e||f||k),
// per spec.md §4.3. I_C/I_S are the exact raw KEXINIT payload bytes
// captured on message.KexInit.Raw, never a re-serialization.
func ExchangeHash(versionClient, versionServer string, rawClientKexInit, rawServerKexInit, hostKeyBlob []byte, e, f, k *big.Int) []byte {
	var buf []byte
	buf = append(buf, wire.EncodeString([]byte(versionClient))...)
	buf = append(buf, wire.EncodeString([]byte(versionServer))...)
	buf = append(buf, wire.EncodeString(rawClientKexInit)...)
	buf = append(buf, wire.EncodeString(rawServerKexInit)...)
	buf = append(buf, wire.EncodeString(hostKeyBlob)...)
	buf = append(buf, wire.EncodeMPInt(e)...)
	buf = append(buf, wire.EncodeMPInt(f)...)
	buf = append(buf, wire.EncodeMPInt(k)...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// deriveKey implements RFC 4253 §7.2's keying-material stretch: the
// first block is HASH(K||H||tag||session_id); further blocks extend
// it with HASH(K||H||K1||...||Kn) until length bytes are available.
func deriveKey(k *big.Int, h []byte, tag byte, sessionID []byte, length int) []byte {
	if length == 0 {
		return nil
	}
	kEnc := wire.EncodeMPInt(k)
	seed := append(append([]byte{}, kEnc...), h...)
	seed = append(seed, tag)
	seed = append(seed, sessionID...)
	sum := sha256.Sum256(seed)
	out := append([]byte{}, sum[:]...)
	for len(out) < length {
		seed2 := append(append([]byte{}, kEnc...), h...)
		seed2 = append(seed2, out...)
		sum2 := sha256.Sum256(seed2)
		out = append(out, sum2[:]...)
	}
	return out[:length]
}

// DeriveKeys produces the two directions' framer.Keys from the shared
// secret k, exchange hash h and session id, per spec.md §4.3's
// six-stream ('A'..'F') derivation. The sequence number of each
// returned Keys is always 0; callers preserve Seq across rekeys
// themselves by copying it from the outgoing Keys being replaced.
func DeriveKeys(k *big.Int, h, sessionID []byte, n Negotiated) (clientToServer, serverToClient framer.Keys) {
	cID := framer.CipherID(n.CipherC2S)
	sID := framer.CipherID(n.CipherS2C)
	macCID := framer.MacID(n.MacC2S)
	macSID := framer.MacID(n.MacS2C)

	ivCS := deriveKey(k, h, 'A', sessionID, framer.IVSize(cID))
	ivSC := deriveKey(k, h, 'B', sessionID, framer.IVSize(sID))
	keyCS := deriveKey(k, h, 'C', sessionID, framer.KeySize(cID))
	keySC := deriveKey(k, h, 'D', sessionID, framer.KeySize(sID))
	macKeyCS := deriveKey(k, h, 'E', sessionID, framer.MacSize(macCID))
	macKeySC := deriveKey(k, h, 'F', sessionID, framer.MacSize(macSID))

	clientToServer = framer.Keys{CipherID: cID, CipherKey: keyCS, IV: ivCS, MacID: macCID, MacKey: macKeyCS}
	serverToClient = framer.Keys{CipherID: sID, CipherKey: keySC, IV: ivSC, MacID: macSID, MacKey: macKeySC}
	return
}
