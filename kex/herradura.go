package kex

import (
	"io"
	"math/big"

	hkex "blitter.com/go/herradurakex"
)

// Herradura256Name is the wire name for the herradura-based alternate
// key exchange, generalizing the teacher's KEX_HERRADURA256 selection
// (see the hc.kex switch in hkexnet.go) into a KEXINIT name-list entry.
const Herradura256Name = "herradura256-kex"

// Herradura256 wraps blitter.com/go/herradurakex at its 256-bit/64-bit
// (intSz/pubSz) parameterization. peerPublic is the peer's D value as
// unsigned big-endian bytes (big.Int.Bytes); Exchange replies with this side's own
// D and the derived FA shared secret.
type Herradura256 struct{}

func (Herradura256) Name() string { return Herradura256Name }

func (Herradura256) Exchange(rnd io.Reader, peerPublic []byte) ([]byte, []byte, error) {
	h := hkex.New(256, 64)
	h.SetPeerD(new(big.Int).SetBytes(peerPublic))
	h.ComputeFA()
	return h.D().Bytes(), h.FA().Bytes(), nil
}
