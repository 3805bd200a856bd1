package kex

import (
	"io"

	kyber "git.schwanenlied.me/yawning/kyber.git"
)

// Kyber768Name is the wire name for the post-quantum KEM alternate key
// exchange, generalizing the teacher's KEX_KYBER768 selection (see the
// hc.kex switch in hkexnet.go) into a KEXINIT name-list entry.
const Kyber768Name = "kyber768-kem"

// Kyber768 wraps git.schwanenlied.me/yawning/kyber.git's Kyber768
// parameter set. peerPublic is the peer's serialized Kyber public key;
// Exchange plays Bob's role from the teacher's KyberAcceptSetup:
// deserialize the peer's public key, then KEM-encrypt to produce both
// the ciphertext to return and the shared secret.
type Kyber768 struct{}

func (Kyber768) Name() string { return Kyber768Name }

func (Kyber768) Exchange(rnd io.Reader, peerPublic []byte) ([]byte, []byte, error) {
	peerPublicKey, err := kyber.Kyber768.PublicKeyFromBytes(peerPublic)
	if err != nil {
		return nil, nil, err
	}
	cipherText, sharedSecret, err := peerPublicKey.KEMEncrypt(rnd)
	if err != nil {
		return nil, nil, err
	}
	return cipherText, sharedSecret, nil
}
