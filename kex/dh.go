package kex

import (
	"errors"
	"io"
	"math/big"
)

// DHGroup14SHA256Name is the mandatory key exchange method's wire name.
const DHGroup14SHA256Name = "diffie-hellman-group14-sha256"

// group14Prime is the 2048-bit MODP group (RFC 3526 group 14) used for
// Diffie-Hellman exchange.
var group14Prime, _ = new(big.Int).SetString(""+
	"FFFFFFFF"+"FFFFFFFF"+"C90FDAA2"+"2168C234"+"C4C6628B"+"80DC1CD1"+
	"29024E08"+"8A67CC74"+"020BBEA6"+"3B139B22"+"514A0879"+"8E3404DD"+
	"EF9519B3"+"CD3A431B"+"302B0A6D"+"F25F1437"+"4FE1356D"+"6D51C245"+
	"E485B576"+"625E7EC6"+"F44C42E9"+"A637ED6B"+"0BFF5CB6"+"F406B7ED"+
	"EE386BFB"+"5A899FA5"+"AE9F2411"+"7C4B1FE6"+"49286651"+"ECE45B3D"+
	"C2007CB8"+"A163BF05"+"98DA4836"+"1C55D39A"+"69163FA8"+"FD24CF5F"+
	"83655D23"+"DCA3AD96"+"1C62F356"+"208552BB"+"9ED52907"+"7096966D"+
	"670C354E"+"4ABC9804"+"F1746C08"+"CA18217C"+"32905E46"+"2E36CE3B"+
	"E39E772C"+"180E8603"+"9B2783A2"+"EC07A28F"+"B5C55DF0"+"6F4C52C9"+
	"DE2BCBF6"+"95581718"+"3995497C"+"EA956AE5"+"15D22618"+"98FA0510"+
	"15728E5A"+"8AACAA68"+"FFFFFFFF"+"FFFFFFFF", 16)

var group14Generator = big.NewInt(2)

// DHGroup14SHA256 implements the mandatory Diffie-Hellman key
// exchange, per spec.md §4.3: given the peer's public value e, pick a
// random secret y, compute f = g^y mod p and shared secret k = e^y mod p.
type DHGroup14SHA256 struct{}

func (DHGroup14SHA256) Name() string { return DHGroup14SHA256Name }

func (DHGroup14SHA256) Exchange(rnd io.Reader, peerPublic []byte) ([]byte, []byte, error) {
	e := new(big.Int).SetBytes(peerPublic)
	if e.Sign() <= 0 || e.Cmp(group14Prime) >= 0 {
		return nil, nil, errors.New("kex: invalid peer public value e")
	}

	ybytes := make([]byte, 256) // 2048 bits
	if _, err := io.ReadFull(rnd, ybytes); err != nil {
		return nil, nil, err
	}
	y := new(big.Int).SetBytes(ybytes)
	y.Mod(y, group14Prime)
	if y.Sign() == 0 {
		y.SetInt64(1)
	}

	f := new(big.Int).Exp(group14Generator, y, group14Prime)
	k := new(big.Int).Exp(e, y, group14Prime)
	return f.Bytes(), k.Bytes(), nil
}
