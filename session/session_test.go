package session

import (
	"bytes"
	"math/big"
	"testing"

	"blitter.com/go/awa/awaerr"
	"blitter.com/go/awa/config"
	"blitter.com/go/awa/framer"
	"blitter.com/go/awa/hostkey"
	"blitter.com/go/awa/kex"
	"blitter.com/go/awa/message"
	"blitter.com/go/awa/userauth"
	"blitter.com/go/awa/userdb"
)

// fixedRandom is a deterministic byte source for driving the DH
// exchange and packet padding in tests, mirroring the teacher's use
// of canned readers in its own wire-format tests.
type fixedRandom struct{ seed byte }

func (f *fixedRandom) Read(p []byte) (int, error) {
	for i := range p {
		f.seed++
		p[i] = f.seed
	}
	return len(p), nil
}

func newTestSession(t *testing.T, db userauth.DB) (*Session, hostkey.Key) {
	t.Helper()
	hk, err := hostkey.Generate(2048)
	if err != nil {
		t.Fatal(err)
	}
	s, initial, err := New(config.Default(), hk, db, &fixedRandom{})
	if err != nil {
		t.Fatal(err)
	}
	if len(initial) != 2 {
		t.Fatalf("expected 2 initial messages, got %d", len(initial))
	}
	return s, hk
}

func TestBannerParseGood(t *testing.T) {
	s, _ := newTestSession(t, userdb.New())
	s.Feed([]byte("SSH-2.0-OpenSSH_6.9\r\n"))
	m, ok, err := s.Poll()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	v, isVersion := m.(message.Version)
	if !isVersion || v.Banner != "OpenSSH_6.9" {
		t.Fatalf("got %#v", m)
	}
	if len(s.inbound) != 0 {
		t.Fatalf("expected empty remainder, got %d bytes", len(s.inbound))
	}
}

func TestBannerParseWithPreface(t *testing.T) {
	s, _ := newTestSession(t, userdb.New())
	s.Feed([]byte("Welcome to the machine\r\nSSH-2.0-OpenSSH_6.9\r\n"))
	m, ok, err := s.Poll()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if v := m.(message.Version); v.Banner != "OpenSSH_6.9" {
		t.Fatalf("got %q", v.Banner)
	}
}

func TestBannerParseWithTrailingBytes(t *testing.T) {
	s, _ := newTestSession(t, userdb.New())
	s.Feed([]byte("Foo bar\r\nSSH-2.0-OpenSSH_6.9\r\nLALA"))
	m, ok, err := s.Poll()
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if v := m.(message.Version); v.Banner != "OpenSSH_6.9" {
		t.Fatalf("got %q", v.Banner)
	}
	if string(s.inbound) != "LALA" {
		t.Fatalf("expected leftover %q, got %q", "LALA", s.inbound)
	}
}

func TestBannerParseNeedsMoreBeforeCRLF(t *testing.T) {
	s, _ := newTestSession(t, userdb.New())
	s.Feed([]byte("SSH-2.0-OpenSSH_6.9"))
	_, ok, err := s.Poll()
	if err != nil || ok {
		t.Fatalf("expected NeedMore, got ok=%v err=%v", ok, err)
	}
}

func TestBannerParseMalformedMissingSoftware(t *testing.T) {
	s, _ := newTestSession(t, userdb.New())
	s.Feed([]byte("SSH-2.0\r\n"))
	_, _, err := s.Poll()
	if err != awaerr.Malformed {
		t.Fatalf("expected Malformed, got %v", err)
	}
}

func TestBannerParseMalformedWrongVersion(t *testing.T) {
	s, _ := newTestSession(t, userdb.New())
	s.Feed([]byte("SSH-1.0-foobar\r\n"))
	_, _, err := s.Poll()
	if err != awaerr.Malformed {
		t.Fatalf("expected Malformed, got %v", err)
	}
}

func TestBannerParseMalformedHyphenInSoftwareName(t *testing.T) {
	s, _ := newTestSession(t, userdb.New())
	s.Feed([]byte("SSH-2.0-Open-SSH_6.9\r\n"))
	_, _, err := s.Poll()
	if err != awaerr.Malformed {
		t.Fatalf("expected Malformed, got %v", err)
	}
}

// clientKex drives the server-owned Session through version exchange,
// KEXINIT, the DH exchange and NEWKEYS from the client's side,
// returning the derived directional keys so the test can keep talking
// to the session afterward.
func clientKex(t *testing.T, s *Session, hk hostkey.Key) (c2s, s2c framer.Keys, sessionID []byte) {
	t.Helper()
	clientBanner := "SSH-2.0-testclient_1.0"
	s.Feed([]byte(clientBanner + "\r\n"))
	m, ok, err := s.Poll()
	if err != nil || !ok {
		t.Fatalf("version poll: ok=%v err=%v", ok, err)
	}
	if _, err := s.Handle(m); err != nil {
		t.Fatalf("version handle: %v", err)
	}

	proposal := kex.DefaultProposal()
	cookie, err := kex.NewCookie(&fixedRandom{seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	clientKexInit := proposal.Build(cookie, false)
	rawClient, err := message.Encode(clientKexInit)
	if err != nil {
		t.Fatal(err)
	}
	clientKexInit.Raw = rawClient

	if _, err := s.Handle(clientKexInit); err != nil {
		t.Fatalf("kexinit handle: %v", err)
	}

	clientRnd := &fixedRandom{seed: 42}
	ybytes := make([]byte, 256)
	if _, err := clientRnd.Read(ybytes); err != nil {
		t.Fatal(err)
	}
	y := new(big.Int).SetBytes(ybytes)

	// Use the same group constants the server uses, from the client's
	// perspective: compute e = g^y mod p directly, then derive k by
	// exponentiating the server's returned f.
	g := big.NewInt(2)
	p := groupPrime(t)
	y.Mod(y, p)
	if y.Sign() == 0 {
		y.SetInt64(1)
	}
	e := new(big.Int).Exp(g, y, p)

	emitted, err := s.Handle(message.KexDHInit{E: e})
	if err != nil {
		t.Fatalf("kexdhinit handle: %v", err)
	}
	if len(emitted) != 2 {
		t.Fatalf("expected KEXDH_REPLY+NEWKEYS, got %d messages", len(emitted))
	}
	reply, ok := emitted[0].(message.KexDHReply)
	if !ok {
		t.Fatalf("expected KexDHReply, got %#v", emitted[0])
	}
	if _, ok := emitted[1].(message.NewKeys); !ok {
		t.Fatalf("expected NewKeys, got %#v", emitted[1])
	}

	k := new(big.Int).Exp(reply.F, y, p)
	h := kex.ExchangeHash(clientBanner, s.cfg.Banner, rawClient, s.transport.OurKexInit.Raw, reply.HostKeyBlob, e, reply.F, k)

	negotiated, err := kex.Negotiate(clientKexInit, proposal)
	if err != nil {
		t.Fatal(err)
	}
	c2s, s2c = kex.DeriveKeys(k, h, h, negotiated)

	if err := hk.Verify(h, reply.Signature); err != nil {
		t.Fatalf("host key signature did not verify: %v", err)
	}

	// Forward the emitted KEXDH_REPLY/NEWKEYS to the wire as the
	// session façade would, so s.transport.OutboundKeys advances and
	// pending_out installs exactly as it would for a real peer.
	if _, err := s.EncodeMany(emitted); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Handle(message.NewKeys{}); err != nil {
		t.Fatalf("newkeys handle: %v", err)
	}

	return c2s, s2c, s.transport.SessionID
}

func groupPrime(t *testing.T) *big.Int {
	t.Helper()
	p, ok := new(big.Int).SetString(""+
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
	if !ok {
		t.Fatal("bad prime literal")
	}
	return p
}

func TestFullHandshakeReachesServiceAccept(t *testing.T) {
	s, hk := newTestSession(t, userdb.New())
	_, _, sessionID := clientKex(t, s, hk)
	if len(sessionID) == 0 {
		t.Fatal("expected session id to be set")
	}
	emitted, err := s.Handle(message.ServiceRequest{Name: "ssh-userauth"})
	if err != nil {
		t.Fatal(err)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected SERVICE_ACCEPT, got %#v", emitted)
	}
	if _, ok := emitted[0].(message.ServiceAccept); !ok {
		t.Fatalf("expected ServiceAccept, got %#v", emitted[0])
	}
}

func setupAuthedHandshake(t *testing.T, db userauth.DB) *Session {
	t.Helper()
	s, hk := newTestSession(t, db)
	clientKex(t, s, hk)
	if _, err := s.Handle(message.ServiceRequest{Name: "ssh-userauth"}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestUserauthPublickeyProbe(t *testing.T) {
	clientKey, err := hostkey.Generate(2048)
	if err != nil {
		t.Fatal(err)
	}
	db := userdb.New()
	db.Add(userdb.Record{Name: "bob", AuthorizedKeys: []userdb.AuthorizedKey{{Key: clientKey}}})
	s := setupAuthedHandshake(t, db)

	blob, err := clientKey.PublicBlob()
	if err != nil {
		t.Fatal(err)
	}
	emitted, err := s.Handle(message.UserauthRequest{
		User: "bob", Service: userauth.RequiredService,
		Method: message.Publickey{Algo: clientKey.Name(), Blob: blob},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected one message, got %#v", emitted)
	}
	pkok, ok := emitted[0].(message.UserauthPKOK)
	if !ok || pkok.Algo != clientKey.Name() {
		t.Fatalf("expected UserauthPKOK, got %#v", emitted[0])
	}
}

func TestUserauthPublickeySignedSuccess(t *testing.T) {
	clientKey, err := hostkey.Generate(2048)
	if err != nil {
		t.Fatal(err)
	}
	db := userdb.New()
	db.Add(userdb.Record{Name: "bob", AuthorizedKeys: []userdb.AuthorizedKey{{Key: clientKey}}})
	s := setupAuthedHandshake(t, db)

	blob, err := clientKey.PublicBlob()
	if err != nil {
		t.Fatal(err)
	}
	unsigned := message.SignedBlob(s.transport.SessionID, "bob", userauth.RequiredService, clientKey.Name(), blob)
	sig, err := clientKey.Sign(unsigned)
	if err != nil {
		t.Fatal(err)
	}
	emitted, err := s.Handle(message.UserauthRequest{
		User: "bob", Service: userauth.RequiredService,
		Method: message.Publickey{Algo: clientKey.Name(), Blob: blob, Signature: sig},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected one message, got %#v", emitted)
	}
	if _, ok := emitted[0].(message.UserauthSuccess); !ok {
		t.Fatalf("expected UserauthSuccess, got %#v", emitted[0])
	}
	if s.AuthSnapshot().Phase != userauth.Done {
		t.Fatal("expected auth phase Done")
	}
}

func TestUserauthUsernameMismatchDisconnects(t *testing.T) {
	db := userdb.New()
	s := setupAuthedHandshake(t, db)

	if _, err := s.Handle(message.UserauthRequest{
		User: "bob", Service: userauth.RequiredService, Method: message.None{},
	}); err != nil {
		t.Fatal(err)
	}
	emitted, err := s.Handle(message.UserauthRequest{
		User: "carol", Service: userauth.RequiredService, Method: message.None{},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(emitted) != 1 {
		t.Fatalf("expected one message, got %#v", emitted)
	}
	d, ok := emitted[0].(message.Disconnect)
	if !ok || d.Reason != message.ReasonProtocolError {
		t.Fatalf("expected protocol-error Disconnect, got %#v", emitted[0])
	}
}

func TestUserauthFailureCapExhausts(t *testing.T) {
	db := userdb.New()
	s := setupAuthedHandshake(t, db)

	var lastErr error
	for i := 0; i < 11; i++ {
		_, err := s.Handle(message.UserauthRequest{
			User: "bob", Service: userauth.RequiredService, Method: message.None{},
		})
		lastErr = err
	}
	if lastErr != awaerr.AuthExhausted {
		t.Fatalf("expected AuthExhausted after exceeding the cap, got %v", lastErr)
	}
}

func TestEncodeVersionIsRawBannerLine(t *testing.T) {
	s, _ := newTestSession(t, userdb.New())
	out, err := s.Encode(message.Version{Banner: "SSH-2.0-awa_ssh_0.1"})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte("SSH-2.0-awa_ssh_0.1\r\n")) {
		t.Fatalf("got %q", out)
	}
}
