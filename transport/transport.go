// Package transport implements the SSH transport state machine: it
// drives version exchange, KEXINIT negotiation, the Diffie-Hellman (or
// domain-stack alternate) exchange, NEWKEYS installation and service
// dispatch. It never touches userauth semantics directly; the session
// façade routes USERAUTH_REQUEST to the userauth package instead, so
// the two state machines stay independently testable, matching the
// teacher's practice of keeping hkexnet (wire/crypto) and auth.go
// (credential checking) as separate concerns.
package transport

import (
	"io"
	"math/big"

	"blitter.com/go/awa/awaerr"
	"blitter.com/go/awa/framer"
	"blitter.com/go/awa/hostkey"
	"blitter.com/go/awa/kex"
	"blitter.com/go/awa/message"
)

// ServiceUserauth is the only service name this core accepts in
// SERVICE_REQUEST.
const ServiceUserauth = "ssh-userauth"

// State is everything the transport state machine needs to dispatch
// one inbound message and produce zero or more outbound messages.
// Random is injected so tests can drive the state machine with a
// deterministic byte source instead of crypto/rand.
type State struct {
	OurBanner  string
	PeerBanner string

	HostKey hostkey.Key
	Random  io.Reader

	Proposal    kex.Proposal
	OurKexInit  message.KexInit
	PeerKexInit *message.KexInit
	Negotiated  *kex.Negotiated

	// SessionID is write-once: set from the first computed exchange
	// hash and never touched again.
	SessionID []byte

	InboundKeys  framer.Keys
	OutboundKeys framer.Keys
	PendingIn    *framer.Keys
	PendingOut   *framer.Keys

	Expected         *message.ID
	IgnoreNextPacket bool
}

// New builds a fresh transport State and the initial outbound
// messages a host must send: the version banner followed by our
// KEXINIT.
func New(hostKey hostkey.Key, proposal kex.Proposal, banner string, rnd io.Reader) (*State, []message.Message, error) {
	cookie, err := kex.NewCookie(rnd)
	if err != nil {
		return nil, nil, err
	}
	ourKexInit := proposal.Build(cookie, false)
	raw, err := message.Encode(ourKexInit)
	if err != nil {
		return nil, nil, err
	}
	ourKexInit.Raw = raw

	s := &State{
		OurBanner:    banner,
		HostKey:      hostKey,
		Random:       rnd,
		Proposal:     proposal,
		OurKexInit:   ourKexInit,
		InboundKeys:  framer.Plaintext,
		OutboundKeys: framer.Plaintext,
	}
	return s, []message.Message{message.Version{Banner: banner}, ourKexInit}, nil
}

func (s *State) setExpected(id message.ID) { s.Expected = &id }
func (s *State) clearExpected()            { s.Expected = nil }

func unexpected(want message.ID, got message.ID) error {
	return awaerr.Unexpected{Expected: want.String(), Got: got.String()}
}

// Handle dispatches one parsed inbound message and returns whatever
// must be emitted in response. DISCONNECT, IGNORE and DEBUG are always
// admissible regardless of s.Expected, per spec.md §3 invariant 7.
func (s *State) Handle(m message.Message) ([]message.Message, error) {
	switch m.(type) {
	case message.Disconnect, message.Ignore, message.Debug:
		return nil, nil
	}

	if s.Expected != nil && *s.Expected != m.ID() {
		return nil, unexpected(*s.Expected, m.ID())
	}

	switch v := m.(type) {
	case message.Version:
		s.PeerBanner = v.Banner
		s.setExpected(message.IDKexInit)
		return nil, nil

	case message.KexInit:
		neg, err := kex.Negotiate(v, s.Proposal)
		if err != nil {
			return nil, err
		}
		s.PeerKexInit = &v
		s.Negotiated = &neg
		if v.FirstKexPacketFollows && !firstPreferenceMatches(v, s.Proposal) {
			s.IgnoreNextPacket = true
		}
		s.setExpected(message.IDKexDHInit)
		return nil, nil

	case message.KexDHInit:
		return s.handleKexDHInit(v)

	case message.NewKeys:
		return s.handleNewKeys()

	case message.ServiceRequest:
		return s.handleServiceRequest(v)

	default:
		return nil, awaerr.Unhandled
	}
}

// firstPreferenceMatches reports whether the client's first-preference
// kex and host-key algorithms agree with ours, per spec.md §4.3's
// first_kex_packet_follows tie-break.
func firstPreferenceMatches(client message.KexInit, server kex.Proposal) bool {
	if len(client.KexAlgs) == 0 || len(server.KexAlgs) == 0 {
		return false
	}
	if len(client.HostKeyAlgs) == 0 || len(server.HostKeyAlgs) == 0 {
		return false
	}
	return client.KexAlgs[0] == server.KexAlgs[0] && client.HostKeyAlgs[0] == server.HostKeyAlgs[0]
}

func (s *State) handleKexDHInit(v message.KexDHInit) ([]message.Message, error) {
	if s.Negotiated == nil || s.PeerBanner == "" || s.PeerKexInit == nil {
		return nil, unexpected(message.IDKexInit, message.IDKexDHInit)
	}
	if s.PendingIn != nil || s.PendingOut != nil {
		return nil, unexpected(message.IDNewKeys, message.IDKexDHInit)
	}

	method, ok := kex.Registry()[s.Negotiated.Kex]
	if !ok {
		return nil, awaerr.NegotiationFailure
	}
	fBytes, secretBytes, err := method.Exchange(s.Random, v.E.Bytes())
	if err != nil {
		return nil, err
	}
	f := new(big.Int).SetBytes(fBytes)
	k := new(big.Int).SetBytes(secretBytes)

	hostBlob, err := s.HostKey.PublicBlob()
	if err != nil {
		return nil, err
	}

	// PeerBanner holds only the software part; the hash covers the
	// peer's full identification string, as it does OurBanner.
	h := kex.ExchangeHash("SSH-2.0-"+s.PeerBanner, s.OurBanner, s.PeerKexInit.Raw, s.OurKexInit.Raw, hostBlob, v.E, f, k)
	if s.SessionID == nil {
		s.SessionID = h
	}

	sig, err := s.HostKey.Sign(h)
	if err != nil {
		return nil, err
	}

	c2s, s2c := kex.DeriveKeys(k, h, s.SessionID, *s.Negotiated)
	s.PendingIn = &c2s
	s.PendingOut = &s2c

	s.setExpected(message.IDNewKeys)
	return []message.Message{
		message.KexDHReply{HostKeyBlob: hostBlob, F: f, Signature: sig},
		message.NewKeys{},
	}, nil
}

func (s *State) handleNewKeys() ([]message.Message, error) {
	if s.PendingIn == nil {
		return nil, unexpected(message.IDKexDHInit, message.IDNewKeys)
	}
	firstRekey := s.InboundKeys.IsPlaintext()
	s.PendingIn.Seq = s.InboundKeys.Seq
	s.InboundKeys = *s.PendingIn
	s.PendingIn = nil
	if firstRekey {
		s.setExpected(message.IDServiceRequest)
	} else {
		s.clearExpected()
	}
	return nil, nil
}

func (s *State) handleServiceRequest(v message.ServiceRequest) ([]message.Message, error) {
	if v.Name != ServiceUserauth {
		return []message.Message{message.Disconnect{
			Reason: message.ReasonServiceNotAvail,
			Desc:   "service not available",
		}}, nil
	}
	s.setExpected(message.IDUserauthRequest)
	return []message.Message{message.ServiceAccept{Name: v.Name}}, nil
}

// InstallOutbound atomically installs pending_out as the outbound key
// set, preserving its sequence number, and clears the pending slot.
// The session façade calls this exactly when it forwards an emitted
// NEWKEYS message to the wire, so every packet encoded afterward uses
// the new keys.
func (s *State) InstallOutbound() {
	if s.PendingOut == nil {
		return
	}
	s.PendingOut.Seq = s.OutboundKeys.Seq
	s.OutboundKeys = *s.PendingOut
	s.PendingOut = nil
}
