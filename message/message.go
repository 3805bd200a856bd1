// Package message defines the closed set of SSH messages the core
// produces or accepts, and their wire codecs. Message ids follow the
// numeric assignments of the real protocol so fixtures captured from
// an actual SSH peer decode the same way here.
package message

import (
	"math/big"

	"blitter.com/go/awa/awaerr"
	"blitter.com/go/awa/wire"
)

// ID identifies a message's wire type. Version has no wire id: it is
// synthesized by the banner exchange, never framed as a binary packet.
type ID int

const (
	IDVersion ID = iota // synthetic
	IDDisconnect
	IDIgnore
	IDDebug
	IDServiceRequest
	IDServiceAccept
	IDKexInit
	IDNewKeys
	IDKexDHInit
	IDKexDHReply
	IDUserauthRequest
	IDUserauthFailure
	IDUserauthSuccess
	IDUserauthPKOK
)

// Wire byte values for each ID, matching the real protocol's
// assignments (RFC 4253 / 4252).
const (
	wireDisconnect      = 1
	wireIgnore          = 2
	wireDebug           = 4
	wireServiceRequest  = 5
	wireServiceAccept   = 6
	wireKexInit         = 20
	wireNewKeys         = 21
	wireKexDHInit       = 30
	wireKexDHReply      = 31
	wireUserauthRequest = 50
	wireUserauthFailure = 51
	wireUserauthSuccess = 52
	wireUserauthPKOK    = 60
)

// Disconnect reason codes (subset this core emits/expects).
const (
	ReasonProtocolError      = 2
	ReasonServiceNotAvail    = 7
	ReasonHostNotAllowedAuth = 1
)

// Message is the closed tagged variant every transport/userauth
// message implements.
type Message interface {
	ID() ID
}

// String returns a human name for an ID, used in error messages.
func (id ID) String() string {
	switch id {
	case IDVersion:
		return "VERSION"
	case IDDisconnect:
		return "DISCONNECT"
	case IDIgnore:
		return "IGNORE"
	case IDDebug:
		return "DEBUG"
	case IDServiceRequest:
		return "SERVICE_REQUEST"
	case IDServiceAccept:
		return "SERVICE_ACCEPT"
	case IDKexInit:
		return "KEXINIT"
	case IDNewKeys:
		return "NEWKEYS"
	case IDKexDHInit:
		return "KEXDH_INIT"
	case IDKexDHReply:
		return "KEXDH_REPLY"
	case IDUserauthRequest:
		return "USERAUTH_REQUEST"
	case IDUserauthFailure:
		return "USERAUTH_FAILURE"
	case IDUserauthSuccess:
		return "USERAUTH_SUCCESS"
	case IDUserauthPKOK:
		return "USERAUTH_PK_OK"
	default:
		return "UNKNOWN"
	}
}

// Version is the synthetic banner-exchange message.
type Version struct{ Banner string }

func (Version) ID() ID { return IDVersion }

// Disconnect notifies the peer the connection is being terminated.
type Disconnect struct {
	Reason uint32
	Desc   string
	Lang   string
}

func (Disconnect) ID() ID { return IDDisconnect }

// Ignore carries an opaque payload that must be discarded.
type Ignore struct{ Data []byte }

func (Ignore) ID() ID { return IDIgnore }

// Debug carries a human-readable diagnostic string.
type Debug struct {
	AlwaysDisplay bool
	Text          string
	Lang          string
}

func (Debug) ID() ID { return IDDebug }

// ServiceRequest asks the peer to start a named service.
type ServiceRequest struct{ Name string }

func (ServiceRequest) ID() ID { return IDServiceRequest }

// ServiceAccept confirms a requested service has started.
type ServiceAccept struct{ Name string }

func (ServiceAccept) ID() ID { return IDServiceAccept }

// KexInit carries both sides' proposed algorithm name-lists.
//
// Raw holds the exact bytes of the payload (message id included) as
// received/sent, since the exchange hash is computed over the raw
// KEXINIT payloads rather than a re-serialization of the parsed form.
type KexInit struct {
	Cookie                  [16]byte
	KexAlgs                 []string
	HostKeyAlgs             []string
	CiphAlgsClientToServer  []string
	CiphAlgsServerToClient  []string
	MacAlgsClientToServer   []string
	MacAlgsServerToClient   []string
	CompAlgsClientToServer  []string
	CompAlgsServerToClient  []string
	LangsClientToServer     []string
	LangsServerToClient     []string
	FirstKexPacketFollows   bool
	Raw                     []byte
}

func (KexInit) ID() ID { return IDKexInit }

// NewKeys signals that newly derived keys take effect on the next
// packet sent/received in that direction.
type NewKeys struct{}

func (NewKeys) ID() ID { return IDNewKeys }

// KexDHInit carries the client's DH public value e.
type KexDHInit struct{ E *big.Int }

func (KexDHInit) ID() ID { return IDKexDHInit }

// KexDHReply carries the server's host key, DH public value f, and the
// signature over the exchange hash.
type KexDHReply struct {
	HostKeyBlob []byte
	F           *big.Int
	Signature   []byte
}

func (KexDHReply) ID() ID { return IDKexDHReply }

// AuthMethod is the closed variant of userauth methods.
type AuthMethod interface {
	methodName() string
}

// Publickey is a probe (Signature == nil) or a signed assertion
// (Signature != nil) of key ownership.
type Publickey struct {
	Algo      string
	Blob      []byte
	Signature []byte // nil => probe
}

func (Publickey) methodName() string { return "publickey" }

// Password is a plain password auth attempt. NewPassword is non-nil
// only for the (always-rejected) change-of-password variant.
type Password struct {
	Pw          string
	NewPassword *string
}

func (Password) methodName() string { return "password" }

// HostBased is always rejected by this core.
type HostBased struct{}

func (HostBased) methodName() string { return "hostbased" }

// None is the "none" method, used by clients to discover acceptable
// methods; always rejected.
type None struct{}

func (None) methodName() string { return "none" }

// UserauthRequest is a client's authentication attempt.
type UserauthRequest struct {
	User    string
	Service string
	Method  AuthMethod
}

func (UserauthRequest) ID() ID { return IDUserauthRequest }

// UserauthFailure lists methods the peer may still try.
type UserauthFailure struct {
	Continue       []string
	PartialSuccess bool
}

func (UserauthFailure) ID() ID { return IDUserauthFailure }

// UserauthSuccess ends the userauth phase successfully.
type UserauthSuccess struct{}

func (UserauthSuccess) ID() ID { return IDUserauthSuccess }

// UserauthPKOK is the server's reply to a publickey probe.
type UserauthPKOK struct {
	Algo string
	Blob []byte
}

func (UserauthPKOK) ID() ID { return IDUserauthPKOK }

// Encode serializes a Message's payload (message id byte + body),
// ready to be handed to the packet framer.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case Disconnect:
		out := []byte{wireDisconnect}
		out = append(out, wire.EncodeUint32(v.Reason)...)
		out = append(out, wire.EncodeString([]byte(v.Desc))...)
		out = append(out, wire.EncodeString([]byte(v.Lang))...)
		return out, nil
	case Ignore:
		out := []byte{wireIgnore}
		out = append(out, wire.EncodeString(v.Data)...)
		return out, nil
	case Debug:
		out := []byte{wireDebug}
		out = append(out, wire.EncodeBool(v.AlwaysDisplay)...)
		out = append(out, wire.EncodeString([]byte(v.Text))...)
		out = append(out, wire.EncodeString([]byte(v.Lang))...)
		return out, nil
	case ServiceRequest:
		out := []byte{wireServiceRequest}
		out = append(out, wire.EncodeString([]byte(v.Name))...)
		return out, nil
	case ServiceAccept:
		out := []byte{wireServiceAccept}
		out = append(out, wire.EncodeString([]byte(v.Name))...)
		return out, nil
	case KexInit:
		return encodeKexInit(v), nil
	case NewKeys:
		return []byte{wireNewKeys}, nil
	case KexDHInit:
		out := []byte{wireKexDHInit}
		out = append(out, wire.EncodeMPInt(v.E)...)
		return out, nil
	case KexDHReply:
		out := []byte{wireKexDHReply}
		out = append(out, wire.EncodeString(v.HostKeyBlob)...)
		out = append(out, wire.EncodeMPInt(v.F)...)
		out = append(out, wire.EncodeString(v.Signature)...)
		return out, nil
	case UserauthRequest:
		return encodeUserauthRequest(v)
	case UserauthFailure:
		out := []byte{wireUserauthFailure}
		out = append(out, wire.EncodeNameList(v.Continue)...)
		out = append(out, wire.EncodeBool(v.PartialSuccess)...)
		return out, nil
	case UserauthSuccess:
		return []byte{wireUserauthSuccess}, nil
	case UserauthPKOK:
		out := []byte{wireUserauthPKOK}
		out = append(out, wire.EncodeString([]byte(v.Algo))...)
		out = append(out, wire.EncodeString(v.Blob)...)
		return out, nil
	default:
		return nil, awaerr.Unhandled
	}
}

func encodeKexInit(v KexInit) []byte {
	out := []byte{wireKexInit}
	out = append(out, v.Cookie[:]...)
	out = append(out, wire.EncodeNameList(v.KexAlgs)...)
	out = append(out, wire.EncodeNameList(v.HostKeyAlgs)...)
	out = append(out, wire.EncodeNameList(v.CiphAlgsClientToServer)...)
	out = append(out, wire.EncodeNameList(v.CiphAlgsServerToClient)...)
	out = append(out, wire.EncodeNameList(v.MacAlgsClientToServer)...)
	out = append(out, wire.EncodeNameList(v.MacAlgsServerToClient)...)
	out = append(out, wire.EncodeNameList(v.CompAlgsClientToServer)...)
	out = append(out, wire.EncodeNameList(v.CompAlgsServerToClient)...)
	out = append(out, wire.EncodeNameList(v.LangsClientToServer)...)
	out = append(out, wire.EncodeNameList(v.LangsServerToClient)...)
	out = append(out, wire.EncodeBool(v.FirstKexPacketFollows)...)
	out = append(out, wire.EncodeUint32(0)...) // reserved
	return out
}

func encodeUserauthRequest(v UserauthRequest) ([]byte, error) {
	out := []byte{wireUserauthRequest}
	out = append(out, wire.EncodeString([]byte(v.User))...)
	out = append(out, wire.EncodeString([]byte(v.Service))...)
	switch m := v.Method.(type) {
	case Publickey:
		out = append(out, wire.EncodeString([]byte("publickey"))...)
		out = append(out, wire.EncodeBool(m.Signature != nil)...)
		out = append(out, wire.EncodeString([]byte(m.Algo))...)
		out = append(out, wire.EncodeString(m.Blob)...)
		if m.Signature != nil {
			out = append(out, wire.EncodeString(m.Signature)...)
		}
	case Password:
		out = append(out, wire.EncodeString([]byte("password"))...)
		out = append(out, wire.EncodeBool(m.NewPassword != nil)...)
		out = append(out, wire.EncodeString([]byte(m.Pw))...)
		if m.NewPassword != nil {
			out = append(out, wire.EncodeString([]byte(*m.NewPassword))...)
		}
	case HostBased:
		out = append(out, wire.EncodeString([]byte("hostbased"))...)
	case None:
		out = append(out, wire.EncodeString([]byte("none"))...)
	default:
		return nil, awaerr.Unhandled
	}
	return out, nil
}

// Decode parses one message from a framer-delivered payload. Payload
// must be exactly one packet's decrypted payload (no trailing bytes
// beyond padding, which the framer has already stripped).
func Decode(payload []byte) (Message, error) {
	if len(payload) < 1 {
		return nil, awaerr.Malformed
	}
	id, body := payload[0], payload[1:]
	switch id {
	case wireDisconnect:
		reason, rest, err := wire.DecodeUint32(body)
		if err != nil {
			return nil, err
		}
		desc, rest, err := wire.DecodeString(rest)
		if err != nil {
			return nil, err
		}
		lang, _, err := wire.DecodeString(rest)
		if err != nil {
			return nil, err
		}
		return Disconnect{Reason: reason, Desc: string(desc), Lang: string(lang)}, nil
	case wireIgnore:
		data, _, err := wire.DecodeString(body)
		if err != nil {
			return nil, err
		}
		return Ignore{Data: data}, nil
	case wireDebug:
		always, rest, err := wire.DecodeBool(body)
		if err != nil {
			return nil, err
		}
		text, rest, err := wire.DecodeString(rest)
		if err != nil {
			return nil, err
		}
		lang, _, err := wire.DecodeString(rest)
		if err != nil {
			return nil, err
		}
		return Debug{AlwaysDisplay: always, Text: string(text), Lang: string(lang)}, nil
	case wireServiceRequest:
		name, _, err := wire.DecodeString(body)
		if err != nil {
			return nil, err
		}
		return ServiceRequest{Name: string(name)}, nil
	case wireServiceAccept:
		name, _, err := wire.DecodeString(body)
		if err != nil {
			return nil, err
		}
		return ServiceAccept{Name: string(name)}, nil
	case wireKexInit:
		return decodeKexInit(payload)
	case wireNewKeys:
		return NewKeys{}, nil
	case wireKexDHInit:
		e, _, err := wire.DecodeMPInt(body)
		if err != nil {
			return nil, err
		}
		return KexDHInit{E: e}, nil
	case wireKexDHReply:
		hk, rest, err := wire.DecodeString(body)
		if err != nil {
			return nil, err
		}
		f, rest, err := wire.DecodeMPInt(rest)
		if err != nil {
			return nil, err
		}
		sig, _, err := wire.DecodeString(rest)
		if err != nil {
			return nil, err
		}
		return KexDHReply{HostKeyBlob: hk, F: f, Signature: sig}, nil
	case wireUserauthRequest:
		return decodeUserauthRequest(body)
	case wireUserauthFailure:
		cont, rest, err := wire.DecodeNameList(body)
		if err != nil {
			return nil, err
		}
		partial, _, err := wire.DecodeBool(rest)
		if err != nil {
			return nil, err
		}
		return UserauthFailure{Continue: cont, PartialSuccess: partial}, nil
	case wireUserauthSuccess:
		return UserauthSuccess{}, nil
	case wireUserauthPKOK:
		algo, rest, err := wire.DecodeString(body)
		if err != nil {
			return nil, err
		}
		blob, _, err := wire.DecodeString(rest)
		if err != nil {
			return nil, err
		}
		return UserauthPKOK{Algo: string(algo), Blob: blob}, nil
	default:
		return nil, awaerr.Unhandled
	}
}

func decodeKexInit(payload []byte) (Message, error) {
	body := payload[1:]
	if len(body) < 16 {
		return nil, awaerr.Malformed
	}
	var k KexInit
	copy(k.Cookie[:], body[:16])
	rest := body[16:]
	var err error
	fields := []*[]string{
		&k.KexAlgs, &k.HostKeyAlgs,
		&k.CiphAlgsClientToServer, &k.CiphAlgsServerToClient,
		&k.MacAlgsClientToServer, &k.MacAlgsServerToClient,
		&k.CompAlgsClientToServer, &k.CompAlgsServerToClient,
		&k.LangsClientToServer, &k.LangsServerToClient,
	}
	for _, f := range fields {
		*f, rest, err = wire.DecodeNameList(rest)
		if err != nil {
			return nil, err
		}
	}
	k.FirstKexPacketFollows, rest, err = wire.DecodeBool(rest)
	if err != nil {
		return nil, err
	}
	_, _, err = wire.DecodeUint32(rest)
	if err != nil {
		return nil, err
	}
	k.Raw = append([]byte(nil), payload...)
	return k, nil
}

func decodeUserauthRequest(body []byte) (Message, error) {
	user, rest, err := wire.DecodeString(body)
	if err != nil {
		return nil, err
	}
	service, rest, err := wire.DecodeString(rest)
	if err != nil {
		return nil, err
	}
	methodName, rest, err := wire.DecodeString(rest)
	if err != nil {
		return nil, err
	}
	var method AuthMethod
	switch string(methodName) {
	case "publickey":
		hasSig, r2, err := wire.DecodeBool(rest)
		if err != nil {
			return nil, err
		}
		algo, r2, err := wire.DecodeString(r2)
		if err != nil {
			return nil, err
		}
		blob, r2, err := wire.DecodeString(r2)
		if err != nil {
			return nil, err
		}
		pk := Publickey{Algo: string(algo), Blob: blob}
		if hasSig {
			sig, _, err := wire.DecodeString(r2)
			if err != nil {
				return nil, err
			}
			pk.Signature = sig
		}
		method = pk
	case "password":
		hasNew, r2, err := wire.DecodeBool(rest)
		if err != nil {
			return nil, err
		}
		pw, r2, err := wire.DecodeString(r2)
		if err != nil {
			return nil, err
		}
		p := Password{Pw: string(pw)}
		if hasNew {
			newpw, _, err := wire.DecodeString(r2)
			if err != nil {
				return nil, err
			}
			s := string(newpw)
			p.NewPassword = &s
		}
		method = p
	case "hostbased":
		method = HostBased{}
	case "none":
		method = None{}
	default:
		return nil, awaerr.Unhandled
	}
	return UserauthRequest{User: string(user), Service: string(service), Method: method}, nil
}

// SignedBlob reconstructs the exact byte string a publickey userauth
// signature is computed over, per RFC 4252 §7.
func SignedBlob(sessionID []byte, user, service, algo string, blob []byte) []byte {
	out := wire.EncodeString(sessionID)
	out = append(out, wireUserauthRequest)
	out = append(out, wire.EncodeString([]byte(user))...)
	out = append(out, wire.EncodeString([]byte(service))...)
	out = append(out, wire.EncodeString([]byte("publickey"))...)
	out = append(out, wire.EncodeBool(true)...)
	out = append(out, wire.EncodeString([]byte(algo))...)
	out = append(out, wire.EncodeString(blob)...)
	return out
}
