// Package session is the single façade a host program talks to: feed
// it raw inbound bytes, poll it for parsed messages, hand those to
// handle, and encode whatever comes back for the wire. It wires
// together the wire codec, packet framer, key exchange, host key,
// transport state machine and userauth state machine described
// throughout this repository, but performs no I/O itself -- sockets,
// event loops and process spawning remain the host's job (spec.md
// §1). This is the only package that imports the ambient logger, so
// the core state machines stay provably I/O-free.
package session

import (
	"bytes"
	"io"
	"strings"

	"blitter.com/go/awa/awaerr"
	"blitter.com/go/awa/config"
	"blitter.com/go/awa/framer"
	"blitter.com/go/awa/hostkey"
	"blitter.com/go/awa/logger"
	"blitter.com/go/awa/message"
	"blitter.com/go/awa/transport"
	"blitter.com/go/awa/userauth"
)

// Session is the host-facing state: a transport State, a userauth
// State and the as-yet-unprocessed inbound byte buffer (spec.md §3).
type Session struct {
	cfg    config.Config
	random io.Reader

	transport *transport.State
	auth      userauth.State

	inbound    []byte
	bannerSeen bool
}

// New creates a Session bound to a host key and user database, and
// returns the initial outbound messages a host must send: the version
// banner followed by our KEXINIT (spec.md §6).
func New(cfg config.Config, hostKey hostkey.Key, db userauth.DB, random io.Reader) (*Session, []message.Message, error) {
	t, initial, err := transport.New(hostKey, cfg.Proposal(), cfg.Banner, random)
	if err != nil {
		return nil, nil, err
	}
	s := &Session{
		cfg:       cfg,
		random:    random,
		transport: t,
		auth:      userauth.State{DB: db, FailureCap: cfg.FailureCap},
	}
	logger.LogInfo("session: new session created")
	return s, initial, nil
}

// Feed appends raw inbound bytes to the session's buffer.
func (s *Session) Feed(data []byte) {
	s.inbound = append(s.inbound, data...)
}

// Poll attempts to parse exactly one inbound message from the
// buffered bytes. ok is false when more bytes are needed; this is a
// control signal, not an error (spec.md §7's NeedMore).
func (s *Session) Poll() (m message.Message, ok bool, err error) {
	if !s.bannerSeen {
		banner, consumed, found, perr := parseBanner(s.inbound)
		if perr != nil {
			return nil, false, perr
		}
		if !found {
			return nil, false, nil
		}
		s.inbound = s.inbound[consumed:]
		s.bannerSeen = true
		return message.Version{Banner: banner}, true, nil
	}

	for {
		payload, consumed, next, rerr := framer.ReadPacket(s.inbound, s.transport.InboundKeys)
		if rerr != nil {
			if rerr == awaerr.NeedMore {
				return nil, false, nil
			}
			return nil, false, rerr
		}
		s.inbound = s.inbound[consumed:]
		s.transport.InboundKeys = next

		if s.transport.IgnoreNextPacket {
			s.transport.IgnoreNextPacket = false
			logger.LogDebug("session: dropped one packet per first_kex_packet_follows tie-break")
			continue
		}

		msg, derr := message.Decode(payload)
		if derr != nil {
			return nil, false, derr
		}
		return msg, true, nil
	}
}

// Handle dispatches one parsed message to the transport or userauth
// state machine and returns whatever must be emitted.
func (s *Session) Handle(m message.Message) ([]message.Message, error) {
	if _, ok := m.(message.UserauthRequest); ok {
		s.auth.SessionID = s.transport.SessionID
		emitted, err := s.auth.Handle(m.(message.UserauthRequest))
		if err != nil {
			logger.LogWarning("session: userauth error: " + err.Error())
		}
		return emitted, err
	}
	emitted, err := s.transport.Handle(m)
	if err != nil {
		logger.LogWarning("session: transport error: " + err.Error())
	}
	return emitted, err
}

// Encode serializes one message for the wire, applying current
// outbound keys. VERSION never goes through the packet framer: it is
// the raw banner line.
func (s *Session) Encode(m message.Message) ([]byte, error) {
	if v, ok := m.(message.Version); ok {
		return []byte(v.Banner + "\r\n"), nil
	}
	payload, err := message.Encode(m)
	if err != nil {
		return nil, err
	}
	out, next, err := framer.WritePacket(payload, s.transport.OutboundKeys, s.random)
	if err != nil {
		return nil, err
	}
	s.transport.OutboundKeys = next
	if _, ok := m.(message.NewKeys); ok {
		s.transport.InstallOutbound()
	}
	return out, nil
}

// EncodeMany serializes each message in order, short-circuiting on
// the first error.
func (s *Session) EncodeMany(msgs []message.Message) ([]byte, error) {
	var buf bytes.Buffer
	for _, m := range msgs {
		b, err := s.Encode(m)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	return buf.Bytes(), nil
}

// AuthSnapshot exposes the userauth state machine's read-only
// progress view, per SPEC_FULL.md's supplemental Snapshot feature.
func (s *Session) AuthSnapshot() userauth.Snapshot {
	return s.auth.Snapshot()
}

// parseBanner scans buf for a CRLF-terminated SSH-2.0 banner line,
// skipping any number of non-"SSH-" preface lines before it, per
// spec.md §6's banner grammar.
func parseBanner(buf []byte) (banner string, consumed int, found bool, err error) {
	const versionPrefix = "SSH-2.0-"
	offset := 0
	for {
		idx := bytes.Index(buf[offset:], []byte("\r\n"))
		if idx < 0 {
			return "", 0, false, nil
		}
		lineEnd := offset + idx
		line := string(buf[offset:lineEnd])
		next := lineEnd + 2

		if !strings.HasPrefix(line, "SSH-") {
			offset = next
			continue
		}
		if !strings.HasPrefix(line, versionPrefix) {
			return "", 0, false, awaerr.Malformed
		}
		software := line[len(versionPrefix):]
		if software == "" || strings.Contains(software, "-") {
			return "", 0, false, awaerr.Malformed
		}
		return software, next, true, nil
	}
}
