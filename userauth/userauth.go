// Package userauth implements the SSH user-authentication state
// machine: USERAUTH_REQUEST dispatch, public-key probe/verify,
// password checking, failure counting and the Done/InProgress/Preauth
// lifecycle. It is deliberately independent of the transport package
// (see transport.go's package comment) so each state machine can be
// driven and tested on its own, in the teacher's style of keeping
// wire/crypto concerns (hkexnet) separate from credential checking
// (auth.go).
package userauth

import (
	"crypto/subtle"

	"blitter.com/go/awa/awaerr"
	"blitter.com/go/awa/message"
)

// failureCap is the number of failed attempts after which the core
// refuses to process any further USERAUTH_REQUEST, per spec.md §9.
const failureCap = 10

// Phase tags the three shapes userauth state can take.
type Phase int

const (
	Preauth Phase = iota
	InProgress
	Done
)

// PublicKey is one entry in a User's authorized key list. Canonical
// name is the ssh-name the key's algorithm advertises (e.g.
// "ssh-rsa"); Verify checks a signature over arbitrary data.
type PublicKey interface {
	CanonicalName() string
	Blob() ([]byte, error)
	Verify(data, signature []byte) error
}

// User is the injected collaborator's view of one account: a name, an
// optional password, and zero or more authorized public keys. The
// user database is read-only from this package's perspective (§6).
type User struct {
	Name       string
	Password   string
	HasPasswd  bool // false means password auth is never accepted
	PublicKeys []PublicKey
}

// DB looks up a user by name. A zero User plus ok=false means no such
// user; the core treats "unknown user" the same as "wrong credential"
// so probing usernames gains no information.
type DB interface {
	Lookup(name string) (User, bool)
}

// State is the userauth state machine's mutable data. SessionID must
// be set (by the transport state machine, at KEXDH_INIT) before any
// USERAUTH_REQUEST is processed.
type State struct {
	SessionID []byte
	DB        DB

	// FailureCap overrides the number of failed attempts tolerated
	// before AuthExhausted is surfaced; zero means failureCap (the
	// spec.md §9 default of 10).
	FailureCap int

	phase       Phase
	username    string
	service     string
	failedCount int
}

func (s *State) failureCap() int {
	if s.FailureCap > 0 {
		return s.FailureCap
	}
	return failureCap
}

// Snapshot is a read-only view of userauth progress, for hosts that
// want to log or expose metrics without being able to mutate state.
// This has no effect on spec.md's semantics; it only exposes what the
// state machine already tracks internally.
type Snapshot struct {
	Phase       Phase
	Username    string
	Service     string
	FailedCount int
}

// Snapshot returns the current read-only view of s.
func (s *State) Snapshot() Snapshot {
	return Snapshot{Phase: s.phase, Username: s.username, Service: s.service, FailedCount: s.failedCount}
}

// RequiredService is the only service name USERAUTH_REQUEST may name.
const RequiredService = "ssh-connection"

// Handle processes one USERAUTH_REQUEST and returns whatever must be
// emitted. Per spec.md §4.6 it requires session_id to already be set.
func (s *State) Handle(req message.UserauthRequest) ([]message.Message, error) {
	if len(s.SessionID) == 0 {
		return nil, awaerr.Unexpected{Expected: "session_id set before USERAUTH_REQUEST", Got: "session_id unset"}
	}
	if req.Service != RequiredService {
		return nil, awaerr.Unexpected{Expected: RequiredService, Got: req.Service}
	}

	if s.phase == Done {
		return nil, nil
	}

	if s.phase == Preauth {
		s.phase = InProgress
		s.username = req.User
		s.service = req.Service
		s.failedCount = 0
	} else {
		if s.failedCount >= s.failureCap() {
			return nil, awaerr.AuthExhausted
		}
		if req.User != s.username || req.Service != s.service {
			return []message.Message{message.Disconnect{
				Reason: message.ReasonProtocolError,
				Desc:   "username or service changed during authentication",
			}}, nil
		}
	}

	return s.evaluate(req)
}

func (s *State) evaluate(req message.UserauthRequest) ([]message.Message, error) {
	switch m := req.Method.(type) {
	case message.Publickey:
		return s.evaluatePublickey(req, m)
	case message.Password:
		return s.evaluatePassword(req, m)
	default:
		s.failedCount++
		return failureResponse(), nil
	}
}

func (s *State) evaluatePublickey(req message.UserauthRequest, m message.Publickey) ([]message.Message, error) {
	if m.Signature == nil {
		// probe
		user, ok := s.DB.Lookup(req.User)
		if ok && keyAuthorized(user, m.Algo, m.Blob) {
			return []message.Message{message.UserauthPKOK{Algo: m.Algo, Blob: m.Blob}}, nil
		}
		s.failedCount++
		return failureResponse(), nil
	}

	user, ok := s.DB.Lookup(req.User)
	if !ok {
		s.failedCount++
		return failureResponse(), nil
	}
	key := findKey(user, m.Algo, m.Blob)
	if key == nil {
		s.failedCount++
		return failureResponse(), nil
	}
	unsigned := message.SignedBlob(s.SessionID, req.User, req.Service, m.Algo, m.Blob)
	if err := key.Verify(unsigned, m.Signature); err != nil {
		s.failedCount++
		return failureResponse(), nil
	}
	s.phase = Done
	return []message.Message{message.UserauthSuccess{}}, nil
}

// PasswordVerifier is an optional extension a DB may implement to run
// its own verification (e.g. bcrypt/passlib against a shadow-style
// store, as the reference userdb package does) instead of the
// constant-time compare below against a plaintext User.Password.
// Lookup stays name-only per spec.md §6, so a DB that needs the
// attempted password to do its own hashing implements this interface
// rather than returning a secret for the core to compare directly.
type PasswordVerifier interface {
	VerifyPassword(name, given string) (bool, error)
}

func (s *State) evaluatePassword(req message.UserauthRequest, m message.Password) ([]message.Message, error) {
	if m.NewPassword != nil {
		s.failedCount++
		return failureResponse(), nil
	}

	if pv, ok := s.DB.(PasswordVerifier); ok {
		valid, err := pv.VerifyPassword(req.User, m.Pw)
		if err != nil || !valid {
			s.failedCount++
			return failureResponse(), nil
		}
		s.phase = Done
		return []message.Message{message.UserauthSuccess{}}, nil
	}

	user, ok := s.DB.Lookup(req.User)
	if !ok || !user.HasPasswd {
		s.failedCount++
		return failureResponse(), nil
	}
	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(m.Pw)) != 1 {
		s.failedCount++
		return failureResponse(), nil
	}
	s.phase = Done
	return []message.Message{message.UserauthSuccess{}}, nil
}

func keyAuthorized(user User, algo string, blob []byte) bool {
	return findKey(user, algo, blob) != nil
}

func findKey(user User, algo string, blob []byte) PublicKey {
	for _, k := range user.PublicKeys {
		if k.CanonicalName() != algo {
			continue
		}
		kb, err := k.Blob()
		if err != nil || subtle.ConstantTimeCompare(kb, blob) != 1 {
			continue
		}
		return k
	}
	return nil
}

func failureResponse() []message.Message {
	return []message.Message{message.UserauthFailure{
		Continue:       []string{"publickey", "password"},
		PartialSuccess: false,
	}}
}
