// Package userdb is a reference, in-memory implementation of the
// userauth.DB collaborator the core is injected with (spec.md §6). It
// is grounded directly on the teacher's auth.go: AuthUserByPasswd's
// bcrypt-hashed-cookie CSV records and VerifyPass's passlib-hashed
// shadow-style records are both supported here as two ways to
// populate a Record's password material, minus the file parsing
// (reading credentials off disk is the host's job, out of scope per
// spec.md §1 -- a host populates a DB in memory however it likes and
// hands it to a session).
package userdb

import (
	"crypto/subtle"

	"github.com/jameskeane/bcrypt"
	passlib "gopkg.in/hlandau/passlib.v1"

	"blitter.com/go/awa/hostkey"
	"blitter.com/go/awa/userauth"
)

func init() {
	passlib.UseDefaults(passlib.Defaults20180601)
}

// AuthorizedKey wraps a hostkey.Key (public-only) as a
// userauth.PublicKey, the form a Record's AuthorizedKeys list takes.
type AuthorizedKey struct {
	Key hostkey.Key
}

func (a AuthorizedKey) CanonicalName() string          { return a.Key.Name() }
func (a AuthorizedKey) Blob() ([]byte, error)           { return a.Key.PublicBlob() }
func (a AuthorizedKey) Verify(data, sig []byte) error   { return a.Key.Verify(data, sig) }

// Record is one account. Exactly one of PasslibHash or
// (BcryptSalt, BcryptCookie) should be set to enable password auth;
// leaving both empty disables it for that user, same as an empty
// authCookie field in the teacher's xs.passwd.
type Record struct {
	Name           string
	PasslibHash    string // e.g. from HashPasswordPasslib, shadow-style
	BcryptSalt     string // e.g. from bcrypt.Salt(), xs.passwd-cookie-style
	BcryptCookie   string
	AuthorizedKeys []AuthorizedKey
}

func (r Record) hasPassword() bool {
	return r.PasslibHash != "" || (r.BcryptSalt != "" && r.BcryptCookie != "")
}

// HashPasswordPasslib produces a passlib-formatted hash for
// Record.PasslibHash, mirroring how the teacher's shadow file already
// arrives pre-hashed.
func HashPasswordPasslib(plaintext string) (string, error) {
	return passlib.Hash(plaintext)
}

// NewBcryptCookie produces a fresh (salt, cookie) pair for
// Record.BcryptSalt/BcryptCookie, mirroring the xs.passwd record the
// teacher's AuthUserByPasswd compares against.
func NewBcryptCookie(plaintext string) (salt, cookie string, err error) {
	salt, err = bcrypt.Salt()
	if err != nil {
		return "", "", err
	}
	cookie, err = bcrypt.Hash(plaintext, salt)
	if err != nil {
		return "", "", err
	}
	return salt, cookie, nil
}

// dummyPasslibHash lets VerifyPassword run a real verify call against
// a nonexistent user at the same cost as a hit, the way the teacher's
// AuthUserByPasswd substitutes a "$nosuchuser$" decoy record rather
// than short-circuiting a lookup miss.
var dummyPasslibHash string

func init() {
	h, err := passlib.Hash("this-password-never-matches-any-account")
	if err == nil {
		dummyPasslibHash = h
	}
}

// DB is an in-memory, immutable-once-built user database. Add is only
// ever called by the host while constructing it; the core (via the
// userauth.DB/userauth.PasswordVerifier interfaces) only ever reads it.
type DB struct {
	records map[string]Record
}

// New returns an empty DB ready for Add calls.
func New() *DB {
	return &DB{records: make(map[string]Record)}
}

// Add inserts or replaces one account record.
func (d *DB) Add(r Record) {
	d.records[r.Name] = r
}

// Lookup implements userauth.DB.
func (d *DB) Lookup(name string) (userauth.User, bool) {
	r, ok := d.records[name]
	if !ok {
		return userauth.User{}, false
	}
	keys := make([]userauth.PublicKey, len(r.AuthorizedKeys))
	for i, k := range r.AuthorizedKeys {
		keys[i] = k
	}
	return userauth.User{Name: r.Name, HasPasswd: r.hasPassword(), PublicKeys: keys}, true
}

// VerifyPassword implements userauth.PasswordVerifier: passlib-hashed
// records are checked with passlib.VerifyNoUpgrade (as the teacher's
// VerifyPass checks a shadow-file hash); bcrypt-cookie records are
// checked by recomputing the hash with the stored salt and comparing,
// as the teacher's AuthUserByPasswd does against xs.passwd.
func (d *DB) VerifyPassword(name, given string) (bool, error) {
	r, ok := d.records[name]
	if !ok {
		_ = passlib.VerifyNoUpgrade(given, dummyPasslibHash)
		return false, nil
	}
	switch {
	case r.PasslibHash != "":
		if err := passlib.VerifyNoUpgrade(given, r.PasslibHash); err != nil {
			return false, nil
		}
		return true, nil
	case r.BcryptSalt != "" && r.BcryptCookie != "":
		computed, err := bcrypt.Hash(given, r.BcryptSalt)
		if err != nil {
			return false, nil
		}
		// unlike the teacher's plain == compare in AuthUserByPasswd,
		// this is constant-time per spec.md §9.
		return subtle.ConstantTimeCompare([]byte(computed), []byte(r.BcryptCookie)) == 1, nil
	default:
		_ = passlib.VerifyNoUpgrade(given, dummyPasslibHash)
		return false, nil
	}
}
