// Package config describes the handful of knobs a host program needs
// to stand up a session: which algorithms to advertise, the banner
// string, and the failed-auth cap. It is a plain struct with a
// Default constructor, in the teacher's flag-friendly style (see
// xspasswd/hkexshd for how the teacher shapes CLI-adjacent config) --
// there is no flag-parsing here, since CLI handling is out of scope
// per spec.md §1.
package config

import (
	"blitter.com/go/awa/framer"
	"blitter.com/go/awa/kex"
)

// Banner is the fixed version string this server advertises, per
// spec.md §6.
const Banner = "SSH-2.0-awa_ssh_0.1"

// FailureCap is the default number of failed userauth attempts after
// which the core refuses further attempts (spec.md §4.6, §9).
const FailureCap = 10

// Config is the set of algorithms and limits a session is built with.
type Config struct {
	Banner      string
	KexAlgs     []string
	HostKeyAlgs []string
	CipherAlgs  []string
	MacAlgs     []string
	CompAlgs    []string
	FailureCap  int
}

// Default advertises the full negotiable name-list this repository
// implements: the mandatory DH group plus both domain-stack kex
// alternates, the mandatory AES cipher plus blowfish/twofish/chacha20/
// cryptmt, and both HMAC choices. A host narrows any of these
// explicitly if it wants a smaller surface.
func Default() Config {
	return Config{
		Banner:      Banner,
		KexAlgs:     kex.PreferenceOrder,
		HostKeyAlgs: []string{"ssh-rsa"},
		CipherAlgs:  framer.SupportedCiphers,
		MacAlgs:     framer.SupportedMacs,
		CompAlgs:    []string{"none"},
		FailureCap:  FailureCap,
	}
}

// Proposal converts Config into the kex.Proposal the transport state
// machine advertises in KEXINIT.
func (c Config) Proposal() kex.Proposal {
	return kex.Proposal{
		KexAlgs:     c.KexAlgs,
		HostKeyAlgs: c.HostKeyAlgs,
		CipherAlgs:  c.CipherAlgs,
		MacAlgs:     c.MacAlgs,
		CompAlgs:    c.CompAlgs,
	}
}
