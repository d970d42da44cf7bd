// Package devprofile holds the static, process-wide signature-to-device
// table (C3). It is read-only after init and therefore safe to call from
// any goroutine, though in this bridge only the STK500v1 dispatcher ever
// does.
package devprofile

import "fmt"

// DefaultPageBytes is used whenever a target's signature has no entry in
// the table, per spec: "consumers treat None as use default page size of
// 128 bytes and proceed".
const DefaultPageBytes = 128

// Signature is the three-byte (vendor, family, variant) tuple read back
// from a target during ENTER_PROGMODE/READ_SIGN.
type Signature [3]byte

// String renders a signature the way avrdude-style tools log it.
func (s Signature) String() string {
	return fmt.Sprintf("%02x %02x %02x", s[0], s[1], s[2])
}

// Profile describes one known AVR part.
type Profile struct {
	Signature  Signature
	Name       string
	FlashBytes uint32
	PageBytes  uint16
}

// table is the static profile list. PageBytes is always even, as required
// by invariant 1 in spec.md §3.
var table = []Profile{
	{Signature{0x1E, 0x95, 0x0F}, "ATmega328P", 32768, 128},
	{Signature{0x1E, 0x93, 0x0B}, "ATtiny85", 8192, 64},
	{Signature{0x1E, 0x94, 0x06}, "ATmega168", 16384, 128},
	{Signature{0x1E, 0x93, 0x07}, "ATmega8", 8192, 64},
	{Signature{0x1E, 0x98, 0x01}, "ATmega2560", 262144, 256},
	{Signature{0x1E, 0x90, 0x07}, "ATtiny13", 1024, 32},
}

// Lookup returns the profile matching sig by exact equality, and whether
// one was found. A linear scan is sufficient for a table this size.
func Lookup(sig Signature) (Profile, bool) {
	for _, p := range table {
		if p.Signature == sig {
			return p, true
		}
	}
	return Profile{}, false
}

// All returns the full table, for the `avrispbridge devices` inspection
// subcommand. Callers must not mutate the returned slice's backing array
// through the Profile values (they're copies, so this is safe regardless).
func All() []Profile {
	out := make([]Profile, len(table))
	copy(out, table)
	return out
}
