package plan

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/frioux/shellquote"
)

// Signature identifies a command across invocations. It is derived from the
// argument vector and the working directory only.
type Signature string

// Short returns the leading 12 hex characters, enough for log fields.
func (s Signature) Short() string {
	if len(s) > 12 {
		return string(s[:12])
	}
	return string(s)
}

// Command is one external process invocation. Values are immutable once
// constructed; use NewCommand.
type Command struct {
	argv  []string
	dir   string
	phase int
	sig   Signature
}

// NewCommand copies argv and computes the signature. dir must be absolute
// for the command to pass Validate.
func NewCommand(argv []string, dir string, phase int) Command {
	a := make([]string, len(argv))
	copy(a, argv)
	return Command{argv: a, dir: dir, phase: phase, sig: signatureOf(a, dir)}
}

// Argv returns a copy of the argument vector.
func (c Command) Argv() []string {
	a := make([]string, len(c.argv))
	copy(a, c.argv)
	return a
}

func (c Command) Dir() string          { return c.dir }
func (c Command) Phase() int           { return c.phase }
func (c Command) Signature() Signature { return c.sig }

// String renders the argv as a shell-quoted line.
func (c Command) String() string {
	if len(c.argv) == 0 {
		return ""
	}
	q, err := shellquote.Quote(c.argv)
	if err != nil {
		return strings.Join(c.argv, " ")
	}
	return q
}

// signatureOf hashes every field with a length prefix so that
// ["a b"] and ["a", "b"] never collide.
func signatureOf(argv []string, dir string) Signature {
	h := sha256.New()
	writeField := func(s string) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(s)))
		_, _ = h.Write(n[:])
		_, _ = h.Write([]byte(s))
	}
	writeField("fabrik.command.v1")
	writeField(dir)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(argv)))
	_, _ = h.Write(n[:])
	for _, a := range argv {
		writeField(a)
	}
	return Signature(hex.EncodeToString(h.Sum(nil)))
}
