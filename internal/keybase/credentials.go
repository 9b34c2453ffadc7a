package keybase

import (
	"fmt"
	"io"
)

const redacted = "[REDACTED]"

// Secret holds a paperkey. Every formatting path prints [REDACTED], so a
// Secret can sit inside structs that get logged without leaking.
type Secret string

func (s Secret) String() string   { return redacted }
func (s Secret) GoString() string { return `"` + redacted + `"` }

// Format covers every fmt verb, including %x and %q.
func (s Secret) Format(f fmt.State, _ rune) {
	_, _ = io.WriteString(f, redacted)
}

// MarshalText keeps the secret out of JSON and YAML encodings.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// reveal returns the raw secret. It is only used to build the oneshot
// stdin payload.
func (s Secret) reveal() string { return string(s) }

// Credentials identify the keybase account a Session logs in as.
type Credentials struct {
	Username string
	Paperkey Secret
}
