package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// IDSize is the byte length of every identifier.
const IDSize = 32

// EntityID is the 32-byte identifier underlying every role-specific id.
// Equality and ordering are defined on the byte content.
type EntityID [IDSize]byte

// ContentID is the hash of a value's canonical encoding.
type ContentID = EntityID

// Role-specific wrappers. Conversions between them are explicit.
type (
	ResourceID EntityID
	EffectID   EntityID
	ExprID     EntityID
	NodeID     EntityID
	DomainID   EntityID
	CircuitID  EntityID
	ProgramID  EntityID
)

// Hex renders the id as 64 lowercase hex characters.
func (id EntityID) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer.
func (id EntityID) String() string {
	return id.Hex()
}

// Short returns the first 12 hex characters, for logs and text output.
func (id EntityID) Short() string {
	return id.Hex()[:12]
}

// IsZero reports whether every byte is zero.
func (id EntityID) IsZero() bool {
	return id == EntityID{}
}

// Compare orders ids by byte content.
func (id EntityID) Compare(other EntityID) int {
	return bytes.Compare(id[:], other[:])
}

// Bytes returns a copy of the id bytes.
func (id EntityID) Bytes() []byte {
	out := make([]byte, IDSize)
	copy(out, id[:])
	return out
}

// MarshalText renders the id as hex for JSON and YAML dumps.
func (id EntityID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

// UnmarshalText parses a hex id.
func (id *EntityID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID parses a 64-character lowercase hex string.
// Uppercase digits, wrong lengths and non-hex characters are rejected.
func ParseID(s string) (EntityID, error) {
	var id EntityID
	if len(s) != IDSize*2 {
		return id, &DecodeError{Message: fmt.Sprintf("id must be %d hex characters, got %d", IDSize*2, len(s))}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return id, &DecodeError{Offset: i, Message: fmt.Sprintf("invalid hex character %q", c)}
		}
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, &DecodeError{Message: err.Error()}
	}
	return id, nil
}

// MustParseID is like ParseID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseID(s string) EntityID {
	id, err := ParseID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ResourceID) Entity() EntityID { return EntityID(id) }
func (id ResourceID) String() string   { return EntityID(id).Hex() }
func (id ResourceID) Short() string    { return EntityID(id).Short() }

func (id EffectID) Entity() EntityID { return EntityID(id) }
func (id EffectID) String() string   { return EntityID(id).Hex() }
func (id EffectID) Short() string    { return EntityID(id).Short() }

func (id ExprID) Entity() EntityID { return EntityID(id) }
func (id ExprID) String() string   { return EntityID(id).Hex() }
func (id ExprID) Short() string    { return EntityID(id).Short() }

func (id NodeID) Entity() EntityID { return EntityID(id) }
func (id NodeID) String() string   { return EntityID(id).Hex() }
func (id NodeID) Short() string    { return EntityID(id).Short() }
func (id NodeID) IsZero() bool     { return EntityID(id).IsZero() }

func (id DomainID) Entity() EntityID { return EntityID(id) }
func (id DomainID) String() string   { return EntityID(id).Hex() }
func (id DomainID) Short() string    { return EntityID(id).Short() }

func (id CircuitID) Entity() EntityID { return EntityID(id) }
func (id CircuitID) String() string   { return EntityID(id).Hex() }
func (id CircuitID) Short() string    { return EntityID(id).Short() }

func (id ProgramID) Entity() EntityID { return EntityID(id) }
func (id ProgramID) String() string   { return EntityID(id).Hex() }
func (id ProgramID) Short() string    { return EntityID(id).Short() }
