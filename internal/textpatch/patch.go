// Package textpatch implements the positional edit model used by code sessions:
// a patch inserts, deletes or replaces a run of characters at an offset, a change
// set of patches is applied highest offset first, and Diff derives patches from
// two versions of a buffer.
//
// Offsets and lengths count Unicode code points, not bytes.
package textpatch

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	Insert  Kind = "INSERT"
	Delete  Kind = "DELETE"
	Replace Kind = "REPLACE"
)

// ErrInvalidPatch is returned when a patch kind cannot be decoded. Offsets are
// never validated; see Apply.
var ErrInvalidPatch = errors.New("invalid patch")

// ParseKind accepts the wire names case-insensitively.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.ToUpper(strings.TrimSpace(value))) {
	case Insert:
		return Insert, nil
	case Delete:
		return Delete, nil
	case Replace:
		return Replace, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidPatch, value)
	}
}

func (k Kind) Valid() bool {
	return k == Insert || k == Delete || k == Replace
}

// Patch is a single positional edit. Position refers to the buffer as it was
// before this patch is applied.
type Patch struct {
	Kind     Kind   `json:"type"`
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
}

func InsertAt(position int, text string) Patch {
	return Patch{Kind: Insert, Position: position, Text: text}
}

func DeleteAt(position, length int) Patch {
	return Patch{Kind: Delete, Position: position, Length: length}
}

func ReplaceAt(position, length int, text string) Patch {
	return Patch{Kind: Replace, Position: position, Length: length, Text: text}
}

func (p Patch) String() string {
	switch p.Kind {
	case Insert:
		return fmt.Sprintf("insert@%d %q", p.Position, p.Text)
	case Delete:
		return fmt.Sprintf("delete@%d+%d", p.Position, p.Length)
	case Replace:
		return fmt.Sprintf("replace@%d+%d %q", p.Position, p.Length, p.Text)
	default:
		return fmt.Sprintf("%s@%d", p.Kind, p.Position)
	}
}
