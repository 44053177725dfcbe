// Package prune describes retention policies for execution side-products.
// A batch executor consults them to decide whether receipts of an old
// enough block still need to be kept in the outcome.
package prune

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type kind uint8

const (
	kindKeep kind = iota
	kindFull
	kindDistance
	kindBefore
)

// Mode is one retention policy. The zero value keeps everything.
//
//   - Full prunes unconditionally.
//   - Distance(n) keeps the n most recent blocks below the tip.
//   - Before(b) prunes everything below block b.
type Mode struct {
	kind  kind
	value uint64
}

func Full() Mode                  { return Mode{kind: kindFull} }
func Distance(blocks uint64) Mode { return Mode{kind: kindDistance, value: blocks} }
func Before(block uint64) Mode    { return Mode{kind: kindBefore, value: block} }

// ShouldPrune reports whether data of the given block is outside the
// retention window, judged against the chain tip.
func (m Mode) ShouldPrune(block, tip uint64) bool {
	switch m.kind {
	case kindFull:
		return true
	case kindDistance:
		if m.value > tip {
			return false
		}
		return block < tip-m.value
	case kindBefore:
		return block < m.value
	}
	return false
}

func (m Mode) String() string {
	switch m.kind {
	case kindFull:
		return "full"
	case kindDistance:
		return "distance:" + strconv.FormatUint(m.value, 10)
	case kindBefore:
		return "before:" + strconv.FormatUint(m.value, 10)
	}
	return "keep"
}

// ParseMode parses the textual forms produced by String: "keep", "full",
// "distance:N" and "before:N".
func ParseMode(s string) (Mode, error) {
	switch {
	case s == "keep" || s == "":
		return Mode{}, nil
	case s == "full":
		return Full(), nil
	case strings.HasPrefix(s, "distance:"):
		n, err := strconv.ParseUint(strings.TrimPrefix(s, "distance:"), 10, 64)
		if err != nil {
			return Mode{}, fmt.Errorf("invalid prune mode %q: %v", s, err)
		}
		return Distance(n), nil
	case strings.HasPrefix(s, "before:"):
		n, err := strconv.ParseUint(strings.TrimPrefix(s, "before:"), 10, 64)
		if err != nil {
			return Mode{}, fmt.Errorf("invalid prune mode %q: %v", s, err)
		}
		return Before(n), nil
	}
	return Mode{}, fmt.Errorf("invalid prune mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) MarshalYAML() (interface{}, error) { return m.String(), nil }

func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return m.UnmarshalText([]byte(s))
}

// Modes is the retention configuration a batch executor runs under. Nil
// fields retain everything. Configuration files map straight onto it:
//
//	receipts: distance:128
//	account_history: full
type Modes struct {
	Receipts       *Mode `json:"receipts,omitempty" yaml:"receipts,omitempty"`
	AccountHistory *Mode `json:"account_history,omitempty" yaml:"account_history,omitempty"`
	StorageHistory *Mode `json:"storage_history,omitempty" yaml:"storage_history,omitempty"`
}

// ShouldPruneReceipts reports whether receipts of the block can be
// dropped, given the chain tip.
func (m Modes) ShouldPruneReceipts(block, tip uint64) bool {
	return m.Receipts != nil && m.Receipts.ShouldPrune(block, tip)
}
