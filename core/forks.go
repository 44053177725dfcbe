package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

// Spec identifies the execution rule set active at a block. Values are
// ordered, so fork gates read as comparisons: spec >= SpecCancun.
type Spec uint8

const (
	SpecFrontier Spec = iota
	SpecHomestead
	SpecTangerine
	SpecSpuriousDragon
	SpecByzantium
	SpecConstantinople
	SpecPetersburg
	SpecIstanbul
	SpecBerlin
	SpecLondon
	SpecParis
	SpecShanghai
	SpecCancun
	SpecPrague
)

// AtLeast reports whether s includes the rules introduced by other.
func (s Spec) AtLeast(other Spec) bool { return s >= other }

func (s Spec) String() string {
	switch s {
	case SpecFrontier:
		return "frontier"
	case SpecHomestead:
		return "homestead"
	case SpecTangerine:
		return "tangerine"
	case SpecSpuriousDragon:
		return "spurious-dragon"
	case SpecByzantium:
		return "byzantium"
	case SpecConstantinople:
		return "constantinople"
	case SpecPetersburg:
		return "petersburg"
	case SpecIstanbul:
		return "istanbul"
	case SpecBerlin:
		return "berlin"
	case SpecLondon:
		return "london"
	case SpecParis:
		return "paris"
	case SpecShanghai:
		return "shanghai"
	case SpecCancun:
		return "cancun"
	case SpecPrague:
		return "prague"
	}
	return "unknown"
}

// SpecAt maps a block position to the execution spec active there. The
// schedule comes from the chain configuration; whether the merge has
// happened is decided by comparing the chain's total difficulty at the
// block against the configured terminal total difficulty.
func SpecAt(cfg *params.ChainConfig, num *big.Int, time uint64, td *big.Int) Spec {
	merged := cfg.TerminalTotalDifficulty != nil && td != nil &&
		td.Cmp(cfg.TerminalTotalDifficulty) >= 0
	switch {
	case cfg.IsPrague(num, time):
		return SpecPrague
	case cfg.IsCancun(num, time):
		return SpecCancun
	case cfg.IsShanghai(num, time):
		return SpecShanghai
	case merged:
		return SpecParis
	case cfg.IsLondon(num):
		return SpecLondon
	case cfg.IsBerlin(num):
		return SpecBerlin
	case cfg.IsIstanbul(num):
		return SpecIstanbul
	case cfg.IsPetersburg(num):
		return SpecPetersburg
	case cfg.IsConstantinople(num):
		return SpecConstantinople
	case cfg.IsByzantium(num):
		return SpecByzantium
	case cfg.IsEIP158(num):
		return SpecSpuriousDragon
	case cfg.IsEIP150(num):
		return SpecTangerine
	case cfg.IsHomestead(num):
		return SpecHomestead
	default:
		return SpecFrontier
	}
}
