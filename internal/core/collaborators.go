package core

import (
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/oracle"
)

// TokenLedger is the multi-asset balance store the pool settles against.
// The engine only reads from it while computing a command and writes once,
// through Apply, at commit.
type TokenLedger interface {
	BalanceOf(holder ledger.Address, token ledger.TokenID) fpmath.Fixed
	TotalSupply(token ledger.TokenID) fpmath.Fixed
	HoldersOf(token ledger.TokenID) []ledger.Address
	IsApprovedForAll(owner, operator ledger.Address) bool
	SetApprovalForAll(owner, operator ledger.Address, approved bool)
	Apply(batch *ledger.Batch) error
}

// PriceOracle supplies spot and hour-bucketed historical prices.
type PriceOracle interface {
	LatestPrice() (oracle.PricePoint, bool)
	PriceAtOrAfter(ts int64) (oracle.PricePoint, bool)
}

// PriceRecorder is implemented by oracles that accept RecordPrice commands.
type PriceRecorder interface {
	Record(ts int64, price fpmath.Fixed) error
}

// FeeDiscount returns a caller's protocol fee discount in basis points.
type FeeDiscount interface {
	DiscountOf(addr ledger.Address) uint32
}

// DiscountSetter is implemented by discount tables that accept SetDiscount.
type DiscountSetter interface {
	Set(addr ledger.Address, bps uint32) error
}

type digester interface {
	Digest() [32]byte
}
