package core

import (
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"
)

// stagedLedger is a write overlay on a TokenLedger. Reads see the base
// ledger plus every movement staged so far; nothing reaches the base until
// the engine applies the built batch.
type stagedLedger struct {
	base    TokenLedger
	builder *ledger.BatchBuilder

	balances map[ledger.AccountKey]fpmath.Fixed
	supply   map[ledger.TokenID]fpmath.Fixed

	// touched option series, keyed by Long token
	series map[ledger.TokenID]struct{}
}

func newStagedLedger(base TokenLedger, builder *ledger.BatchBuilder) *stagedLedger {
	return &stagedLedger{
		base:     base,
		builder:  builder,
		balances: make(map[ledger.AccountKey]fpmath.Fixed),
		supply:   make(map[ledger.TokenID]fpmath.Fixed),
		series:   make(map[ledger.TokenID]struct{}),
	}
}

func (s *stagedLedger) BalanceOf(holder ledger.Address, token ledger.TokenID) fpmath.Fixed {
	key := ledger.NewAccountKey(holder, token)
	return s.base.BalanceOf(holder, token).Add(s.balances[key])
}

func (s *stagedLedger) TotalSupply(token ledger.TokenID) fpmath.Fixed {
	return s.base.TotalSupply(token).Add(s.supply[token])
}

// HoldersOf returns the sorted holders with a positive staged balance.
func (s *stagedLedger) HoldersOf(token ledger.TokenID) []ledger.Address {
	seen := make(map[ledger.Address]struct{})
	for _, h := range s.base.HoldersOf(token) {
		seen[h] = struct{}{}
	}
	for key := range s.balances {
		if key.Token == token {
			seen[key.Holder] = struct{}{}
		}
	}

	out := make([]ledger.Address, 0, len(seen))
	for h := range seen {
		if s.BalanceOf(h, token).IsPositive() {
			out = append(out, h)
		}
	}
	ledger.SortAddresses(out)
	return out
}

func (s *stagedLedger) IsApprovedForAll(owner, operator ledger.Address) bool {
	return s.base.IsApprovedForAll(owner, operator)
}

func (s *stagedLedger) track(token ledger.TokenID) {
	t := token.Type()
	if !t.IsOption() {
		return
	}
	if t.IsShort() {
		token = token.Counterpart()
	}
	s.series[token] = struct{}{}
}

func (s *stagedLedger) move(holder ledger.Address, token ledger.TokenID, delta fpmath.Fixed) {
	key := ledger.NewAccountKey(holder, token)
	s.balances[key] = s.balances[key].Add(delta)
}

func (s *stagedLedger) require(holder ledger.Address, token ledger.TokenID, amount fpmath.Fixed) error {
	if have := s.BalanceOf(holder, token); have.LessThan(amount) {
		return poolerr.Newf(poolerr.ErrInsufficientBalance, "%s %s: have=%s, need=%s", holder.Hex(), token.Type(), have, amount)
	}
	return nil
}

func (s *stagedLedger) Mint(to ledger.Address, token ledger.TokenID, amount fpmath.Fixed, jt ledger.JournalType) {
	if !amount.IsPositive() {
		return
	}
	s.move(to, token, amount)
	s.supply[token] = s.supply[token].Add(amount)
	s.track(token)
	s.builder.Mint(to, token, amount, jt)
}

func (s *stagedLedger) Burn(from ledger.Address, token ledger.TokenID, amount fpmath.Fixed, jt ledger.JournalType) error {
	if !amount.IsPositive() {
		return nil
	}
	if err := s.require(from, token, amount); err != nil {
		return err
	}
	s.move(from, token, amount.Neg())
	s.supply[token] = s.supply[token].Sub(amount)
	s.track(token)
	s.builder.Burn(from, token, amount, jt)
	return nil
}

func (s *stagedLedger) Transfer(from, to ledger.Address, token ledger.TokenID, amount fpmath.Fixed, jt ledger.JournalType) error {
	if !amount.IsPositive() || from == to {
		return nil
	}
	if err := s.require(from, token, amount); err != nil {
		return err
	}
	s.move(from, token, amount.Neg())
	s.move(to, token, amount)
	s.track(token)
	s.builder.Transfer(from, to, token, amount, jt)
	return nil
}

// Series returns the Long tokens of every option series touched.
func (s *stagedLedger) Series() []ledger.TokenID {
	out := make([]ledger.TokenID, 0, len(s.series))
	for id := range s.series {
		out = append(out, id)
	}
	return out
}
