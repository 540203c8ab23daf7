package query

// SeriesResponse is one option series from projections.option_series.
// Amounts are decimal strings.
type SeriesResponse struct {
	LongToken    string `json:"long_token"`
	Maturity     int64  `json:"maturity"`
	Strike       string `json:"strike"`
	IsCall       bool   `json:"is_call"`
	Written      string `json:"written"`
	Exercised    string `json:"exercised"`
	Expired      string `json:"expired"`
	Annihilated  string `json:"annihilated"`
	Reassigned   string `json:"reassigned"`
	Open         string `json:"open"` // written - exercised - expired - annihilated
	LastSequence int64  `json:"last_sequence"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry is one pool_log.journal row touching a holder.
type JournalHistoryEntry struct {
	JournalID   string `json:"journal_id"`
	BatchID     string `json:"batch_id"`
	EventRef    string `json:"event_ref"`
	Sequence    int64  `json:"sequence"`
	Kind        string `json:"kind"`
	From        string `json:"from"`
	To          string `json:"to"`
	TokenID     string `json:"token_id"`
	TokenType   string `json:"token_type"`
	Amount      string `json:"amount"`
	JournalType string `json:"journal_type"`
	Timestamp   int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool               `json:"is_healthy"`
	HashChainBreaks  []int64            `json:"hash_chain_breaks,omitempty"`
	UnbalancedSeries []UnbalancedSeries `json:"unbalanced_series,omitempty"`
	NegativeBalances []NegativeBalance  `json:"negative_balances,omitempty"`
	AsOfSequence     int64              `json:"as_of_sequence"`
}

// UnbalancedSeries is a series whose Long and Short supplies differ.
type UnbalancedSeries struct {
	LongToken   string `json:"long_token"`
	LongSupply  string `json:"long_supply"`
	ShortSupply string `json:"short_supply"`
}

// NegativeBalance is a projected balance below zero.
type NegativeBalance struct {
	Holder  string `json:"holder"`
	TokenID string `json:"token_id"`
	Balance string `json:"balance"`
}
