package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
)

// ErrNotFound is returned when a projected row does not exist.
var ErrNotFound = errors.New("not found")

// QueryService provides read-only access to the projection tables and the
// event log. Every response carries as_of_sequence, the projection
// watermark it was read at.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalances returns every non-zero projected balance of holder.
func (qs *QueryService) GetBalances(ctx context.Context, holder ledger.Address) (*BalanceResponse, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT token_id, balance::TEXT FROM projections.balances
		WHERE holder = $1 AND balance <> 0
		ORDER BY token_type, token_id
	`, holder.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := newBalanceResponse(holder.Hex(), asOfSeq)
	for rows.Next() {
		tok, bal, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		resp.add(tok, bal)
	}
	return resp, rows.Err()
}

// GetBalance returns one projected balance, zero when the holder never
// touched the token.
func (qs *QueryService) GetBalance(ctx context.Context, holder ledger.Address, token ledger.TokenID) (fpmath.Fixed, int64, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return fpmath.Zero, 0, err
	}

	var s string
	err = qs.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM projections.balances WHERE holder = $1 AND token_id = $2
	`, holder.Hex(), token.Hex()).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return fpmath.Zero, asOfSeq, nil
	}
	if err != nil {
		return fpmath.Zero, 0, err
	}
	bal, err := fpmath.Parse(s)
	return bal, asOfSeq, err
}

// GetOptionSeries returns the lifecycle totals of one series. Either the
// Long or the Short token identifies it.
func (qs *QueryService) GetOptionSeries(ctx context.Context, token ledger.TokenID) (*SeriesResponse, error) {
	if !token.Type().IsOption() {
		return nil, fmt.Errorf("token %s is not an option", token.Hex())
	}
	long := token
	if token.Type().IsShort() {
		long = token.Counterpart()
	}

	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, seriesSelect+` WHERE long_token = $1`, long.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	s, err := scanSeries(rows, asOfSeq)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListSeries returns series maturing in [from, to], soonest first.
func (qs *QueryService) ListSeries(ctx context.Context, from, to int64, limit int) ([]SeriesResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, seriesSelect+`
		WHERE maturity >= $1 AND maturity <= $2
		ORDER BY maturity, is_call DESC, strike
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SeriesResponse
	for rows.Next() {
		s, err := scanSeries(rows, asOfSeq)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// GetJournalHistory returns journal entries touching holder, newest first.
// afterSequence pages backwards.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holder ledger.Address,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, kind, from_addr, to_addr,
		       token_id, token_type, amount::TEXT, journal_type, command_ts
		FROM pool_log.journal
		WHERE (from_addr = $1 OR to_addr = $1)
	`
	args := []any{holder.Hex()}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence, &e.Kind, &e.From, &e.To,
			&e.TokenID, &e.TokenType, &e.Amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the event log hash chain, Long/Short supply
// parity per series and non-negative projected balances.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.Watermark(ctx)
	if err != nil {
		return nil, err
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	if report.HashChainBreaks, err = qs.hashChainBreaks(ctx); err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}
	if report.UnbalancedSeries, err = qs.unbalancedSeries(ctx); err != nil {
		return nil, fmt.Errorf("series supply: %w", err)
	}
	if report.NegativeBalances, err = qs.negativeBalances(ctx); err != nil {
		return nil, fmt.Errorf("negative balances: %w", err)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedSeries) == 0 &&
		len(report.NegativeBalances) == 0
	return report, nil
}

func (qs *QueryService) hashChainBreaks(ctx context.Context) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM pool_log.events e1
		LEFT JOIN pool_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 0 AND (e2.sequence IS NULL OR e1.prev_hash <> e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breaks []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		breaks = append(breaks, seq)
	}
	return breaks, rows.Err()
}

func (qs *QueryService) unbalancedSeries(ctx context.Context) ([]UnbalancedSeries, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT token_id, SUM(balance)::TEXT FROM projections.balances
		WHERE token_type IN ('long_call', 'long_put', 'short_call', 'short_put')
		GROUP BY token_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	supply := make(map[ledger.TokenID]fpmath.Fixed)
	for rows.Next() {
		tok, total, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		supply[tok] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return CompareSeriesSupply(supply), nil
}

// CompareSeriesSupply returns every series whose Long supply differs from
// its Short supply, ordered by Long token.
func CompareSeriesSupply(supply map[ledger.TokenID]fpmath.Fixed) []UnbalancedSeries {
	longs := make(map[ledger.TokenID]bool)
	for tok := range supply {
		if tok.Type().IsShort() {
			longs[tok.Counterpart()] = true
		} else if tok.Type().IsLong() {
			longs[tok] = true
		}
	}

	var out []UnbalancedSeries
	for long := range longs {
		l, s := supply[long], supply[long.Counterpart()]
		if !l.Equal(s) {
			out = append(out, UnbalancedSeries{
				LongToken:   long.Hex(),
				LongSupply:  l.String(),
				ShortSupply: s.String(),
			})
		}
	}
	sortUnbalanced(out)
	return out
}

func sortUnbalanced(s []UnbalancedSeries) {
	sort.Slice(s, func(i, j int) bool { return s[i].LongToken < s[j].LongToken })
}

func (qs *QueryService) negativeBalances(ctx context.Context) ([]NegativeBalance, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT holder, token_id, balance::TEXT FROM projections.balances
		WHERE balance < 0
		ORDER BY holder, token_id
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NegativeBalance
	for rows.Next() {
		var nb NegativeBalance
		if err := rows.Scan(&nb.Holder, &nb.TokenID, &nb.Balance); err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

// Watermark returns the last sequence applied to projections, or -1 before
// the first.
func (qs *QueryService) Watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

// --- helpers ---

const seriesSelect = `
	SELECT long_token, maturity, strike::TEXT, is_call, written::TEXT, exercised::TEXT,
	       expired::TEXT, annihilated::TEXT, reassigned::TEXT, last_sequence
	FROM projections.option_series`

func scanSeries(rows *sql.Rows, asOfSeq int64) (*SeriesResponse, error) {
	s := &SeriesResponse{AsOfSequence: asOfSeq}
	if err := rows.Scan(
		&s.LongToken, &s.Maturity, &s.Strike, &s.IsCall, &s.Written, &s.Exercised,
		&s.Expired, &s.Annihilated, &s.Reassigned, &s.LastSequence,
	); err != nil {
		return nil, err
	}
	open, err := openInterest(s)
	if err != nil {
		return nil, err
	}
	s.Open = open.String()
	s.Strike = trimNumeric(s.Strike)
	s.Written = trimNumeric(s.Written)
	s.Exercised = trimNumeric(s.Exercised)
	s.Expired = trimNumeric(s.Expired)
	s.Annihilated = trimNumeric(s.Annihilated)
	s.Reassigned = trimNumeric(s.Reassigned)
	return s, nil
}

func openInterest(s *SeriesResponse) (fpmath.Fixed, error) {
	vals := make([]fpmath.Fixed, 0, 4)
	for _, v := range []string{s.Written, s.Exercised, s.Expired, s.Annihilated} {
		f, err := fpmath.Parse(v)
		if err != nil {
			return fpmath.Zero, err
		}
		vals = append(vals, f)
	}
	return vals[0].Sub(vals[1]).Sub(vals[2]).Sub(vals[3]), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (ledger.TokenID, fpmath.Fixed, error) {
	var tokHex, amt string
	if err := row.Scan(&tokHex, &amt); err != nil {
		return ledger.TokenID{}, fpmath.Zero, err
	}
	tok, err := ledger.ParseTokenID(tokHex)
	if err != nil {
		return ledger.TokenID{}, fpmath.Zero, err
	}
	bal, err := fpmath.Parse(amt)
	if err != nil {
		return ledger.TokenID{}, fpmath.Zero, err
	}
	return tok, bal, nil
}

// trimNumeric drops the trailing zeros Postgres pads NUMERIC(78,18) with.
func trimNumeric(s string) string {
	f, err := fpmath.Parse(s)
	if err != nil {
		return s
	}
	return f.String()
}
