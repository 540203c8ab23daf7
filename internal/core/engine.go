// Package core is the pool's single-writer execution engine. Each command
// is computed against a clone of the pool state and a staged view of the
// token ledger; commit applies one ledger batch and swaps the state in, so
// a rejected command leaves nothing behind.
package core

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"OptionPool/internal/discount"
	"OptionPool/internal/event"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/observability"
	"OptionPool/internal/oracle"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/state"
	"OptionPool/internal/tvl"

	"github.com/rs/zerolog"
)

// fullCheckInterval is how often (in sequences) the engine re-validates
// every series and balance, not just those the command touched.
const fullCheckInterval = 1000

// Engine executes pool commands one at a time.
type Engine struct {
	mu sync.Mutex

	// next sequence to assign
	sequence int64

	pool      *state.Pool
	ledger    TokenLedger
	oracle    PriceOracle
	discounts FeeDiscount

	hasher      *StateHasher
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one commit.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Receipt  *event.Receipt
}

type EngineConfig struct {
	StartSequence int64

	// Pool defaults to DefaultPoolParams with default side parameters.
	Pool *state.Pool

	// Collaborators default to the in-repo reference implementations.
	Ledger    TokenLedger
	Oracle    PriceOracle
	Discounts FeeDiscount

	// Nil channels disable the corresponding output.
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput

	DBChecker   DBIdempotencyChecker
	LRUCapacity int

	Metrics *observability.Metrics
	Logger  *zerolog.Logger
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	pool := cfg.Pool
	if pool == nil {
		pool = state.NewPool(state.DefaultPoolParams(), state.DefaultSideParams(true), state.DefaultSideParams(false))
	}
	if err := state.ValidatePoolParams(&pool.Params); err != nil {
		return nil, fmt.Errorf("pool params: %w", err)
	}
	for _, side := range []*state.SideState{pool.Call, pool.Put} {
		if err := state.ValidateSteepness(side.Steepness); err != nil {
			return nil, fmt.Errorf("%s side: %w", side.Name(), err)
		}
	}
	if pool.Params.PoolAddress == ledger.ZeroAddress || pool.Params.FeeReceiver == ledger.ZeroAddress {
		return nil, fmt.Errorf("pool params: pool_address and fee_receiver are required")
	}

	e := &Engine{
		sequence:       cfg.StartSequence,
		pool:           pool,
		ledger:         cfg.Ledger,
		oracle:         cfg.Oracle,
		discounts:      cfg.Discounts,
		hasher:         NewStateHasher(),
		metrics:        cfg.Metrics,
		logger:         zerolog.Nop(),
		persistChan:    cfg.PersistChan,
		projectionChan: cfg.ProjectionChan,
	}
	if e.ledger == nil {
		e.ledger = ledger.NewBalanceTracker()
	}
	if e.oracle == nil {
		e.oracle = oracle.NewBucketOracle()
	}
	if e.discounts == nil {
		e.discounts = discount.NewTable()
	}
	if cfg.Logger != nil {
		e.logger = *cfg.Logger
	}

	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	e.idempotency = NewIdempotencyChecker(capacity, cfg.DBChecker)

	return e, nil
}

// op is the scratch space of one command: cloned pool state, staged ledger
// and side effects on collaborators that run only after the batch applies.
type op struct {
	pool    *state.Pool
	ledger  *stagedLedger
	now     int64
	caller  ledger.Address
	receipt *event.Receipt
	effects []func() error

	// amounts credited to underwriters and the fee receiver, for metrics
	fees []feeCredit

	// TVL decreases that exceeded the user's recorded TVL
	shortfalls []tvlShortfall
}

type feeCredit struct {
	side   string
	kind   string
	amount fpmath.Fixed
}

type tvlShortfall struct {
	side   string
	user   ledger.Address
	amount fpmath.Fixed
}

// decreaseTVL lowers the user's TVL and records any part of amount the
// user did not have.
func (o *op) decreaseTVL(side *state.SideState, addr ledger.Address, amount fpmath.Fixed) {
	if _, short := tvl.Decrease(side, addr, amount); short.IsPositive() {
		o.shortfalls = append(o.shortfalls, tvlShortfall{side: side.Name(), user: addr, amount: short})
	}
}

func (e *Engine) newOp(cmd event.Command) *op {
	builder := ledger.NewBatchBuilder(cmd.IdempotencyKey(), e.sequence, cmd.Timestamp())
	return &op{
		pool:    e.pool.Clone(),
		ledger:  newStagedLedger(e.ledger, builder),
		now:     cmd.Timestamp(),
		caller:  cmd.Caller(),
		receipt: &event.Receipt{},
	}
}

// Execute runs cmd to completion. A duplicate idempotency key returns a
// receipt flagged Duplicate and changes nothing.
func (e *Engine) Execute(cmd event.Command) (*event.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(cmd, true)
}

func (e *Engine) execute(cmd event.Command, live bool) (*event.Receipt, error) {
	start := time.Now()
	cmdType := cmd.CommandType().String()
	key := cmd.IdempotencyKey()

	if key == "" {
		return nil, poolerr.New(poolerr.ErrInvalidCommand, "idempotency key required")
	}
	if cmd.Timestamp() <= 0 {
		return nil, poolerr.New(poolerr.ErrInvalidCommand, "timestamp required")
	}

	if live && e.idempotency.IsDuplicate(cmdType, key) {
		if e.metrics != nil {
			e.metrics.IdempotencyDuplicates.WithLabelValues(cmdType).Inc()
		}
		return &event.Receipt{CommandType: cmd.CommandType(), IdempotencyKey: key, Duplicate: true}, nil
	}

	o := e.newOp(cmd)
	if err := e.dispatch(o, cmd); err != nil {
		e.reject(cmdType, key, err)
		return nil, fmt.Errorf("%s: %w", cmdType, err)
	}

	batch := o.ledger.builder.Batch()
	if !batch.IsEmpty() {
		if err := batch.Validate(); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch for %s %s: %v", cmdType, key, err))
		}
		if err := e.ledger.Apply(batch); err != nil {
			e.reject(cmdType, key, err)
			return nil, fmt.Errorf("%s: apply batch: %w", cmdType, err)
		}
	}
	for _, effect := range o.effects {
		if err := effect(); err != nil {
			panic(fmt.Sprintf("FATAL: post-commit effect failed for %s %s: %v", cmdType, key, err))
		}
	}
	e.pool = o.pool

	if err := e.postCheckInvariants(o); err != nil {
		e.logger.Error().Err(err).Str("command_type", cmdType).Str("key", key).Int64("sequence", e.sequence).Msg("invariant violated")
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}
	e.reportShortfalls(o, cmdType, key)

	envelope, receipt := e.seal(cmd, o, batch)
	e.idempotency.MarkProcessed(cmdType, key)

	if live {
		e.emit(CoreOutput{Envelope: envelope, Batch: batch, Receipt: receipt})
	}

	if e.metrics != nil {
		e.metrics.CommandsApplied.WithLabelValues(cmdType).Inc()
		e.metrics.CommandDuration.WithLabelValues(cmdType).Observe(time.Since(start).Seconds())
		e.metrics.Sequence.Set(float64(envelope.Sequence))
		e.metrics.DedupLRUSize.Set(float64(e.idempotency.Size()))
		for _, j := range batch.Journals {
			e.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
		e.updatePoolMetrics(o)
	}

	return receipt, nil
}

// seal hashes the committed state and builds the envelope and receipt.
func (e *Engine) seal(cmd event.Command, o *op, batch *ledger.Batch) (*event.EventEnvelope, *event.Receipt) {
	seq := e.sequence

	prev, hash, err := e.hasher.Link(seq, cmd.CommandType(), e.pool, e.ledger)
	if err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}

	receipt := o.receipt
	receipt.Sequence = seq
	receipt.CommandType = cmd.CommandType()
	receipt.IdempotencyKey = cmd.IdempotencyKey()
	receipt.StateHash = hex.EncodeToString(hash[:])

	payload, err := event.Encode(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: %v", err))
	}
	receiptJSON, err := json.Marshal(receipt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode receipt: %v", err))
	}

	e.sequence++

	return &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: cmd.IdempotencyKey(),
		CommandType:    cmd.CommandType(),
		Side:           cmd.SideName(),
		Timestamp:      cmd.Timestamp(),
		Payload:        payload,
		Receipt:        receiptJSON,
		StateHash:      hash,
		PrevHash:       prev,
	}, receipt
}

func (e *Engine) reject(cmdType, key string, err error) {
	if e.metrics != nil {
		e.metrics.CommandsRejected.WithLabelValues(cmdType, poolerr.CodeOf(err)).Inc()
	}
	e.logger.Debug().Err(err).Str("command_type", cmdType).Str("key", key).Msg("command rejected")
}

// emit hands the output to persistence (blocking, so nothing committed is
// lost) and to projections (non-blocking, they rebuild from the log).
func (e *Engine) emit(out CoreOutput) {
	if e.persistChan != nil {
		select {
		case e.persistChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}
	}
	if e.projectionChan != nil {
		select {
		case e.projectionChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDrops.Inc()
			}
		}
	}
}

// postCheckInvariants runs after the state swap. Series touched by the
// command must have equal Long and Short supply, and per-user TVL must sum
// to the side total.
func (e *Engine) postCheckInvariants(o *op) error {
	for _, long := range o.ledger.Series() {
		longSupply := e.ledger.TotalSupply(long)
		shortSupply := e.ledger.TotalSupply(long.Counterpart())
		if !longSupply.Equal(shortSupply) {
			return fmt.Errorf("series %s: long=%s short=%s", long, longSupply, shortSupply)
		}
	}
	for _, side := range []*state.SideState{e.pool.Call, e.pool.Put} {
		if err := tvl.Validate(side); err != nil {
			return err
		}
		if side.LockedLiquidity.IsNegative() {
			return fmt.Errorf("%s locked liquidity negative: %s", side.Name(), side.LockedLiquidity)
		}
	}

	if e.sequence > 0 && e.sequence%fullCheckInterval == 0 {
		if bt, ok := e.ledger.(*ledger.BalanceTracker); ok {
			v := ledger.NewInvariantValidator(bt)
			if err := v.ValidateAllSeriesBalanced(); err != nil {
				return err
			}
			if err := v.ValidateNonNegative(); err != nil {
				return err
			}
		}
	}
	return nil
}

// reportShortfalls logs and counts TVL decreases that were clamped at the
// user's recorded TVL. Side totals still balance after a clamp.
func (e *Engine) reportShortfalls(o *op, cmdType, key string) {
	for _, s := range o.shortfalls {
		e.logger.Warn().
			Str("command_type", cmdType).
			Str("key", key).
			Int64("sequence", e.sequence).
			Str("side", s.side).
			Str("user", s.user.Hex()).
			Str("shortfall", s.amount.String()).
			Msg("tvl decrease exceeded user tvl")
		if e.metrics != nil {
			e.metrics.TVLShortfall.WithLabelValues(s.side).Add(s.amount.Float64())
		}
	}
}

func (e *Engine) updatePoolMetrics(o *op) {
	for _, side := range []*state.SideState{e.pool.Call, e.pool.Put} {
		name := side.Name()
		e.metrics.CLevel.WithLabelValues(name).Set(side.CLevel.Float64())
		e.metrics.TotalTVL.WithLabelValues(name).Set(side.TotalTVL.Float64())
		e.metrics.LockedLiquidity.WithLabelValues(name).Set(side.LockedLiquidity.Float64())
		e.metrics.Utilization.WithLabelValues(name).Set(side.Utilization().Float64())
		e.metrics.QueueDepth.WithLabelValues(name).Set(float64(side.Queue.Len()))
	}
	for _, f := range o.fees {
		if f.kind == "premium" {
			e.metrics.PremiumsPaid.WithLabelValues(f.side).Add(f.amount.Float64())
			continue
		}
		e.metrics.FeesCollected.WithLabelValues(f.side, f.kind).Add(f.amount.Float64())
	}
}

func (e *Engine) dispatch(o *op, cmd event.Command) error {
	switch c := cmd.(type) {
	case *event.Deposit:
		return e.handleDeposit(o, c)
	case *event.Withdraw:
		return e.handleWithdraw(o, c)
	case *event.WithdrawReserved:
		return e.handleWithdrawReserved(o, c)
	case *event.SetDivestmentTimestamp:
		return e.handleSetDivestmentTimestamp(o, c)
	case *event.Write:
		return e.handleWrite(o, c)
	case *event.Purchase:
		return e.handlePurchase(o, c)
	case *event.Exercise:
		return e.handleExercise(o, c)
	case *event.ProcessExpired:
		return e.handleProcessExpired(o, c)
	case *event.Reassign:
		return e.handleReassign(o, c)
	case *event.ReassignBatch:
		return e.handleReassignBatch(o, c)
	case *event.Annihilate:
		return e.handleAnnihilate(o, c)
	case *event.SetApprovalForAll:
		return e.handleSetApprovalForAll(o, c)
	case *event.RecordPrice:
		return e.handleRecordPrice(o, c)
	case *event.SetPoolCaps:
		return e.handleSetPoolCaps(o, c)
	case *event.SetMinimumAmounts:
		return e.handleSetMinimumAmounts(o, c)
	case *event.SetSteepness:
		return e.handleSetSteepness(o, c)
	case *event.SetCLevel:
		return e.handleSetCLevel(o, c)
	case *event.SetFeeApy:
		return e.handleSetFeeApy(o, c)
	case *event.SetVolatility:
		return e.handleSetVolatility(o, c)
	case *event.IncreaseUserTVL:
		return e.handleIncreaseUserTVL(o, c)
	case *event.DecreaseUserTVL:
		return e.handleDecreaseUserTVL(o, c)
	case *event.SetDiscount:
		return e.handleSetDiscount(o, c)
	case *event.CreditWallet:
		return e.handleCreditWallet(o, c)
	case *event.DebitWallet:
		return e.handleDebitWallet(o, c)
	default:
		return poolerr.Newf(poolerr.ErrUnknownCommand, "%T", cmd)
	}
}
