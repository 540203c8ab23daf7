package ingestion_test

import (
	"errors"
	"testing"
	"time"

	"OptionPool/internal/event"
	"OptionPool/internal/ingestion"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/poolerr"

	"github.com/ethereum/go-ethereum/common"
)

func rawFromJSON(subject, data string) (ingestion.RawEvent, *int, *int) {
	acks, naks := new(int), new(int)
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      []byte(data),
		Timestamp: time.Now(),
		AckFunc:   func() { *acks++ },
		NakFunc:   func() { *naks++ },
	}, acks, naks
}

const header = `"idempotency_key":"p-1","caller":"0x00000000000000000000000000000000000000b1","timestamp":1700006400`

func TestParsePurchase(t *testing.T) {
	raw, _, _ := rawFromJSON("pool.commands.purchase",
		`{`+header+`,"maturity":1700870400,"strike":"2000","amount":"1.5","is_call":true,"max_cost":"0.2"}`)

	cmd, err := ingestion.ParseRawCommand(raw, "purchase")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	p, ok := cmd.(*event.Purchase)
	if !ok {
		t.Fatalf("expected *event.Purchase, got %T", cmd)
	}
	if p.IdempotencyKey() != "p-1" {
		t.Errorf("key: got %s, want p-1", p.IdempotencyKey())
	}
	if p.Caller() != common.HexToAddress("0xb1") {
		t.Errorf("caller: got %s", p.Caller().Hex())
	}
	if p.Maturity != 1700870400 {
		t.Errorf("maturity: got %d", p.Maturity)
	}
	if !p.Strike.Equal(fpmath.MustParse("2000")) {
		t.Errorf("strike: got %s, want 2000", p.Strike)
	}
	if !p.Amount.Equal(fpmath.MustParse("1.5")) {
		t.Errorf("amount: got %s, want 1.5", p.Amount)
	}
	if !p.IsCall {
		t.Error("is_call: got false, want true")
	}
	if p.SideName() != "call" {
		t.Errorf("side: got %s, want call", p.SideName())
	}
}

func TestParseReassignBatch(t *testing.T) {
	raw, _, _ := rawFromJSON("pool.commands.reassign_batch",
		`{`+header+`,"short_tokens":["0x1","0x2"],"amounts":["1","2.25"]}`)

	cmd, err := ingestion.ParseRawCommand(raw, "reassign_batch")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	rb := cmd.(*event.ReassignBatch)
	if len(rb.ShortTokens) != 2 || len(rb.Amounts) != 2 {
		t.Fatalf("got %d tokens, %d amounts", len(rb.ShortTokens), len(rb.Amounts))
	}
	if !rb.Amounts[1].Equal(fpmath.MustParse("2.25")) {
		t.Errorf("amounts[1]: got %s", rb.Amounts[1])
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		data     string
		want     error
	}{
		{"unknown type", "liquidate", `{` + header + `}`, nil},
		{"malformed json", "deposit", `{"amount":`, nil},
		{"unknown field", "deposit", `{` + header + `,"amount":"1","isCall":true}`, nil},
		{"bad decimal", "deposit", `{` + header + `,"amount":"one"}`, nil},
		{"missing key", "deposit", `{"caller":"0x00000000000000000000000000000000000000b1","timestamp":1,"amount":"1"}`, ingestion.ErrMissingKey},
		{"missing caller", "deposit", `{"idempotency_key":"k","timestamp":1,"amount":"1"}`, ingestion.ErrMissingCaller},
		{"missing timestamp", "deposit", `{"idempotency_key":"k","caller":"0x00000000000000000000000000000000000000b1","amount":"1"}`, ingestion.ErrMissingTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _, _ := rawFromJSON("pool.commands."+tt.typeName, tt.data)
			_, err := ingestion.ParseRawCommand(raw, tt.typeName)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseEveryCommandType(t *testing.T) {
	for _, ct := range event.CommandTypes() {
		raw, _, _ := rawFromJSON("pool.commands."+ct.String(), `{`+header+`}`)
		cmd, err := ingestion.ParseRawCommand(raw, ct.String())
		if err != nil {
			t.Errorf("%s: %v", ct, err)
			continue
		}
		if cmd.CommandType() != ct {
			t.Errorf("%s: decoded as %s", ct, cmd.CommandType())
		}
	}
}

func TestCommandTypeFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
		wantErr bool
	}{
		{"pool.commands.deposit", "deposit", false},
		{"pool.commands.process_expired.shard-1", "process_expired", false},
		{"pool.events.deposit", "", true},
		{"pool.commands.", "", true},
	}
	for _, tt := range tests {
		got, err := ingestion.CommandTypeFromSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.subject, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.subject, got, tt.want)
		}
	}
}

func TestDefaultSubjects(t *testing.T) {
	subjects := ingestion.DefaultSubjects()
	if len(subjects) != len(event.CommandTypes()) {
		t.Fatalf("got %d subjects, want one per command type", len(subjects))
	}
	seen := map[string]bool{}
	for _, s := range subjects {
		if seen[s.ConsumerName] {
			t.Errorf("duplicate consumer %s", s.ConsumerName)
		}
		seen[s.ConsumerName] = true
		if s.StreamName != ingestion.CommandStream {
			t.Errorf("%s: stream %s", s.ConsumerName, s.StreamName)
		}
	}
}

// ============================================================================
// Dispatcher
// ============================================================================

type stubExecutor struct {
	err   error
	calls int
}

func (s *stubExecutor) Execute(cmd event.Command) (*event.Receipt, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &event.Receipt{CommandType: cmd.CommandType(), IdempotencyKey: cmd.IdempotencyKey()}, nil
}

func TestDispatcherAckNak(t *testing.T) {
	deposit := `{` + header + `,"amount":"1","is_call":true}`

	tests := []struct {
		name      string
		subject   string
		data      string
		execErr   error
		wantCalls int
		wantAcks  int
		wantNaks  int
	}{
		{"applied", "pool.commands.deposit", deposit, nil, 1, 1, 0},
		{"rejected", "pool.commands.deposit", deposit, poolerr.New(poolerr.ErrDepositCapExceeded, "cap"), 1, 1, 0},
		{"transient", "pool.commands.deposit", deposit, errors.New("dedup lookup timed out"), 1, 0, 1},
		{"malformed", "pool.commands.deposit", `{`, nil, 0, 1, 0},
		{"bad subject", "pool.other", deposit, nil, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &stubExecutor{err: tt.execErr}
			d := ingestion.NewDispatcher(exec, nil, nil)

			raw, acks, naks := rawFromJSON(tt.subject, tt.data)
			d.Handle(raw)

			if exec.calls != tt.wantCalls {
				t.Errorf("calls: got %d, want %d", exec.calls, tt.wantCalls)
			}
			if *acks != tt.wantAcks || *naks != tt.wantNaks {
				t.Errorf("acks/naks: got %d/%d, want %d/%d", *acks, *naks, tt.wantAcks, tt.wantNaks)
			}
		})
	}
}
