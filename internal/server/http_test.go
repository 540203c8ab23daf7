package server_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"OptionPool/internal/core"
	"OptionPool/internal/ledger"
	fpmath "OptionPool/internal/math"
	"OptionPool/internal/observability"
	"OptionPool/internal/poolerr"
	"OptionPool/internal/server"
	"OptionPool/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const now = int64(1_700_006_400)

var (
	owner = common.HexToAddress("0x0000000000000000000000000000000000000001")
	lp    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type apiHarness struct {
	t       *testing.T
	srv     *httptest.Server
	tracker *ledger.BalanceTracker
	keys    int
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()

	params := state.DefaultPoolParams()
	params.Owner = owner
	params.FeeReceiver = common.HexToAddress("0x00000000000000000000000000000000000000fe")
	params.PoolAddress = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	pool := state.NewPool(params, state.DefaultSideParams(true), state.DefaultSideParams(false))

	tracker := ledger.NewBalanceTracker()
	engine, err := core.NewEngine(core.EngineConfig{Pool: pool, Ledger: tracker, LRUCapacity: 64})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	h := server.NewHTTPServer(":0", server.Deps{
		Engine:   engine,
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
		Now:      func() time.Time { return time.Unix(now, 0) },
	})
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	return &apiHarness{t: t, srv: srv, tracker: tracker}
}

func (a *apiHarness) post(cmdType string, caller common.Address, fields string) (int, map[string]any) {
	a.t.Helper()
	a.keys++
	body := fmt.Sprintf(`{"idempotency_key":"k-%d","caller":%q,"timestamp":%d%s}`, a.keys, caller.Hex(), now, fields)
	resp, err := http.Post(a.srv.URL+"/v1/commands/"+cmdType, "application/json", strings.NewReader(body))
	require.NoError(a.t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(a.t, resp)
}

func (a *apiHarness) get(path string) (int, map[string]any) {
	a.t.Helper()
	resp, err := http.Get(a.srv.URL + path)
	require.NoError(a.t, err)
	defer resp.Body.Close()
	return resp.StatusCode, decode(a.t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestCommandsAndViews(t *testing.T) {
	a := newAPI(t)
	require.NoError(t, a.tracker.Mint(lp, ledger.AssetToken(true), fpmath.MustParse("10")))

	code, body := a.post("record_price", owner, `,"price":"2000"`)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 0, body["sequence"])

	code, body = a.post("deposit", lp, `,"amount":"10","is_call":true`)
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["sequence"])

	code, body = a.get("/v1/tvl/" + lp.Hex())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10", body["user"].(map[string]any)["call"])
	assert.Equal(t, "0", body["user"].(map[string]any)["put"])

	code, body = a.get("/v1/queue/call/" + lp.Hex())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["is_head"])
	assert.Equal(t, "10", body["size"])

	code, body = a.get("/v1/balances/" + lp.Hex())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "10", body["free_liquidity"].(map[string]any)["call"])

	code, body = a.get(fmt.Sprintf("/v1/quote?maturity=%d&strike=2000&amount=1&side=call&at=%d", now+10*state.Day, now))
	require.Equal(t, http.StatusOK, code, body)
	base, err := fpmath.Parse(body["base_cost"].(string))
	require.NoError(t, err)
	assert.True(t, base.IsPositive())

	code, body = a.get("/v1/status")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["sequence"])
}

func TestCommandErrors(t *testing.T) {
	a := newAPI(t)

	t.Run("unknown command type", func(t *testing.T) {
		code, body := a.post("liquidate", lp, "")
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "invalid_command", body["code"])
	})

	t.Run("unknown field", func(t *testing.T) {
		code, _ := a.post("deposit", lp, `,"amount":"1","is_call":true,"isCall":true`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("missing caller", func(t *testing.T) {
		code, _ := a.post("deposit", ledger.ZeroAddress, `,"amount":"1","is_call":true`)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("owner only", func(t *testing.T) {
		code, body := a.post("set_fee_apy", lp, `,"fee_apy":"0.01"`)
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, "authorization", body["kind"])
	})

	t.Run("quote without spot price", func(t *testing.T) {
		code, body := a.get(fmt.Sprintf("/v1/quote?maturity=%d&strike=2000&amount=1&side=call", now+10*state.Day))
		assert.Equal(t, http.StatusConflict, code)
		assert.Equal(t, "no_spot_price", body["code"])
	})

	t.Run("bad side", func(t *testing.T) {
		code, _ := a.get("/v1/queue/both/" + lp.Hex())
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("unknown series", func(t *testing.T) {
		long, err := ledger.OptionTokenID(ledger.TokenLongCall, now+10*state.Day, fpmath.MustParse("2000"))
		require.NoError(t, err)
		code, _ := a.get("/v1/options/" + long.Hex())
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{poolerr.ErrOutOfRange, http.StatusBadRequest},
		{poolerr.ErrNotOwner, http.StatusForbidden},
		{poolerr.ErrExpired, http.StatusConflict},
		{poolerr.ErrNoLiquidity, http.StatusUnprocessableEntity},
		{poolerr.ErrSlippageExceeded, http.StatusPreconditionFailed},
		{fmt.Errorf("wrapped: %w", poolerr.New(poolerr.ErrNotApproved, "operator")), http.StatusForbidden},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, server.StatusFor(tc.err), tc.err.Error())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)

	code, body := a.get("/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	a.get("/v1/status")
	resp, err := http.Get(a.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
