package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manifest-network/blockledger/internal/chain"
	"github.com/manifest-network/blockledger/internal/models"
	"github.com/manifest-network/blockledger/internal/store"
)

type fakeEngine struct {
	ready      bool
	acceptErr  error
	rollbackTo []uint64
	rollErr    error
	accepted   []*models.Block
	balances   map[string]int64
}

func (f *fakeEngine) AcceptBlock(_ context.Context, b *models.Block) error {
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepted = append(f.accepted, b)
	return nil
}

func (f *fakeEngine) Rollback(_ context.Context, height uint64) error {
	f.rollbackTo = append(f.rollbackTo, height)
	return f.rollErr
}

func (f *fakeEngine) Balance(address string) int64 {
	return f.balances[address]
}

func (f *fakeEngine) Ready() bool {
	return f.ready
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestPostBlock(t *testing.T) {
	const body = `{"id":"abc","height":1,"transactions":[{"id":"tx1","inputs":[],"outputs":[{"address":"addr1","value":10}]}]}`

	cases := []struct {
		name       string
		body       string
		acceptErr  error
		wantStatus int
		wantKind   string
		wantError  string
	}{
		{name: "accepted", body: body, wantStatus: http.StatusOK},
		{
			name:       "malformed json",
			body:       `{"height":`,
			wantStatus: http.StatusBadRequest,
			wantKind:   "bad_request",
		},
		{
			name:       "rejected",
			body:       body,
			acceptErr:  &chain.ValidationError{Kind: chain.KindInvalidHeight, Height: 1, Detail: "expected height 2"},
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_height",
			wantError:  "invalid_height: block 1: expected height 2",
		},
		{
			name:       "wrapped rejection",
			body:       body,
			acceptErr:  fmt.Errorf("submit: %w", &chain.ValidationError{Kind: chain.KindInvalidBlockID, Height: 1}),
			wantStatus: http.StatusBadRequest,
			wantKind:   "invalid_block_id",
		},
		{
			name:       "not ready",
			body:       body,
			acceptErr:  chain.ErrNotReady,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "duplicate",
			body:       body,
			acceptErr:  fmt.Errorf("failed to store block 1: %w", store.ErrConflict),
			wantStatus: http.StatusConflict,
			wantKind:   "conflict",
		},
		{
			name:       "internal error is redacted",
			body:       body,
			acceptErr:  &chain.InternalError{Height: 1, Err: errors.New("secret detail")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := &fakeEngine{ready: true, acceptErr: tc.acceptErr}
			rec, out := do(t, NewHandler(e), http.MethodPost, "/blocks", tc.body)

			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, "ok", out["result"])
				require.Len(t, e.accepted, 1)
				assert.Equal(t, "tx1", e.accepted[0].Transactions[0].ID)
				return
			}
			if tc.wantKind != "" {
				assert.Equal(t, tc.wantKind, out["kind"])
			}
			if tc.wantError != "" {
				assert.Equal(t, tc.wantError, out["error"])
			}
			assert.NotContains(t, rec.Body.String(), "secret")
		})
	}
}

func TestGetBalance(t *testing.T) {
	e := &fakeEngine{ready: true, balances: map[string]int64{"addr1": 10}}
	h := NewHandler(e)

	rec, out := do(t, h, http.MethodGet, "/balance/addr1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"addr1": float64(10)}, out)

	rec, out = do(t, h, http.MethodGet, "/balance/unknown", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"unknown": float64(0)}, out)

	// Balances are not served while the ledger is being rebuilt.
	e.ready = false
	rec, _ = do(t, h, http.MethodGet, "/balance/addr1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPostRollback(t *testing.T) {
	cases := []struct {
		name       string
		target     string
		rollErr    error
		wantStatus int
		wantCalls  []uint64
	}{
		{name: "with height", target: "/rollback?height=2", wantStatus: http.StatusOK, wantCalls: []uint64{2}},
		{name: "to zero", target: "/rollback?height=0", wantStatus: http.StatusOK, wantCalls: []uint64{0}},
		{name: "without height", target: "/rollback", wantStatus: http.StatusOK},
		{name: "non numeric", target: "/rollback?height=tip", wantStatus: http.StatusBadRequest},
		{name: "negative", target: "/rollback?height=-1", wantStatus: http.StatusBadRequest},
		{
			name:       "internal error",
			target:     "/rollback?height=1",
			rollErr:    &chain.InternalError{Height: 3, TxID: "tx3", Err: store.ErrNotFound},
			wantStatus: http.StatusInternalServerError,
			wantCalls:  []uint64{1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := &fakeEngine{ready: true, rollErr: tc.rollErr}
			rec, _ := do(t, NewHandler(e), http.MethodPost, tc.target, "")
			assert.Equal(t, tc.wantStatus, rec.Code)
			assert.Equal(t, tc.wantCalls, e.rollbackTo)
		})
	}
}

func TestHealthz(t *testing.T) {
	e := &fakeEngine{}
	h := NewHandler(e)

	rec, _ := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	e.ready = true
	rec, out := do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["result"])
}

func TestMethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/blocks", nil)
	rec := httptest.NewRecorder()
	NewHandler(&fakeEngine{ready: true}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
