package httpx_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/payment-worker/internal/httpx"
	"github.com/jcmexdev/payment-worker/internal/ledger"
)

type stubLedger struct {
	rec *ledger.Record
	err error
}

func (s *stubLedger) Append(context.Context, *ledger.Record) error { return nil }

func (s *stubLedger) LastByOrderAndUser(context.Context, int64, int64) (*ledger.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rec, nil
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func newServer(repo ledger.Repository, pingers map[string]httpx.Pinger) *httptest.Server {
	handler := httpx.NewHandler(repo, pingers)
	return httptest.NewServer(httpx.NewRouter(handler, prometheus.NewRegistry()))
}

func TestGetPayment(t *testing.T) {
	repo := &stubLedger{rec: &ledger.Record{ID: 3, UserID: 7, OrderID: 1, Amount: -50, CreatedAt: time.Now().UTC()}}
	srv := newServer(repo, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/payments/1/7")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, float64(1), body["order_id"])
	assert.Equal(t, float64(-50), body["payment_amount"])
}

func TestGetPaymentNotFound(t *testing.T) {
	srv := newServer(&stubLedger{err: ledger.ErrNotFound}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/payments/1/7")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetPaymentBadParams(t *testing.T) {
	srv := newServer(&stubLedger{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/payments/abc/7")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	cases := []struct {
		name       string
		pingers    map[string]httpx.Pinger
		wantStatus int
	}{
		{
			name:       "all healthy",
			pingers:    map[string]httpx.Pinger{"redis": stubPinger{}, "ledger": stubPinger{}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "one dependency down",
			pingers:    map[string]httpx.Pinger{"redis": stubPinger{err: errors.New("refused")}},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newServer(&stubLedger{}, tc.pingers)
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tc.wantStatus, resp.StatusCode)
		})
	}
}
