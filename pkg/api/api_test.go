package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/pcclite/pkg/anchors"
	"github.com/Mindburn-Labs/pcclite/pkg/api"
	"github.com/Mindburn-Labs/pcclite/pkg/envelope/envelopetest"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
	"github.com/Mindburn-Labs/pcclite/pkg/observability"
	"github.com/Mindburn-Labs/pcclite/pkg/verifier"
)

type downLedger struct{ ledger.Ledger }

func (downLedger) Append(context.Context, ledger.Record) (ledger.Entry, error) {
	return ledger.Entry{}, errors.New("pq: connection refused to host=10.0.0.1")
}

func newServer(t *testing.T, l ledger.Ledger) (*httptest.Server, *observability.Metrics) {
	t.Helper()
	src, err := anchors.NewStaticSource(envelopetest.Anchors())
	require.NoError(t, err)
	m := observability.NewMetrics(true)
	v := verifier.New(src, l,
		verifier.WithMetrics(m),
		verifier.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	srv := httptest.NewServer(api.NewRouter(v, m))
	t.Cleanup(srv.Close)
	return srv, m
}

func post(t *testing.T, url string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeProblem(t *testing.T, resp *http.Response) api.ProblemDetail {
	t.Helper()
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	return p
}

func TestVerify_Receipt(t *testing.T) {
	srv, _ := newServer(t, ledger.NewMemoryLedger())
	resp := post(t, srv.URL+"/v1/verify", envelopetest.JSON(envelopetest.Valid()))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body api.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Allowed)
	assert.Equal(t, ledger.KindReceipt, body.Verdict.Kind)
	assert.Equal(t, uint64(1), body.Seal.SequenceNo)
	assert.Equal(t, ledger.Genesis, body.Seal.PrevHash)
}

func TestVerify_TombstoneIsStill200(t *testing.T) {
	srv, _ := newServer(t, ledger.NewMemoryLedger())
	env := envelopetest.Valid()
	env.EnergyEstUJ = 1300

	resp := post(t, srv.URL+"/v1/verify", envelopetest.JSON(env))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Allowed)
	assert.Equal(t, "witness_mismatch", string(body.Verdict.ReasonCode))
	require.NotNil(t, body.Seal.ReasonCode)
}

func TestVerify_MalformedBodyIsTombstone(t *testing.T) {
	srv, _ := newServer(t, ledger.NewMemoryLedger())
	resp := post(t, srv.URL+"/v1/verify", []byte(`{"proposal_digest": 42`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Allowed)
	assert.Equal(t, "malformed_envelope", string(body.Verdict.ReasonCode))
	assert.Equal(t, "G_ADMISSION", string(body.Verdict.FailedGateID))
}

func TestVerify_LedgerDownIs503(t *testing.T) {
	srv, _ := newServer(t, downLedger{})
	resp := post(t, srv.URL+"/v1/verify", envelopetest.JSON(envelopetest.Valid()))
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	p := decodeProblem(t, resp)
	assert.Equal(t, 503, p.Status)
	assert.Equal(t, "/v1/verify", p.Instance)
	assert.NotContains(t, p.Detail, "10.0.0.1")
	assert.Equal(t, resp.Header.Get("X-Request-ID"), p.TraceID)
}

func TestVerify_BodyTooLarge(t *testing.T) {
	l := ledger.NewMemoryLedger()
	src, err := anchors.NewStaticSource(envelopetest.Anchors())
	require.NoError(t, err)
	h := api.NewRouter(verifier.New(src, l), nil)

	big := `{"proposal_digest":"` + strings.Repeat("a", api.MaxBodyBytes) + `"}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/verify", strings.NewReader(big)))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	entries, err := l.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries, "an unread body is not a verdict")
}

func TestWitness(t *testing.T) {
	srv, _ := newServer(t, ledger.NewMemoryLedger())
	resp := post(t, srv.URL+"/v1/witness", envelopetest.JSON(envelopetest.Valid()))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.WitnessResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "sha256", body.Algorithm)
	assert.Equal(t, envelopetest.Witness, body.WitnessHash)

	resp = post(t, srv.URL+"/v1/witness", []byte(`[]`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, 400, decodeProblem(t, resp).Status)
}

func TestHealthzMetricsAndRouting(t *testing.T) {
	srv, _ := newServer(t, ledger.NewMemoryLedger())
	_ = post(t, srv.URL+"/v1/verify", envelopetest.JSON(envelopetest.Valid()))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `pcclite_verdicts_total{gate="",kind="RECEIPT",reason=""} 1`)

	resp, err = http.Get(srv.URL + "/v1/verify")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWriteError_Shape(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	api.WriteError(w, r, http.StatusBadRequest, "Bad Request", "field is missing")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var p api.ProblemDetail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, "https://pcclite.dev/errors/400", p.Type)
	assert.Equal(t, "Bad Request: field is missing", p.Error())
}
