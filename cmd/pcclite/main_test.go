package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/pcclite/pkg/envelope/envelopetest"
	"github.com/Mindburn-Labs/pcclite/pkg/harness"
)

const (
	testVectors  = "../../testdata/vectors"
	testAnchors  = "../../testdata/anchors.json"
	testEnvelope = "../../testdata/envelope.json"
)

func cleanEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PCC_CONFIG", "PCC_ANCHORS_PATH", "PCC_REDIS_ADDR", "PCC_LEDGER_DRIVER", "PCC_LEDGER_DSN",
		"PCC_OUT_DIR", "PCC_VECTORS_DIR", "PCC_HASH_ALG", "PCC_OTLP_ENDPOINT", "PCC_ARTIFACT_STORE",
		"PCC_METRICS_TEXTFILE", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "ERROR")
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"pcclite"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_UsageAndUnknown(t *testing.T) {
	cleanEnv(t)

	code, out, _ := run(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "run-vectors")

	code, _, errOut := run(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command")

	code, _, _ = run(t)
	assert.Equal(t, 2, code)

	code, out, _ = run(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, version)
}

func TestRun_BadConfig(t *testing.T) {
	cleanEnv(t)
	t.Setenv("PCC_HASH_ALG", "md5")
	code, _, errOut := run(t, "help")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "hash_alg")
}

func TestRunVectors_AndLedgerVerify(t *testing.T) {
	cleanEnv(t)
	out := t.TempDir()

	code, stdout, stderr := run(t, "run-vectors", "--vectors", testVectors, "--anchors", testAnchors, "--out", out)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "OK=2 FAIL=8 MISMATCH=0")
	assert.Contains(t, stdout, "root_sha256=")

	seal := filepath.Join(out, harness.LedgerFile)
	code, stdout, _ = run(t, "ledger", "verify", "--file", seal)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "OK: 10 entries")

	data, err := os.ReadFile(seal)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "egl_budget_exceeded", "witness_mismatch", 1)
	require.NoError(t, os.WriteFile(seal, []byte(tampered), 0o600))
	code, stdout, _ = run(t, "ledger", "verify", "--file", seal)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "FAIL")
}

func TestLedgerVerify_FileDriverDoesNotCreateSeal(t *testing.T) {
	cleanEnv(t)
	seal := filepath.Join(t.TempDir(), "absent.jsonl")

	code, _, stderr := run(t, "ledger", "verify", "--driver", "file", "--dsn", seal)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Error")
	_, err := os.Stat(seal)
	assert.True(t, os.IsNotExist(err), "verification must not create the seal file")
}

func TestLedgerVerify_FileDriverReadsExistingSeal(t *testing.T) {
	cleanEnv(t)
	out := t.TempDir()
	code, _, stderr := run(t, "run-vectors", "--vectors", testVectors, "--anchors", testAnchors, "--out", out)
	require.Equal(t, 0, code, stderr)

	code, stdout, _ := run(t, "ledger", "verify", "--driver", "file", "--dsn", filepath.Join(out, harness.LedgerFile))
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "OK: 10 entries")
}

func TestRunVectors_JSONAndMismatch(t *testing.T) {
	cleanEnv(t)

	code, stdout, _ := run(t, "run-vectors", "--vectors", testVectors, "--anchors", testAnchors, "--out", t.TempDir(), "--json")
	require.Equal(t, 0, code)
	var sum harness.Summary
	require.NoError(t, json.Unmarshal([]byte(stdout), &sum))
	assert.Equal(t, 2, sum.OK)

	vecs := t.TempDir()
	b, err := json.Marshal(map[string]any{
		"envelope": json.RawMessage(envelopetest.JSON(envelopetest.Valid())),
		"expect":   "egl_budget_exceeded",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(vecs, "v.json"), b, 0o600))

	code, stdout, _ = run(t, "run-vectors", "--vectors", vecs, "--anchors", testAnchors, "--out", t.TempDir())
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "MISS")
}

func TestRunVectors_RuntimeError(t *testing.T) {
	cleanEnv(t)
	code, _, errOut := run(t, "run-vectors", "--vectors", testVectors, "--anchors", "/nonexistent/anchors.json", "--out", t.TempDir())
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "load anchors")

	code, _, _ = run(t, "run-vectors", "--hash", "md5")
	assert.Equal(t, 2, code)
}

func TestVerify(t *testing.T) {
	cleanEnv(t)

	code, stdout, stderr := run(t, "verify", "--envelope", testEnvelope, "--anchors", testAnchors)
	require.Equal(t, 0, code, stderr)
	assert.True(t, strings.HasPrefix(stdout, "RECEIPT "))

	code, _, _ = run(t, "verify", "--envelope", testEnvelope, "--anchors", "../../testdata/anchors.yaml")
	assert.Equal(t, 0, code)

	env := envelopetest.Valid()
	env.EnergyEstUJ = 9000
	path := filepath.Join(t.TempDir(), "env.json")
	require.NoError(t, os.WriteFile(path, envelopetest.JSON(env), 0o600))
	code, stdout, _ = run(t, "verify", "--envelope", path, "--anchors", testAnchors, "--json")
	assert.Equal(t, 1, code)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &body))
	assert.Equal(t, false, body["allowed"])

	code, _, _ = run(t, "verify")
	assert.Equal(t, 2, code)
}

func TestVerify_SQLiteLedger(t *testing.T) {
	cleanEnv(t)
	dsn := filepath.Join(t.TempDir(), "ledger.db")

	for i := 0; i < 2; i++ {
		code, _, stderr := run(t, "verify", "--envelope", testEnvelope, "--anchors", testAnchors,
			"--ledger-driver", "sqlite", "--ledger", dsn)
		require.Equal(t, 0, code, stderr)
	}

	code, stdout, _ := run(t, "ledger", "verify", "--driver", "sqlite", "--dsn", dsn)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "OK: 2 entries")
}

func TestWitness(t *testing.T) {
	cleanEnv(t)

	code, stdout, _ := run(t, "witness", "--envelope", testEnvelope)
	require.Equal(t, 0, code)
	assert.Equal(t, envelopetest.Witness, strings.TrimSpace(stdout))

	code, stdout, _ = run(t, "witness", "--envelope", testEnvelope, "--hash", "blake2b-256")
	require.Equal(t, 0, code)
	assert.Equal(t, envelopetest.WitnessBLAKE2b, strings.TrimSpace(stdout))

	stdin = strings.NewReader(`{"not":"an envelope"}`)
	t.Cleanup(func() { stdin = os.Stdin })
	code, _, _ = run(t, "witness", "--envelope", "-")
	assert.Equal(t, 1, code)
}

func TestLedgerUsage(t *testing.T) {
	cleanEnv(t)
	code, _, errOut := run(t, "ledger")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Usage")
}
