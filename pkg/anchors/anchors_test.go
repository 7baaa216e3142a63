package anchors

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Snapshot {
	return &Snapshot{
		Version:                 "1.2.0",
		Epoch:                   "2026-10",
		ConstitutionHashCurrent: "c0ffee",
		EnergyPolicyHashCurrent: "e1e1e1",
		EnergyBudgetUJ:          map[string]int64{"FAST": 10, "MID": 100},
	}
}

func TestSnapshot_Validate(t *testing.T) {
	require.NoError(t, sample().Validate())

	s := sample()
	s.Version = ""
	assert.NoError(t, s.Validate(), "version is optional")

	s = sample()
	s.Version = "2.0.0"
	assert.ErrorIs(t, s.Validate(), ErrUnsupportedVersion)

	s = sample()
	s.Version = "one"
	assert.ErrorIs(t, s.Validate(), ErrUnsupportedVersion)

	s = sample()
	s.ConstitutionHashCurrent = ""
	assert.ErrorIs(t, s.Validate(), ErrInvalid)

	s = sample()
	s.EnergyPolicyHashCurrent = ""
	assert.ErrorIs(t, s.Validate(), ErrInvalid)

	s = sample()
	s.EnergyBudgetUJ["HEAVY"] = -1
	assert.ErrorIs(t, s.Validate(), ErrInvalid)

	var nilSnap *Snapshot
	assert.ErrorIs(t, nilSnap.Validate(), ErrInvalid)
}

func TestSnapshot_BudgetAndClone(t *testing.T) {
	s := sample()
	b, ok := s.Budget("MID")
	assert.True(t, ok)
	assert.Equal(t, int64(100), b)

	_, ok = s.Budget("HEAVY")
	assert.False(t, ok)

	cp := s.Clone()
	cp.EnergyBudgetUJ["MID"] = 1
	b, _ = s.Budget("MID")
	assert.Equal(t, int64(100), b, "clone must not alias the budget table")

	assert.Equal(t, []string{"FAST", "MID"}, s.Classes())
	_, ok = Empty().Budget("FAST")
	assert.False(t, ok)
}

func TestStaticSource_ServesCopies(t *testing.T) {
	src, err := NewStaticSource(sample())
	require.NoError(t, err)

	a, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	a.EnergyBudgetUJ["FAST"] = 999

	b, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.EnergyBudgetUJ["FAST"])

	_, err = NewStaticSource(&Snapshot{})
	assert.Error(t, err)
}

func TestFileSource_JSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "anchors.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
		"version": "1.0.0",
		"constitution_hash_current": "c0ffee",
		"energy_policy_hash_current": "e1e1e1",
		"energy_budget_uj": {"FAST": 10, "MID": 100}
	}`), 0o600))

	yamlPath := filepath.Join(dir, "anchors.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
version: 1.0.0
constitution_hash_current: c0ffee
energy_policy_hash_current: e1e1e1
energy_budget_uj:
  FAST: 10
  MID: 100
`), 0o600))

	for _, p := range []string{jsonPath, yamlPath} {
		s, err := NewFileSource(p).Snapshot(context.Background())
		require.NoError(t, err, p)
		assert.Equal(t, "c0ffee", s.ConstitutionHashCurrent)
		assert.Equal(t, int64(100), s.EnergyBudgetUJ["MID"])
	}
}

func TestFileSource_ReloadsOnEveryCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchors.json")
	write := func(h string) {
		require.NoError(t, os.WriteFile(path, []byte(`{"constitution_hash_current":"`+h+`","energy_policy_hash_current":"e","energy_budget_uj":{}}`), 0o600))
	}
	src := NewFileSource(path)

	write("one")
	s, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "one", s.ConstitutionHashCurrent)

	write("two")
	s, err = src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", s.ConstitutionHashCurrent)
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.json")
	require.NoError(t, os.WriteFile(unknown, []byte(`{"constitution_hash_current":"c","energy_policy_hash_current":"e","energy_budget_uj":{},"extra":1}`), 0o600))
	_, err = LoadFile(unknown)
	assert.ErrorIs(t, err, ErrInvalid)

	future := filepath.Join(dir, "future.yml")
	require.NoError(t, os.WriteFile(future, []byte("version: 3.1.0\nconstitution_hash_current: c\nenergy_policy_hash_current: e\n"), 0o600))
	_, err = LoadFile(future)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewFileSource(unknown).Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeHash_RoundTrip(t *testing.T) {
	fields := map[string]string{}
	for k, v := range encodeHash(sample()) {
		fields[k] = v.(string)
	}
	s, err := decodeHash(fields)
	require.NoError(t, err)
	assert.Equal(t, sample(), s)

	fields["budget:MID"] = "lots"
	_, err = decodeHash(fields)
	assert.ErrorIs(t, err, ErrInvalid)
}

// TestRedisSource_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisSource_Integration(t *testing.T) {
	src := NewRedisSource("localhost:6379", "", 0, "pcclite:test:anchors")
	defer func() { _ = src.Close() }()
	ctx := context.Background()
	if err := src.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	require.NoError(t, src.client.Del(ctx, src.key).Err())
	_, err := src.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrInvalid, "empty hash must not yield a snapshot")

	require.NoError(t, src.client.HSet(ctx, src.key, encodeHash(sample())).Err())
	defer src.client.Del(ctx, src.key)

	s, err := src.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample(), s)
}
