package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iago/risk-reanalysis/internal/analyzer/distributions"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 10, cfg.DrainBatchSize)
	assert.Equal(t, 30*time.Minute, cfg.StuckJobMaxAge)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/risk")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("DRAIN_TIMEOUT", "90s")
	t.Setenv("DRAIN_BATCH_SIZE", "not-a-number")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg := Load()

	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 90*time.Second, cfg.DrainTimeout)
	assert.Equal(t, 10, cfg.DrainBatchSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestValidate(t *testing.T) {
	cfg := Config{StoreDriver: StorePostgres, DrainBatchSize: 1}
	assert.ErrorContains(t, cfg.Validate(), "DATABASE_URL")

	cfg.StoreDriver = "mongo"
	assert.ErrorContains(t, cfg.Validate(), "unknown STORE_DRIVER")
}

func TestLoadDotEnvKeepsProcessValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RISK_TEST_FROM_FILE=file\nRISK_TEST_OVERRIDE=file\n"), 0o600))
	t.Setenv("RISK_TEST_OVERRIDE", "process")
	t.Cleanup(func() { os.Unsetenv("RISK_TEST_FROM_FILE") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))

	assert.Equal(t, "file", os.Getenv("RISK_TEST_FROM_FILE"))
	assert.Equal(t, "process", os.Getenv("RISK_TEST_OVERRIDE"))
}

func TestLoadRiskRules(t *testing.T) {
	rules, err := LoadRiskRules("")
	require.NoError(t, err)
	assert.Equal(t, distributions.DefaultRules(), rules)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("minor_weight: 30\nlarge_unpaid_balance: 150000\n"), 0o600))

	rules, err = LoadRiskRules(path)
	require.NoError(t, err)
	assert.Equal(t, 30.0, rules.MinorWeight)
	assert.Equal(t, 150_000.0, rules.LargeUnpaidBalance)
	assert.Equal(t, 40.0, rules.NonResidentWeight)
}

func TestLoadRiskRulesRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exclusion_reduction: -5\n"), 0o600))

	_, err := LoadRiskRules(path)
	assert.ErrorContains(t, err, "exclusion_reduction")

	for _, value := range []string{".nan", ".inf", "-.inf"} {
		require.NoError(t, os.WriteFile(path, []byte("non_resident_weight: "+value+"\n"), 0o600))
		_, err = LoadRiskRules(path)
		assert.ErrorContains(t, err, "non_resident_weight must be a finite number", value)
	}

	_, err = LoadRiskRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
