package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnnyang0612/commission-system-sub001/commission"
	"github.com/johnnyang0612/commission-system-sub001/config"
	"github.com/johnnyang0612/commission-system-sub001/ledger"
)

func testConfig(t *testing.T, driver string) config.Config {
	t.Helper()
	v := config.New()
	v.Set("database.driver", driver)
	v.Set("database.path", filepath.Join(t.TempDir(), "commission.db"))
	v.Set("log.level", "error")
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func TestBuildApp_SQLite(t *testing.T) {
	app, err := buildApp(testConfig(t, "sqlite"))
	require.NoError(t, err)
	defer app.Close()

	assert.NoError(t, app.Ping(context.Background()))
	assert.Equal(t, "2024-01", app.Service.Rates().At(ledger.NewDate(2025, 1, 1)).Version)

	families, err := app.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestBuildApp_BadRatesFile(t *testing.T) {
	cfg := testConfig(t, "memory")
	cfg.Rates.File = filepath.Join(t.TempDir(), "missing.json")

	_, err := buildApp(cfg)

	assert.Error(t, err)
}

func TestRunReconcile_PrintsSummary(t *testing.T) {
	// GIVEN: a database holding one partly paid contract
	cfg := testConfig(t, "sqlite")
	app, err := buildApp(cfg)
	require.NoError(t, err)
	ctx := context.Background()
	res, err := app.Service.CreateContract(ctx, ledger.Contract{
		SalespersonID:   "sp_alice",
		Type:            ledger.ContractRenewal,
		BaseAmount:      ledger.MustDecimal("100000"),
		PaymentTemplate: "10",
	})
	require.NoError(t, err)
	_, err = app.Service.RecordPayment(ctx, res.Contract.ID, commission.PaymentInput{Amount: ledger.MustDecimal("50000")})
	require.NoError(t, err)
	require.NoError(t, app.Close())

	// WHEN: running the one-shot command against the same file
	var out bytes.Buffer
	err = runReconcile(ctx, cfg, &out)

	// THEN: the earned half is released and reported
	require.NoError(t, err)
	var summary map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, float64(1), summary["succeeded"])
	assert.Equal(t, "7500", summary["released"])
}

func TestRootCmd_ReconcileWithConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "commission.yaml")
	yaml := "database:\n  driver: memory\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"reconcile", "--config", path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"processed": 0`)
}
