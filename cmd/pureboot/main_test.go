package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	require.NoError(t, versionCmd.RunE(versionCmd, nil))
}

func TestMigrateCommandAppliesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	v := viper.New()
	v.Set("database_url", dbPath)
	migrateCmd.SetContext(contextWithViper(context.Background(), v))

	require.NoError(t, runMigrate(migrateCmd, nil))
}
