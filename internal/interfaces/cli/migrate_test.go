package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GUI0609/rdkit/internal/config"
	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/pkg/errors"
)

type mockMigrator struct {
	upFn     func() error
	downFn   func(steps int) error
	statusFn func() (uint, bool, error)
	forceFn  func(version int) error

	dbCfg config.DatabaseConfig
}

func (m *mockMigrator) Up() error {
	if m.upFn != nil {
		return m.upFn()
	}
	return nil
}

func (m *mockMigrator) Down(steps int) error {
	if m.downFn != nil {
		return m.downFn(steps)
	}
	return nil
}

func (m *mockMigrator) Status() (uint, bool, error) {
	if m.statusFn != nil {
		return m.statusFn()
	}
	return 0, false, nil
}

func (m *mockMigrator) Force(version int) error {
	if m.forceFn != nil {
		return m.forceFn(version)
	}
	return nil
}

func stubMigrator(t *testing.T, m *mockMigrator) {
	t.Helper()
	orig := newMigrator
	t.Cleanup(func() { newMigrator = orig })
	newMigrator = func(cfg config.DatabaseConfig, _ logging.Logger) SchemaMigrator {
		m.dbCfg = cfg
		return m
	}
}

func TestMigrateCmd_Structure(t *testing.T) {
	cmd := NewMigrateCmd()
	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"up", "down", "status", "force"} {
		assert.True(t, names[name], name)
	}
}

func TestMigrateUp(t *testing.T) {
	m := &mockMigrator{}
	stubMigrator(t, m)

	out, err := execRoot(t, baseConfig, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: schema is up to date")
	assert.Equal(t, "db.internal", m.dbCfg.Host)
}

func TestMigrateUp_Failure(t *testing.T) {
	stubMigrator(t, &mockMigrator{upFn: func() error { return errors.Internal("dirty database version 3") }})

	_, err := execRoot(t, baseConfig, "migrate", "up")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
	assert.Contains(t, err.Error(), "dirty database version 3")
}

func TestMigrateDown(t *testing.T) {
	var got int
	stubMigrator(t, &mockMigrator{downFn: func(steps int) error { got = steps; return nil }})

	out, err := execRoot(t, baseConfig, "migrate", "down", "--steps", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Contains(t, out, "rolled back 2 migration(s)")
}

func TestMigrateDown_InvalidSteps(t *testing.T) {
	called := false
	stubMigrator(t, &mockMigrator{downFn: func(int) error { called = true; return nil }})

	_, err := execRoot(t, baseConfig, "migrate", "down", "--steps", "0")
	require.Error(t, err)
	assert.Equal(t, 2, errors.ExitCode(err))
	assert.False(t, called)
}

func TestMigrateStatus(t *testing.T) {
	stubMigrator(t, &mockMigrator{statusFn: func() (uint, bool, error) { return 3, true, nil }})

	out, err := execRoot(t, baseConfig, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "VERSION  DIRTY")
	assert.Contains(t, out, "3        true")
}

func TestMigrateForce(t *testing.T) {
	var got int
	stubMigrator(t, &mockMigrator{forceFn: func(v int) error { got = v; return nil }})

	out, err := execRoot(t, baseConfig, "migrate", "force", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.Contains(t, out, "schema version set to 1")

	_, err = execRoot(t, baseConfig, "migrate", "force", "latest")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))

	_, err = execRoot(t, baseConfig, "migrate", "force")
	require.Error(t, err)
}
