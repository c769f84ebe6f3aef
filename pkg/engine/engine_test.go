package engine_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lming/mimir/internal/enginetest"
	"github.com/lming/mimir/pkg/engine"
)

func startSupervisor(t *testing.T, cfg engine.Config) *engine.Supervisor {
	t.Helper()
	if cfg.Launcher == nil {
		cfg.Launcher = enginetest.NewLauncher()
	}
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = t.TempDir()
	}
	sup := engine.New(cfg)
	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(func() { _ = sup.Stop(context.Background()) })
	return sup
}

func TestSupervisorStartReachesReady(t *testing.T) {
	sup := startSupervisor(t, engine.Config{})

	assert.Equal(t, engine.StateReady, sup.State())
	require.NotEmpty(t, sup.URL())

	resp, err := http.Get(sup.URL() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSupervisorStartTwice(t *testing.T) {
	sup := startSupervisor(t, engine.Config{})

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrAlreadyStarted)
}

func TestSupervisorReadinessTimeout(t *testing.T) {
	launcher := enginetest.NewLauncher()
	launcher.HoldReady = true

	sup := engine.New(engine.Config{
		DataDirectory:    t.TempDir(),
		Launcher:         launcher,
		ReadinessTimeout: 300 * time.Millisecond,
	})
	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrReadinessTimeout)
	assert.Equal(t, engine.StateFailed, sup.State())
}

func TestSupervisorDirectoryLocked(t *testing.T) {
	dir := t.TempDir()
	first := startSupervisor(t, engine.Config{DataDirectory: dir})
	require.Equal(t, engine.StateReady, first.State())

	second := engine.New(engine.Config{
		DataDirectory: dir,
		Launcher:      enginetest.NewLauncher(),
	})
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDirectoryLocked)
}

func TestSupervisorStopReleasesDirectory(t *testing.T) {
	dir := t.TempDir()
	sup := startSupervisor(t, engine.Config{DataDirectory: dir})

	require.NoError(t, sup.Stop(context.Background()))
	assert.Equal(t, engine.StateStopped, sup.State())

	// The directory must be startable again by a fresh supervisor.
	next := startSupervisor(t, engine.Config{DataDirectory: dir})
	assert.Equal(t, engine.StateReady, next.State())
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	sup := startSupervisor(t, engine.Config{})

	require.NoError(t, sup.Stop(context.Background()))
	require.NoError(t, sup.Stop(context.Background()), "second stop is a no-op")
}

func TestSupervisorStopBeforeStart(t *testing.T) {
	sup := engine.New(engine.Config{
		DataDirectory: t.TempDir(),
		Launcher:      enginetest.NewLauncher(),
	})
	assert.NoError(t, sup.Stop(context.Background()), "stopping a never-started engine is a no-op")
}

func TestSupervisorMasterKeyIsPassedThrough(t *testing.T) {
	sup := startSupervisor(t, engine.Config{MasterKey: "s3cret"})

	// Health stays open; anything else requires the key.
	resp, err := http.Get(sup.URL() + "/version")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, sup.URL()+"/version", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSupervisorLaunchesEngineOnce(t *testing.T) {
	launcher := enginetest.NewLauncher()
	sup := startSupervisor(t, engine.Config{Launcher: launcher})

	assert.Equal(t, 1, launcher.Launches())
	assert.Equal(t, engine.StateReady, sup.State())
}
