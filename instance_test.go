package mimir_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lming/mimir"
	"github.com/lming/mimir/internal/enginetest"
	"github.com/lming/mimir/pkg/engine"
)

// testName yields a registry-safe instance name unique to the test.
func testName(t *testing.T) string {
	return "t-" + strings.ToLower(strings.ReplaceAll(t.Name(), "/", "-"))
}

// startInstance brings up an instance backed by the in-process engine.
func startInstance(t *testing.T, opts ...mimir.Option) (*mimir.Instance, *enginetest.Launcher) {
	t.Helper()
	name := testName(t)
	launcher := enginetest.NewLauncher()
	all := append([]mimir.Option{
		mimir.WithDataDirectory(t.TempDir()),
		mimir.WithLauncher(launcher),
	}, opts...)

	inst, err := mimir.GetOrCreateInstance(context.Background(), name, all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mimir.DestroyInstance(name) })
	return inst, launcher
}

func TestGetOrCreateInstanceCoalescesConcurrentCreations(t *testing.T) {
	name := testName(t)
	dataDir := t.TempDir()
	launcher := enginetest.NewLauncher()
	t.Cleanup(func() { _ = mimir.DestroyInstance(name) })

	const callers = 16
	instances := make([]*mimir.Instance, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := mimir.GetOrCreateInstance(context.Background(), name,
				mimir.WithDataDirectory(dataDir),
				mimir.WithLauncher(launcher))
			assert.NoError(t, err)
			instances[i] = inst
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, launcher.Launches(), "concurrent creations must start one engine")
	for _, inst := range instances[1:] {
		assert.Same(t, instances[0], inst, "all callers share one handle")
	}
}

func TestGetOrCreateInstanceRejectsConflictingDataDir(t *testing.T) {
	inst, _ := startInstance(t)

	_, err := mimir.GetOrCreateInstance(context.Background(), inst.Name(),
		mimir.WithDataDirectory(t.TempDir()),
		mimir.WithLauncher(enginetest.NewLauncher()))
	require.Error(t, err)
	assert.True(t, mimir.IsKind(err, mimir.KindInstanceStartup))
	assert.True(t, errors.Is(err, &mimir.Error{Kind: mimir.KindInstanceStartup, Code: "data_directory_conflict"}))
}

func TestGetOrCreateInstanceSameDataDirReturnsExisting(t *testing.T) {
	inst, launcher := startInstance(t)

	again, err := mimir.GetOrCreateInstance(context.Background(), inst.Name(),
		mimir.WithDataDirectory(inst.DataDirectory()),
		mimir.WithLauncher(launcher))
	require.NoError(t, err)
	assert.Same(t, inst, again)
	assert.Equal(t, 1, launcher.Launches())
}

func TestGetInstanceIsPureLookup(t *testing.T) {
	_, ok := mimir.GetInstance(testName(t) + "-missing")
	assert.False(t, ok)

	inst, _ := startInstance(t)
	got, ok := mimir.GetInstance(inst.Name())
	require.True(t, ok)
	assert.Same(t, inst, got)
}

func TestDestroyInstanceIsIdempotent(t *testing.T) {
	inst, _ := startInstance(t)

	require.NoError(t, mimir.DestroyInstance(inst.Name()))
	require.NoError(t, mimir.DestroyInstance(inst.Name()), "second destroy is a no-op")
	require.NoError(t, mimir.DestroyInstance("never-existed"))
}

func TestHandlesFailAfterDestroy(t *testing.T) {
	inst, _ := startInstance(t)
	idx := inst.Index("movies")
	ctx := context.Background()

	_, err := idx.AddDocuments(ctx, []mimir.Document{
		mimir.Doc(mimir.F("id", mimir.Int(1))),
	})
	require.NoError(t, err)

	require.NoError(t, mimir.DestroyInstance(inst.Name()))

	assert.True(t, mimir.IsKind(inst.Health(ctx), mimir.KindInstanceNotFound))

	_, err = idx.Search(ctx, mimir.Query{Query: "anything"})
	require.Error(t, err)
	assert.True(t, mimir.IsKind(err, mimir.KindInstanceNotFound),
		"index handles re-resolve the instance and must not use a stale connection")

	_, err = inst.ListIndexes(ctx)
	assert.True(t, mimir.IsKind(err, mimir.KindInstanceNotFound))
}

func TestListInstances(t *testing.T) {
	inst, _ := startInstance(t)
	assert.Contains(t, mimir.ListInstances(), inst.Name())
}

func TestInstanceHealthAndURL(t *testing.T) {
	inst, _ := startInstance(t)
	require.NoError(t, inst.Health(context.Background()))
	assert.True(t, strings.HasPrefix(inst.URL(), "http://127.0.0.1:"))
}

func TestStartupFailsWhenLauncherFails(t *testing.T) {
	name := testName(t)
	launcher := enginetest.NewLauncher()
	launcher.FailLaunch = errors.New("no engine here")

	_, err := mimir.GetOrCreateInstance(context.Background(), name,
		mimir.WithDataDirectory(t.TempDir()),
		mimir.WithLauncher(launcher))
	require.Error(t, err)
	assert.True(t, mimir.IsKind(err, mimir.KindInstanceStartup))
}

func TestStartupTimesOutWhenEngineNeverReady(t *testing.T) {
	name := testName(t)
	launcher := enginetest.NewLauncher()
	launcher.HoldReady = true

	_, err := mimir.GetOrCreateInstance(context.Background(), name,
		mimir.WithDataDirectory(t.TempDir()),
		mimir.WithLauncher(launcher),
		mimir.WithReadinessTimeout(300*time.Millisecond))
	require.Error(t, err)
	assert.True(t, mimir.IsKind(err, mimir.KindTimeout))
}

func TestStartupFailsWhenDataDirLocked(t *testing.T) {
	name := testName(t)
	dataDir := t.TempDir()

	// Simulate another process owning the directory.
	lock := engine.NewDirLock(dataDir)
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer func() { _ = lock.Unlock() }()

	_, err = mimir.GetOrCreateInstance(context.Background(), name,
		mimir.WithDataDirectory(dataDir),
		mimir.WithLauncher(enginetest.NewLauncher()))
	require.Error(t, err)
	assert.True(t, mimir.IsKind(err, mimir.KindInstanceStartup))
	assert.True(t, errors.Is(err, &mimir.Error{Kind: mimir.KindInstanceStartup, Code: "data_directory_locked"}))
}

func TestMasterKeyIsEnforcedEndToEnd(t *testing.T) {
	inst, _ := startInstance(t, mimir.WithMasterKey("secret"))

	require.NoError(t, inst.Health(context.Background()))

	task, err := inst.CreateIndex(context.Background(), "movies", "id")
	require.NoError(t, err)
	done, err := inst.WaitForTask(context.Background(), task.UID)
	require.NoError(t, err)
	assert.Equal(t, mimir.TaskSucceeded, done.Status)
}
