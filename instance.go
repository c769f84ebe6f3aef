package mimir

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lming/mimir/pkg/engine"
)

// destroyGracePeriod bounds engine shutdown during DestroyInstance.
const destroyGracePeriod = 15 * time.Second

// manager is the process-wide registry mapping instance names to live
// engines. Creation for a given name coalesces: N concurrent callers start
// at most one engine and all receive the same handle.
type manager struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	group     singleflight.Group
}

func newManager() *manager {
	return &manager{instances: make(map[string]*Instance)}
}

// defaultManager backs the package-level functions. It starts empty;
// teardown is explicit via DestroyInstance or Shutdown, never implicit at
// process exit, so tests can reset state between runs.
var defaultManager = newManager()

// Instance is one named, supervised engine bound to a data directory.
// Obtain it with GetOrCreateInstance; share it freely across goroutines.
type Instance struct {
	name    string
	dataDir string
	mgr     *manager
	sup     *engine.Supervisor
	client  *client
	closed  atomic.Bool
}

// GetOrCreateInstance returns the live instance named name, starting a
// supervised engine rooted at the configured data directory on first use.
// It is idempotent: when the instance already exists its options are
// ignored, except that a conflicting data directory is an error.
func GetOrCreateInstance(ctx context.Context, name string, opts ...Option) (*Instance, error) {
	return defaultManager.getOrCreate(ctx, name, opts...)
}

// DefaultInstance is GetOrCreateInstance under the reserved name "default".
func DefaultInstance(ctx context.Context, opts ...Option) (*Instance, error) {
	return defaultManager.getOrCreate(ctx, DefaultInstanceName, opts...)
}

// GetInstance is a pure lookup; it never starts an engine.
func GetInstance(name string) (*Instance, bool) {
	return defaultManager.get(name)
}

// DestroyInstance stops the named engine, releases its directory lock and
// removes the registry entry. Unknown or already-destroyed names are a
// no-op.
func DestroyInstance(name string) error {
	return defaultManager.destroy(name)
}

// ListInstances returns the names of live instances, sorted.
func ListInstances() []string {
	return defaultManager.list()
}

// Shutdown destroys every live instance. Intended for process teardown and
// test cleanup.
func Shutdown() error {
	var firstErr error
	for _, name := range defaultManager.list() {
		if err := defaultManager.destroy(name); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *manager) get(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[name]
	return inst, ok
}

func (m *manager) getOrCreate(ctx context.Context, name string, opts ...Option) (*Instance, error) {
	if name == "" {
		return nil, errorf(KindInstanceStartup, "invalid_instance_name", "instance name is required")
	}

	o := buildOptions(name, opts)

	if inst, ok := m.get(name); ok {
		return inst.checkDataDir(o.DataDirectory)
	}

	// Coalesce concurrent creations of the same name into one startup.
	v, err, _ := m.group.Do(name, func() (any, error) {
		if inst, ok := m.get(name); ok {
			return inst, nil
		}
		return m.create(ctx, name, o)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Instance).checkDataDir(o.DataDirectory)
}

func (m *manager) create(ctx context.Context, name string, o Options) (*Instance, error) {
	sup := engine.New(engine.Config{
		DataDirectory:    o.DataDirectory,
		MasterKey:        o.MasterKey,
		BinaryPath:       o.EngineBinaryPath,
		ReadinessTimeout: o.ReadinessTimeout,
		Launcher:         o.Launcher,
		Logger:           o.Logger,
	})
	if err := sup.Start(ctx); err != nil {
		return nil, mapStartupError(name, err)
	}

	inst := &Instance{
		name:    name,
		dataDir: o.DataDirectory,
		mgr:     m,
		sup:     sup,
		client:  newClient(sup.URL(), o.MasterKey),
	}

	m.mu.Lock()
	m.instances[name] = inst
	m.mu.Unlock()
	return inst, nil
}

func (m *manager) destroy(name string) error {
	m.mu.Lock()
	inst, ok := m.instances[name]
	delete(m.instances, name)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	inst.closed.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), destroyGracePeriod)
	defer cancel()
	return inst.sup.Stop(ctx)
}

func (m *manager) list() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

func mapStartupError(name string, err error) *Error {
	switch {
	case stderrors.Is(err, engine.ErrReadinessTimeout):
		return newError(KindTimeout, "engine_readiness_timeout",
			fmt.Sprintf("instance %q: %v", name, err), err)
	case stderrors.Is(err, engine.ErrDirectoryLocked):
		return newError(KindInstanceStartup, "data_directory_locked",
			fmt.Sprintf("instance %q: %v", name, err), err)
	case stderrors.Is(err, engine.ErrBinaryNotFound):
		return newError(KindInstanceStartup, "engine_binary_not_found",
			fmt.Sprintf("instance %q: %v", name, err), err)
	default:
		return newError(KindInstanceStartup, "engine_startup_failed",
			fmt.Sprintf("instance %q: %v", name, err), err)
	}
}

func (inst *Instance) checkDataDir(dataDir string) (*Instance, error) {
	if dataDir != inst.dataDir {
		return nil, errorf(KindInstanceStartup, "data_directory_conflict",
			"instance %q is already bound to %s", inst.name, inst.dataDir)
	}
	return inst, nil
}

// Name returns the instance's registry name.
func (inst *Instance) Name() string { return inst.name }

// DataDirectory returns the directory the supervised engine owns.
func (inst *Instance) DataDirectory() string { return inst.dataDir }

// URL returns the supervised engine's base URL. Useful for diagnostics.
func (inst *Instance) URL() string { return inst.sup.URL() }

// live returns the instance's client, or an instance-not-found error after
// DestroyInstance. Handles never return stale successes.
func (inst *Instance) live() (*client, error) {
	if inst.closed.Load() {
		return nil, errorf(KindInstanceNotFound, "instance_destroyed",
			"instance %q has been destroyed", inst.name)
	}
	return inst.client, nil
}

// Health checks that the supervised engine accepts requests.
func (inst *Instance) Health(ctx context.Context) error {
	c, err := inst.live()
	if err != nil {
		return err
	}
	return c.health(ctx)
}

// Index returns a handle bound to (instance name, index name). The handle
// re-resolves the instance on every operation, so it fails cleanly after
// DestroyInstance instead of using a stale connection.
func (inst *Instance) Index(uid string) *Index {
	return &Index{mgr: inst.mgr, instanceName: inst.name, uid: uid}
}

// CreateIndex explicitly creates an index, optionally declaring its primary
// key. Indexes are also created implicitly by the first document write.
func (inst *Instance) CreateIndex(ctx context.Context, uid, primaryKey string) (Task, error) {
	c, err := inst.live()
	if err != nil {
		return Task{}, err
	}
	return c.createIndex(ctx, uid, primaryKey)
}

// DeleteIndex removes an index and all its documents.
func (inst *Instance) DeleteIndex(ctx context.Context, uid string) (Task, error) {
	c, err := inst.live()
	if err != nil {
		return Task{}, err
	}
	return c.deleteIndex(ctx, uid)
}

// ListIndexes returns the indexes inside this instance.
func (inst *Instance) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	c, err := inst.live()
	if err != nil {
		return nil, err
	}
	return c.listIndexes(ctx)
}

// GetTask fetches the current state of a task.
func (inst *Instance) GetTask(ctx context.Context, uid int64) (Task, error) {
	c, err := inst.live()
	if err != nil {
		return Task{}, err
	}
	return c.getTask(ctx, uid)
}

// WaitForTask polls until the task is terminal or ctx is done. Bound the
// wait with a context deadline.
func (inst *Instance) WaitForTask(ctx context.Context, uid int64) (Task, error) {
	c, err := inst.live()
	if err != nil {
		return Task{}, err
	}
	return c.waitForTask(ctx, uid)
}
