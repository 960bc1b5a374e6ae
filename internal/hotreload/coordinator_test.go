package hotreload

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/outpostlabs/devtools-core/internal/statusbarrier"
)

type fakeHashStore struct {
	mu     sync.Mutex
	hashes map[string]string
	sets   []string
}

func newFakeHashStore() *fakeHashStore {
	return &fakeHashStore{hashes: map[string]string{}}
}

func (f *fakeHashStore) GetHash(pkg string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[pkg]
	return h, ok, nil
}

func (f *fakeHashStore) SetHash(pkg, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hashes[pkg] = hash
	f.sets = append(f.sets, pkg)
	return nil
}

type fakeProgress struct {
	mu       sync.Mutex
	messages []string
	closed   bool
}

func (p *fakeProgress) Report(message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func (p *fakeProgress) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

type fakeNotifier struct {
	mu       sync.Mutex
	opened   []string
	progress map[string]*fakeProgress
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{progress: map[string]*fakeProgress{}}
}

func (n *fakeNotifier) StartProgress(title string) ProgressReporter {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := &fakeProgress{}
	n.opened = append(n.opened, title)
	n.progress[title] = p
	return p
}

type fakeEditor struct {
	mu       sync.Mutex
	calls    []string
	stopErr  error
	startErr error
}

func (e *fakeEditor) StopMCPServer(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "stop")
	return e.stopErr
}

func (e *fakeEditor) ClearToolCache(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "clear")
	return nil
}

func (e *fakeEditor) StartMCPServer(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "start")
	return e.startErr
}

type fakeClient struct {
	mu       sync.Mutex
	calls    []string
	spawnErr error
}

func (c *fakeClient) Teardown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "teardown")
	return nil
}

func (c *fakeClient) WaitForPipeRelease(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "waitForPipeRelease")
	return nil
}

func (c *fakeClient) Spawn(ctx context.Context) (int, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, "spawn")
	if c.spawnErr != nil {
		return 0, time.Time{}, c.spawnErr
	}
	return 9222, time.Now(), nil
}

func writeTSPackage(t *testing.T, dir, content string) {
	t.Helper()
	writeFile(t, dir, "tsconfig.json", `{"include": ["*.ts"]}`)
	writeFile(t, dir, "a.ts", content)
}

func newTestCoordinator(t *testing.T, buildFunc func(ctx context.Context, pkgDir, script string) (string, error)) (*Coordinator, string, string, *fakeHashStore, *fakeNotifier, *fakeEditor, *fakeClient) {
	t.Helper()
	extDir := t.TempDir()
	mcpDir := t.TempDir()
	writeTSPackage(t, extDir, "export const ext = 1;")
	writeTSPackage(t, mcpDir, "export const mcp = 1;")

	store := newFakeHashStore()
	notifier := newFakeNotifier()
	editor := &fakeEditor{}
	client := &fakeClient{}

	c := New(Config{
		ExtDir:   extDir,
		MCPDir:   mcpDir,
		Store:    store,
		Notifier: notifier,
		Editor:   editor,
		Client:   client,
		Barrier:  statusbarrier.New(),
		BuildFunc: func(ctx context.Context, pkgDir, script string) (string, error) {
			if buildFunc != nil {
				return buildFunc(ctx, pkgDir, script)
			}
			return "", nil
		},
	})
	return c, extDir, mcpDir, store, notifier, editor, client
}

func TestCheckForChanges_NoEditsIsPureRead(t *testing.T) {
	c, extDir, mcpDir, store, _, _, _ := newTestCoordinator(t, func(ctx context.Context, pkgDir, script string) (string, error) {
		t.Fatal("build should not run when nothing changed")
		return "", nil
	})

	extHash, err := computePackageHash(extDir)
	if err != nil {
		t.Fatal(err)
	}
	mcpHash, err := computePackageHash(mcpDir)
	if err != nil {
		t.Fatal(err)
	}
	store.hashes[string(RoleExt)] = extHash
	store.hashes[string(RoleMCP)] = mcpHash

	result, err := c.CheckForChanges(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Ext.Changed || result.MCP.Changed {
		t.Fatalf("expected no changes, got %+v", result)
	}
}

func TestCheckForChanges_ExtPathRebuildsAndRestartsClient(t *testing.T) {
	c, _, _, store, notifier, _, client := newTestCoordinator(t, nil)

	result, err := c.CheckForChanges(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ext.Changed || !result.Ext.Rebuilt {
		t.Fatalf("expected ext changed+rebuilt, got %+v", result.Ext)
	}
	if !result.ClientRestarted {
		t.Fatal("expected client restart on the extension path")
	}
	if result.CDPPort != 9222 {
		t.Fatalf("CDPPort = %d, want 9222", result.CDPPort)
	}

	if _, ok, _ := store.GetHash(string(RoleExt)); !ok {
		t.Fatal("expected the new ext hash to be committed")
	}

	client.mu.Lock()
	calls := append([]string(nil), client.calls...)
	client.mu.Unlock()
	want := []string{"teardown", "waitForPipeRelease", "spawn"}
	if len(calls) != len(want) {
		t.Fatalf("client calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("client calls = %v, want %v", calls, want)
		}
	}

	notifier.mu.Lock()
	p := notifier.progress["Extension"]
	notifier.mu.Unlock()
	if p == nil {
		t.Fatal("expected an Extension progress notification")
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		t.Fatal("expected the extension progress notification to close")
	}
}

func TestCheckForChanges_ExtBuildFailureSkipsRestart(t *testing.T) {
	c, _, _, _, _, _, client := newTestCoordinator(t, func(ctx context.Context, pkgDir, script string) (string, error) {
		return "syntax error on line 3", nil
	})

	result, err := c.CheckForChanges(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Ext.BuildError == nil || *result.Ext.BuildError == "" {
		t.Fatal("expected a build error to be recorded")
	}
	if result.ClientRestarted {
		t.Fatal("a failed build must not restart the client")
	}
	client.mu.Lock()
	calls := len(client.calls)
	client.mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no client calls after a build failure, got %d", calls)
	}
}

func TestCheckForChanges_MCPPathArmsBarrierAndOpensBridge(t *testing.T) {
	extDir := t.TempDir()
	mcpDir := t.TempDir()
	writeTSPackage(t, extDir, "export const ext = 1;")
	writeTSPackage(t, mcpDir, "export const mcp = 1;")

	store := newFakeHashStore()
	extHash, err := computePackageHash(extDir)
	if err != nil {
		t.Fatal(err)
	}
	store.hashes[string(RoleExt)] = extHash

	notifier := newFakeNotifier()
	editor := &fakeEditor{}
	client := &fakeClient{}
	barrier := statusbarrier.New()

	c := New(Config{
		ExtDir:   extDir,
		MCPDir:   mcpDir,
		Store:    store,
		Notifier: notifier,
		Editor:   editor,
		Client:   client,
		Barrier:  barrier,
		BuildFunc: func(ctx context.Context, pkgDir, script string) (string, error) {
			return "", nil
		},
	})

	result, err := c.CheckForChanges(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Ext.Changed {
		t.Fatal("only the mcp package should have changed")
	}
	if !result.MCP.Changed || !result.MCP.Rebuilt {
		t.Fatalf("expected mcp changed+rebuilt, got %+v", result.MCP)
	}
	if !barrier.IsPending() {
		t.Fatal("expected the status barrier to be armed after the mcp path")
	}

	c.bridgeMu.Lock()
	bridge := c.bridge
	c.bridgeMu.Unlock()
	if bridge == nil {
		t.Fatal("expected a progress bridge to be open")
	}
}

func TestReadyToRestart_DrivesBridgeAndResolvesBarrier(t *testing.T) {
	extDir := t.TempDir()
	mcpDir := t.TempDir()
	writeTSPackage(t, extDir, "export const ext = 1;")
	writeTSPackage(t, mcpDir, "export const mcp = 1;")

	store := newFakeHashStore()
	extHash, _ := computePackageHash(extDir)
	store.hashes[string(RoleExt)] = extHash

	notifier := newFakeNotifier()
	editor := &fakeEditor{}
	client := &fakeClient{}
	barrier := statusbarrier.New()

	c := New(Config{
		ExtDir:   extDir,
		MCPDir:   mcpDir,
		Store:    store,
		Notifier: notifier,
		Editor:   editor,
		Client:   client,
		Barrier:  barrier,
		BuildFunc: func(ctx context.Context, pkgDir, script string) (string, error) {
			return "", nil
		},
	})

	if _, err := c.CheckForChanges(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !barrier.IsPending() {
		t.Fatal("expected barrier armed before readyToRestart")
	}

	if err := c.ReadyToRestart(context.Background()); err != nil {
		t.Fatal(err)
	}

	editor.mu.Lock()
	calls := append([]string(nil), editor.calls...)
	editor.mu.Unlock()
	want := []string{"stop", "clear", "start"}
	if len(calls) != len(want) {
		t.Fatalf("editor calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("editor calls = %v, want %v", calls, want)
		}
	}

	if !barrier.IsPending() {
		t.Fatal("expected the barrier to stay armed until mcpReady")
	}

	c.McpReady()
	if barrier.IsPending() {
		t.Fatal("expected mcpReady to resolve the barrier")
	}
	if !barrier.WaitForReady(time.Second) {
		t.Fatal("expected WaitForReady to return true once no restart is pending")
	}
}

func TestReadyToRestart_ConcurrentCallsCoalesce(t *testing.T) {
	c, _, _, _, _, editor, _ := newTestCoordinator(t, nil)

	// Hold the editor so the first call blocks inside StopMCPServer while
	// the others arrive and find it in flight.
	editor.mu.Lock()

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.ReadyToRestart(context.Background())
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	editor.mu.Unlock()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	editor.mu.Lock()
	stops := 0
	for _, call := range editor.calls {
		if call == "stop" {
			stops++
		}
	}
	editor.mu.Unlock()
	if stops != 1 {
		t.Fatalf("expected exactly one coalesced stop call, got %d", stops)
	}
}

func TestProgressBridge_SafetyTimerClosesWithoutReadyToRestart(t *testing.T) {
	p := &fakeProgress{}
	b := &progressBridge{reporter: p}
	b.timer = time.AfterFunc(10*time.Millisecond, func() {
		b.finish("")
	})

	time.Sleep(50 * time.Millisecond)

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		t.Fatal("expected the safety timer to close the progress notification")
	}

	b.resolve("should be a no-op")
}

func TestDetect_BuildErrorLeavesHashUncommitted(t *testing.T) {
	c, _, _, store, _, _, _ := newTestCoordinator(t, func(ctx context.Context, pkgDir, script string) (string, error) {
		return "boom", nil
	})

	if _, err := c.CheckForChanges(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := store.GetHash(string(RoleExt)); ok {
		t.Fatal("a failed build must not commit a new hash")
	}

	result, err := c.CheckForChanges(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Ext.Changed {
		t.Fatal("the next check must still report the package as changed")
	}
}

func TestReadyToRestart_EditorStopErrorPropagates(t *testing.T) {
	extDir := t.TempDir()
	mcpDir := t.TempDir()
	writeTSPackage(t, extDir, "export const ext = 1;")
	writeTSPackage(t, mcpDir, "export const mcp = 1;")

	editor := &fakeEditor{stopErr: fmt.Errorf("editor not responding")}
	c := New(Config{
		ExtDir:   extDir,
		MCPDir:   mcpDir,
		Store:    newFakeHashStore(),
		Notifier: newFakeNotifier(),
		Editor:   editor,
		Client:   &fakeClient{},
		Barrier:  statusbarrier.New(),
		BuildFunc: func(ctx context.Context, pkgDir, script string) (string, error) {
			return "", nil
		},
	})

	if err := c.ReadyToRestart(context.Background()); err == nil {
		t.Fatal("expected the stop error to propagate")
	}
}
