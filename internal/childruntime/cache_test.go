package childruntime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockRuntimeForCache struct {
	statusCalls atomic.Int32
	statusValue Status
	statusError error
	startError  error
	stopError   error
	removeError error
	createID    string
	createError error
}

func (m *mockRuntimeForCache) Create(ctx context.Context, cfg CreateConfig) (string, error) {
	if m.createError != nil {
		return "", m.createError
	}
	if m.createID != "" {
		return m.createID, nil
	}
	return "mock-" + cfg.Name, nil
}

func (m *mockRuntimeForCache) Start(ctx context.Context, handleID string) error { return m.startError }
func (m *mockRuntimeForCache) Stop(ctx context.Context, handleID string) error  { return m.stopError }
func (m *mockRuntimeForCache) Remove(ctx context.Context, handleID string) error {
	return m.removeError
}

func (m *mockRuntimeForCache) Inspect(ctx context.Context, handleID string) (*Info, error) {
	return nil, errors.New("not implemented")
}

func (m *mockRuntimeForCache) Status(ctx context.Context, handleID string) (Status, error) {
	m.statusCalls.Add(1)
	if m.statusError != nil {
		return StatusUnknown, m.statusError
	}
	return m.statusValue, nil
}

func (m *mockRuntimeForCache) Ping(ctx context.Context) error { return nil }
func (m *mockRuntimeForCache) Close() error                   { return nil }
func (m *mockRuntimeForCache) Name() string                   { return "mock" }
func (m *mockRuntimeForCache) IsAvailable() bool               { return true }

func TestCachedRuntime_StatusCaching(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusRunning}
	cr := NewCachedRuntime(mock, 100*time.Millisecond)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	status, err := cr.Status(ctx, "handle-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusRunning {
		t.Errorf("Status() = %v, want Running", status)
	}
	if mock.statusCalls.Load() != 1 {
		t.Errorf("statusCalls = %v, want 1", mock.statusCalls.Load())
	}

	status, err = cr.Status(ctx, "handle-1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status != StatusRunning {
		t.Errorf("Status() = %v, want Running", status)
	}
	if mock.statusCalls.Load() != 1 {
		t.Errorf("statusCalls = %v, want 1 (cached)", mock.statusCalls.Load())
	}
}

func TestCachedRuntime_TTLExpiry(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusRunning}
	ttl := 50 * time.Millisecond
	cr := NewCachedRuntime(mock, ttl)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	_, _ = cr.Status(ctx, "handle-1")
	if mock.statusCalls.Load() != 1 {
		t.Errorf("statusCalls = %v, want 1", mock.statusCalls.Load())
	}

	time.Sleep(ttl + 10*time.Millisecond)

	_, _ = cr.Status(ctx, "handle-1")
	if mock.statusCalls.Load() != 2 {
		t.Errorf("statusCalls = %v, want 2 (after TTL)", mock.statusCalls.Load())
	}
}

func TestCachedRuntime_InvalidateStatus(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusRunning}
	cr := NewCachedRuntime(mock, 10*time.Second)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	_, _ = cr.Status(ctx, "handle-1")
	if mock.statusCalls.Load() != 1 {
		t.Errorf("statusCalls = %v, want 1", mock.statusCalls.Load())
	}

	cr.InvalidateStatus("handle-1")

	_, _ = cr.Status(ctx, "handle-1")
	if mock.statusCalls.Load() != 2 {
		t.Errorf("statusCalls = %v, want 2 (after invalidate)", mock.statusCalls.Load())
	}
}

func TestCachedRuntime_InvalidateAll(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusRunning}
	cr := NewCachedRuntime(mock, 10*time.Second)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	_, _ = cr.Status(ctx, "handle-1")
	_, _ = cr.Status(ctx, "handle-2")
	if mock.statusCalls.Load() != 2 {
		t.Errorf("statusCalls = %v, want 2", mock.statusCalls.Load())
	}

	cr.InvalidateAll()

	_, _ = cr.Status(ctx, "handle-1")
	_, _ = cr.Status(ctx, "handle-2")
	if mock.statusCalls.Load() != 4 {
		t.Errorf("statusCalls = %v, want 4 (after invalidate all)", mock.statusCalls.Load())
	}
}

func TestCachedRuntime_StartInvalidatesCache(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusStopped}
	cr := NewCachedRuntime(mock, 10*time.Second)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	_, _ = cr.Status(ctx, "handle-1")
	if mock.statusCalls.Load() != 1 {
		t.Errorf("statusCalls = %v, want 1", mock.statusCalls.Load())
	}

	mock.statusValue = StatusRunning
	_ = cr.Start(ctx, "handle-1")

	_, _ = cr.Status(ctx, "handle-1")
	if mock.statusCalls.Load() != 2 {
		t.Errorf("statusCalls = %v, want 2 (after Start)", mock.statusCalls.Load())
	}
}

func TestCachedRuntime_StopInvalidatesCache(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusRunning}
	cr := NewCachedRuntime(mock, 10*time.Second)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	_, _ = cr.Status(ctx, "handle-1")

	mock.statusValue = StatusStopped
	_ = cr.Stop(ctx, "handle-1")

	status, _ := cr.Status(ctx, "handle-1")
	if status != StatusStopped {
		t.Errorf("Status() = %v, want Stopped", status)
	}
}

func TestCachedRuntime_RemoveInvalidatesCache(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusRunning}
	cr := NewCachedRuntime(mock, 10*time.Second)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	_, _ = cr.Status(ctx, "handle-1")

	_ = cr.Remove(ctx, "handle-1")

	_, _ = cr.Status(ctx, "handle-1")
	if mock.statusCalls.Load() != 2 {
		t.Errorf("statusCalls = %v, want 2 (after Remove)", mock.statusCalls.Load())
	}
}

func TestCachedRuntime_CreateCachesStatus(t *testing.T) {
	mock := &mockRuntimeForCache{createID: "new-handle"}
	cr := NewCachedRuntime(mock, 10*time.Second)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	id, err := cr.Create(ctx, CreateConfig{Name: "test"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != "new-handle" {
		t.Errorf("Create() = %v, want new-handle", id)
	}

	status, _ := cr.Status(ctx, "new-handle")
	if status != StatusCreated {
		t.Errorf("Status() = %v, want Created", status)
	}
	if mock.statusCalls.Load() != 0 {
		t.Errorf("statusCalls = %v, want 0 (cached from Create)", mock.statusCalls.Load())
	}
}

func TestCachedRuntime_StatusError(t *testing.T) {
	expectedErr := errors.New("handle not found")
	mock := &mockRuntimeForCache{statusError: expectedErr}
	cr := NewCachedRuntime(mock, 100*time.Millisecond)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	_, err := cr.Status(ctx, "handle-1")
	if err != expectedErr {
		t.Errorf("Status() error = %v, want %v", err, expectedErr)
	}
}

func TestCachedRuntime_ConcurrentAccess(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusRunning}
	cr := NewCachedRuntime(mock, 100*time.Millisecond)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handleID := "handle-" + string(rune('0'+i%10))
			_, _ = cr.Status(ctx, handleID)
		}(i)
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handleID := "handle-" + string(rune('0'+i%10))
			cr.InvalidateStatus(handleID)
		}(i)
	}

	wg.Wait()
}

func TestCachedRuntime_DefaultTTL(t *testing.T) {
	mock := &mockRuntimeForCache{}
	cr := NewCachedRuntime(mock, 0)
	defer func() { _ = cr.Close() }()

	_, ttl := cr.CacheStats()
	if ttl != 5*time.Second {
		t.Errorf("Default TTL = %v, want 5s", ttl)
	}
}

func TestCachedRuntime_CacheStats(t *testing.T) {
	mock := &mockRuntimeForCache{statusValue: StatusRunning}
	cr := NewCachedRuntime(mock, 10*time.Second)
	defer func() { _ = cr.Close() }()

	ctx := context.Background()

	size, ttl := cr.CacheStats()
	if size != 0 {
		t.Errorf("CacheStats size = %v, want 0", size)
	}
	if ttl != 10*time.Second {
		t.Errorf("CacheStats ttl = %v, want 10s", ttl)
	}

	_, _ = cr.Status(ctx, "handle-1")
	_, _ = cr.Status(ctx, "handle-2")

	size, _ = cr.CacheStats()
	if size != 2 {
		t.Errorf("CacheStats size = %v, want 2", size)
	}
}
