package rpcpipe

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "devtools-test.sock")
}

func dialLine(t *testing.T, conn net.Conn, line string) map[string]any {
	t.Helper()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	reader := bufio.NewReader(conn)
	resp, err := reader.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(resp, &out); err != nil {
		t.Fatalf("unmarshal response %q: %v", resp, err)
	}
	return out
}

func TestServer_ParseErrorCarriesNullID(t *testing.T) {
	registry := NewRegistry()
	s := NewServer(registry)
	path := testSocketPath(t)
	if _, err := s.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := dialLine(t, conn, "{malformed")

	if resp["id"] != nil {
		t.Errorf("expected null id, got %v", resp["id"])
	}
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", resp)
	}
	if int(errObj["code"].(float64)) != CodeParseError {
		t.Errorf("expected code %d, got %v", CodeParseError, errObj["code"])
	}
}

func TestServer_PingWithNoHandlers(t *testing.T) {
	registry := NewRegistry()
	s := NewServer(registry)
	path := testSocketPath(t)
	if _, err := s.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := dialLine(t, conn, `{"jsonrpc":"2.0","id":1,"method":"system.ping"}`)

	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("expected result object, got %v", resp)
	}
	if result["alive"] != true {
		t.Errorf("expected alive=true, got %v", result["alive"])
	}
	methods, ok := result["registeredMethods"].([]any)
	if !ok || len(methods) != 0 {
		t.Errorf("expected empty registeredMethods, got %v", result["registeredMethods"])
	}
}

func TestServer_UnknownMethodYieldsMethodNotFound(t *testing.T) {
	registry := NewRegistry()
	s := NewServer(registry)
	path := testSocketPath(t)
	if _, err := s.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := dialLine(t, conn, `{"jsonrpc":"2.0","id":7,"method":"does.not.exist"}`)
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object, got %v", resp)
	}
	if int(errObj["code"].(float64)) != CodeMethodNotFound {
		t.Errorf("expected code %d, got %v", CodeMethodNotFound, errObj["code"])
	}
}

func TestServer_RegisterCallUnregisterCall(t *testing.T) {
	registry := NewRegistry()
	s := NewServer(registry)
	path := testSocketPath(t)
	if _, err := s.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	type Params struct {
		Name string `json:"name"`
	}
	RegisterHandler(s, "greet", func(ctx context.Context, p Params) (any, error) {
		return "hello " + p.Name, nil
	})

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := dialLine(t, conn, `{"jsonrpc":"2.0","id":1,"method":"greet","params":{"name":"World"}}`)
	if resp["result"] != "hello World" {
		t.Errorf("expected 'hello World', got %v", resp["result"])
	}

	s.UnregisterHandler("greet")

	resp = dialLine(t, conn, `{"jsonrpc":"2.0","id":2,"method":"greet","params":{"name":"World"}}`)
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error after unregister, got %v", resp)
	}
	if int(errObj["code"].(float64)) != CodeMethodNotFound {
		t.Errorf("expected method-not-found after unregister, got %v", errObj["code"])
	}
}

func TestServer_SchemaValidationYieldsInvalidParams(t *testing.T) {
	registry := NewRegistry()
	s := NewServer(registry)
	path := testSocketPath(t)
	if _, err := s.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	type Params struct {
		Count int `json:"count"`
	}
	RegisterHandler(s, "count", func(ctx context.Context, p Params) (any, error) {
		return p.Count, nil
	})

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := dialLine(t, conn, `{"jsonrpc":"2.0","id":1,"method":"count","params":{"count":"nope"}}`)
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error object for type mismatch, got %v", resp)
	}
	if int(errObj["code"].(float64)) != CodeInvalidParams {
		t.Errorf("expected code %d, got %v", CodeInvalidParams, errObj["code"])
	}
}

func TestServer_StartTwiceOnSamePathSecondGetsAddrInUse(t *testing.T) {
	path := testSocketPath(t)

	s1 := NewServer(NewRegistry())
	if _, err := s1.Start(path); err != nil {
		t.Fatalf("start s1: %v", err)
	}
	defer s1.Stop()

	s2 := NewServer(NewRegistry())
	_, err := s2.Start(path)
	if err == nil {
		t.Fatal("expected second Start on same path to fail")
	}
	if err != ErrAddressInUse {
		t.Errorf("expected ErrAddressInUse, got %v", err)
	}
}

func TestServer_StopRemovesSocketAndRejectsDials(t *testing.T) {
	path := testSocketPath(t)
	s := NewServer(NewRegistry())
	if _, err := s.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := net.Dial("unix", path); err != nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected dial to fail after Stop")
}

func TestServer_RestartAfterStaleSocketFile(t *testing.T) {
	path := testSocketPath(t)
	if f, err := os.Create(path); err != nil {
		t.Fatalf("create stale socket file: %v", err)
	} else {
		f.Close()
	}

	s := NewServer(NewRegistry())
	if _, err := s.Start(path); err != nil {
		t.Fatalf("expected stale socket file to be cleaned up, got: %v", err)
	}
	defer s.Stop()
}
