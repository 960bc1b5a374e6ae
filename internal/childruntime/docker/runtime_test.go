package docker

import (
	"testing"

	"github.com/docker/docker/api/types/mount"
)

func TestBindMount(t *testing.T) {
	m := bindMount("/host/workspace", "/workspace")
	if m.Type != mount.TypeBind {
		t.Errorf("expected bind mount, got %v", m.Type)
	}
	if m.Source != "/host/workspace" || m.Target != "/workspace" {
		t.Errorf("unexpected mount %+v", m)
	}
}
