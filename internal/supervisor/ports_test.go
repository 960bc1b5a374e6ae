package supervisor

import "testing"

func TestAllocatePorts_ReturnsTwoDistinctPorts(t *testing.T) {
	cdp, inspector, err := allocatePorts()
	if err != nil {
		t.Fatalf("allocatePorts: %v", err)
	}
	if cdp == 0 || inspector == 0 {
		t.Fatalf("expected non-zero ports, got cdp=%d inspector=%d", cdp, inspector)
	}
	if cdp == inspector {
		t.Errorf("expected distinct ports, got both %d", cdp)
	}
}
