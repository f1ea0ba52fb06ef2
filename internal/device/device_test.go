package device_test

import (
	"bytes"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/MrWong99/lingua/internal/device"
)

func TestBell_RateLimited(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	b := device.NewBell(&buf)
	if err := b.Pulse(50 * time.Millisecond); err != nil {
		t.Fatalf("Pulse: %v", err)
	}
	_ = b.Pulse(50 * time.Millisecond)
	if buf.String() != "\a" {
		t.Errorf("output = %q, want one bell", buf.String())
	}
}

func TestNewInhibitor_Capability(t *testing.T) {
	t.Parallel()
	inh, err := device.NewInhibitor("lingua", "test")
	if _, lookErr := exec.LookPath("systemd-inhibit"); lookErr != nil {
		if !errors.Is(err, device.ErrUnsupported) {
			t.Fatalf("err = %v, want ErrUnsupported", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("NewInhibitor: %v", err)
	}
	if inh.Held() {
		t.Error("held before Acquire")
	}
	if err := inh.Release(); err != nil {
		t.Errorf("Release without Acquire: %v", err)
	}
}
