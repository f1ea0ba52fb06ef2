// Package device provides the desktop stand-ins for the session affordances a
// phone offers: a sleep inhibitor held while a practice session runs and a
// short "haptic" pulse, rendered as the terminal bell.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// ErrUnsupported is returned when the platform lacks the capability.
var ErrUnsupported = errors.New("device: unsupported")

// Inhibitor holds a systemd sleep/idle inhibitor lock while acquired.
type Inhibitor struct {
	path string
	who  string
	why  string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewInhibitor returns an Inhibitor, or ErrUnsupported when systemd-inhibit
// is not installed.
func NewInhibitor(who, why string) (*Inhibitor, error) {
	path, err := exec.LookPath("systemd-inhibit")
	if err != nil {
		return nil, fmt.Errorf("%w: systemd-inhibit: %v", ErrUnsupported, err)
	}
	return &Inhibitor{path: path, who: who, why: why}, nil
}

// Acquire takes the lock. Acquiring a held lock is a no-op.
func (i *Inhibitor) Acquire(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cmd != nil {
		return nil
	}
	// The lock lives as long as the child; "sleep infinity" keeps it alive
	// until Release kills it. ctx only bounds the start.
	cmd := exec.Command(i.path,
		"--what=idle:sleep",
		"--who="+i.who,
		"--why="+i.why,
		"--mode=block",
		"sleep", "infinity")
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("device: wake lock: %w", err)
	}
	i.cmd = cmd
	go func() {
		err := cmd.Wait()
		i.mu.Lock()
		if i.cmd == cmd {
			i.cmd = nil
			slog.Warn("wake lock released unexpectedly", "err", err)
		}
		i.mu.Unlock()
	}()
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (i *Inhibitor) Release() error {
	i.mu.Lock()
	cmd := i.cmd
	i.cmd = nil
	i.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("device: release wake lock: %w", err)
	}
	return nil
}

// Held reports whether the lock is currently held.
func (i *Inhibitor) Held() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.cmd != nil
}

// Bell writes the terminal bell as a haptic pulse. Pulses closer together than
// the minimum gap are dropped.
type Bell struct {
	w      io.Writer
	minGap time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewBell returns a Bell writing to w, usually the controlling terminal.
func NewBell(w io.Writer) *Bell {
	return &Bell{w: w, minGap: 250 * time.Millisecond}
}

// Pulse rings the bell. A terminal bell has a fixed length, so the requested
// duration is ignored.
func (b *Bell) Pulse(time.Duration) error {
	b.mu.Lock()
	now := time.Now()
	if !b.last.IsZero() && now.Sub(b.last) < b.minGap {
		b.mu.Unlock()
		return nil
	}
	b.last = now
	b.mu.Unlock()

	if _, err := io.WriteString(b.w, "\a"); err != nil {
		return fmt.Errorf("device: bell: %w", err)
	}
	return nil
}
