package gpu

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 250 * time.Millisecond

// ErrDeviceBusy is returned by TryAcquire when another process holds the
// device.
var ErrDeviceBusy = errors.New("gpu device busy")

// Lock is an exclusive cross-process hold on one GPU device.
type Lock struct {
	path string
	fl   *flock.Flock
}

// LockPath returns the lock file used for device index under dir.
func LockPath(dir string, device int) string {
	return filepath.Join(dir, fmt.Sprintf("gpu%d.lock", device))
}

// Acquire blocks until the device lock is held or ctx ends.
func Acquire(ctx context.Context, dir string, device int) (*Lock, error) {
	fl, err := newFlock(dir, device)
	if err != nil {
		return nil, err
	}
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("acquire gpu lock: %w", err)
	}
	if !ok {
		return nil, ErrDeviceBusy
	}
	return &Lock{path: fl.Path(), fl: fl}, nil
}

// TryAcquire takes the device lock without waiting.
func TryAcquire(dir string, device int) (*Lock, error) {
	fl, err := newFlock(dir, device)
	if err != nil {
		return nil, err
	}
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire gpu lock: %w", err)
	}
	if !ok {
		return nil, ErrDeviceBusy
	}
	return &Lock{path: fl.Path(), fl: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release drops the lock. It is safe to call on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

func newFlock(dir string, device int) (*flock.Flock, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	return flock.New(LockPath(dir, device)), nil
}
