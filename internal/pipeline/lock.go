package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// OutputLock is an advisory lock on an output directory, held for the
// duration of one stage run.
type OutputLock struct {
	lock *flock.Flock
}

// LockPath returns the lock file used for dir. It lives in the system temp
// directory so that read-only or not yet created outputs can be locked.
func LockPath(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.Clean(abs)))
	return filepath.Join(os.TempDir(), "drrforge-"+id.String()+".lock")
}

// LockOutput takes the lock for dir without blocking. It fails with
// ErrOutputBusy when another run holds it.
func LockOutput(dir string) (*OutputLock, error) {
	l := flock.New(LockPath(dir))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire output lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", dir, ErrOutputBusy)
	}
	return &OutputLock{lock: l}, nil
}

// Release drops the lock.
func (l *OutputLock) Release() error {
	return l.lock.Unlock()
}
