//go:build unix

package db

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStoreLockRecordsHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := lockStore(dir, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("lockStore: %v", err)
	}

	h, ok := readLockHolder(filepath.Join(dir, lockFileName))
	if !ok {
		t.Fatal("lock file has no holder record")
	}
	if h.PID != os.Getpid() || h.Command == "" {
		t.Errorf("holder = %+v", h)
	}

	lock.unlock()
	if _, ok := readLockHolder(filepath.Join(dir, lockFileName)); ok {
		t.Error("holder record left behind after unlock")
	}
	lock.unlock()
}

func TestStoreLockTimesOutWhileHeld(t *testing.T) {
	dir := t.TempDir()
	held, err := lockStore(dir, time.Second)
	if err != nil {
		t.Fatalf("lockStore: %v", err)
	}
	defer held.unlock()

	other, err := lockStore(dir, 30*time.Millisecond)
	if err == nil {
		other.unlock()
		t.Fatal("expected a busy error while another handle holds the lock")
	}
	if !strings.Contains(err.Error(), "store busy") || !strings.Contains(err.Error(), "pid") {
		t.Errorf("error does not name the holder: %v", err)
	}
}

func TestWriteWhileLockedIsStorageUnavailable(t *testing.T) {
	store := newTestDB(t)
	held, err := lockStore(store.BaseDir(), time.Second)
	if err != nil {
		t.Fatalf("lockStore: %v", err)
	}
	defer held.unlock()

	err = store.SetMeta("k", "v")
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestConcurrentStoreWritesSerialize(t *testing.T) {
	store := newTestDB(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.SetMeta("last-touch", time.Now().String()); err != nil {
				t.Errorf("SetMeta: %v", err)
			}
		}()
	}
	wg.Wait()
}
