package db

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	lockFileName    = "roofsync.lock"
	lockWaitTimeout = 500 * time.Millisecond
	lockPollMin     = 5 * time.Millisecond
	lockPollMax     = 50 * time.Millisecond
)

// lockHolder is written into the lock file so a blocked command can say
// which process has the store, typically a long running `sync --watch`.
type lockHolder struct {
	PID     int       `json:"pid"`
	Command string    `json:"command"`
	Since   time.Time `json:"since"`
}

func (h lockHolder) String() string {
	s := fmt.Sprintf("%q (pid %d) since %s", h.Command, h.PID, h.Since.Format(time.RFC3339))
	if !processAlive(h.PID) {
		s += ", process no longer running"
	}
	return s
}

func currentHolder() lockHolder {
	cmd := "roofsync"
	if len(os.Args) > 0 {
		cmd = strings.Join(append([]string{filepath.Base(os.Args[0])}, os.Args[1:]...), " ")
	}
	return lockHolder{PID: os.Getpid(), Command: cmd, Since: time.Now().UTC()}
}

// storeLock is an exclusive OS lock on a file beside the database. The OS
// drops it when the process exits, crashed or not.
type storeLock struct {
	path string
	f    *os.File
}

// lockStore blocks up to wait for exclusive write access to the store in dataDir
func lockStore(dataDir string, wait time.Duration) (*storeLock, error) {
	path := filepath.Join(dataDir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(wait)
	for poll := lockPollMin; ; poll = min(poll*2, lockPollMax) {
		if err := tryLockFile(f); err == nil {
			break
		}
		if time.Now().After(deadline) {
			f.Close()
			holder := "unknown process"
			if h, ok := readLockHolder(path); ok {
				holder = h.String()
			}
			return nil, fmt.Errorf("store busy after %v: held by %s", wait, holder)
		}
		time.Sleep(poll)
	}

	l := &storeLock{path: path, f: f}
	l.record(currentHolder())
	return l, nil
}

func (l *storeLock) record(h lockHolder) {
	data, err := json.Marshal(h)
	if err != nil {
		return
	}
	l.f.Truncate(0)
	l.f.WriteAt(data, 0)
	l.f.Sync()
}

func (l *storeLock) unlock() {
	if l == nil || l.f == nil {
		return
	}
	l.f.Truncate(0)
	unlockFile(l.f)
	l.f.Close()
	l.f = nil
}

func readLockHolder(path string) (lockHolder, bool) {
	var h lockHolder
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return h, false
	}
	if err := json.Unmarshal(data, &h); err != nil || h.PID == 0 {
		return h, false
	}
	return h, true
}
