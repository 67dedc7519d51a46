package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/alexflint/go-filemutex"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// HostLocker serialises work per host. Hosts are always exclusive inside
// this process; enabled lockers also hold a lock file so separate processes
// sharing the lock directory exclude each other.
type HostLocker struct {
	dir     string
	enabled bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewHostLocker(dir string, enabled bool) *HostLocker {
	if dir == "" {
		dir = os.TempDir()
	}
	return &HostLocker{dir: dir, enabled: enabled, locks: make(map[string]*sync.Mutex)}
}

func (l *HostLocker) path(host string) string {
	return filepath.Join(l.dir, "stackbuild-"+unsafeChars.ReplaceAllString(host, "_")+".lock")
}

// Lock blocks until every host is held and returns the release func.
// Hosts are taken in sorted order.
func (l *HostLocker) Lock(hosts ...string) (func(), error) {
	if len(hosts) == 0 {
		return func() {}, nil
	}
	keys := uniqueSorted(hosts)

	l.mu.Lock()
	acquired := make([]*sync.Mutex, 0, len(keys))
	for _, k := range keys {
		m := l.locks[k]
		if m == nil {
			m = &sync.Mutex{}
			l.locks[k] = m
		}
		acquired = append(acquired, m)
	}
	l.mu.Unlock()

	for _, m := range acquired {
		m.Lock()
	}

	var files []*filemutex.FileMutex
	release := func() {
		for i := len(files) - 1; i >= 0; i-- {
			_ = files[i].Unlock()
			_ = files[i].Close()
		}
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}

	if !l.enabled {
		return release, nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		release()
		return nil, fmt.Errorf("lock dir %s: %w", l.dir, err)
	}
	for _, k := range keys {
		fm, err := filemutex.New(l.path(k))
		if err != nil {
			release()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		if err := fm.Lock(); err != nil {
			_ = fm.Close()
			release()
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		files = append(files, fm)
	}
	return release, nil
}

func uniqueSorted(hosts []string) []string {
	keys := append([]string(nil), hosts...)
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}
