package pipeline

import (
	"errors"
	"path/filepath"
	"sync"
)

var ErrRunInProgress = errors.New("a correction run is already in progress for this project")

// ProjectLocks serializes runs per project directory without blocking:
// a second run on a busy project is rejected.
type ProjectLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewProjectLocks() *ProjectLocks {
	return &ProjectLocks{held: make(map[string]struct{})}
}

// TryLock acquires the project at root. The returned func releases it.
func (l *ProjectLocks) TryLock(root string) (func(), error) {
	key := filepath.Clean(root)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, ErrRunInProgress
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

func (l *ProjectLocks) Busy(root string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, busy := l.held[filepath.Clean(root)]
	return busy
}
