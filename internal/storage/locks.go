package storage

import "sync"

// bookLocks serializes mutations of a book. One value is shared by the
// BookRepository and every ChapterRepository built on it.
type bookLocks struct {
	mu    sync.Mutex
	locks map[string]*bookLock
}

type bookLock struct {
	mu   sync.Mutex
	refs int
}

// lock acquires the lock of bookID and returns the function releasing it.
func (l *bookLocks) lock(bookID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*bookLock{}
	}
	bl := l.locks[bookID]
	if bl == nil {
		bl = &bookLock{}
		l.locks[bookID] = bl
	}
	bl.refs++
	l.mu.Unlock()

	bl.mu.Lock()
	return func() {
		bl.mu.Unlock()
		l.mu.Lock()
		if bl.refs--; bl.refs == 0 {
			delete(l.locks, bookID)
		}
		l.mu.Unlock()
	}
}
