package merger

import "sync"

// dirLocks 为每个目标目录提供一把互斥锁，用完即回收。
type dirLocks struct {
	mu    sync.Mutex
	locks map[string]*dirLock
}

type dirLock struct {
	mu   sync.Mutex
	refs int
}

func newDirLocks() *dirLocks {
	return &dirLocks{locks: make(map[string]*dirLock)}
}

// Lock 锁住 dir，返回解锁函数。
func (d *dirLocks) Lock(dir string) func() {
	d.mu.Lock()
	l, ok := d.locks[dir]
	if !ok {
		l = &dirLock{}
		d.locks[dir] = l
	}
	l.refs++
	d.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		d.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(d.locks, dir)
		}
		d.mu.Unlock()
	}
}

// size 返回当前持有或等待中的目录锁数量。
func (d *dirLocks) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.locks)
}
