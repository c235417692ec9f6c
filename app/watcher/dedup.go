package watcher

import (
	"sync"
	"time"
)

// DeDup implements thread safe set of reported job ids to prevent repeated alerts
type DeDup struct {
	active map[string]time.Time
	lock   sync.Mutex
}

// NewDeDup creates empty DeDup
func NewDeDup() *DeDup {
	return &DeDup{active: make(map[string]time.Time)}
}

// Add id to the set, fail if already in
func (d *DeDup) Add(id string) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, found := d.active[id]; found {
		return false
	}
	d.active[id] = time.Now()
	return true
}

// Remove id from the set. Safe to call multiple times
func (d *DeDup) Remove(id string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	delete(d.active, id)
}

// Retain drops all ids not in the keep list
func (d *DeDup) Retain(keep []string) {
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	for id := range d.active {
		if !keepSet[id] {
			delete(d.active, id)
		}
	}
}

// Len returns number of ids in the set
func (d *DeDup) Len() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return len(d.active)
}
