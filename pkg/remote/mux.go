// pkg/remote/mux.go

package remote

import (
	"context"
	"sync"
	"time"
)

// muxPool shares one transport per control path between sessions, like an OpenSSH
// ControlMaster. A transport stays open for persist after its last session releases it.
type muxPool struct {
	mu      sync.Mutex
	persist time.Duration
	entries map[string]*muxEntry
	// stale entries are out of the map but still held by sessions
	stale map[*muxEntry]struct{}
}

// muxEntry is one shared transport. Sessions hold the entry, not the bare Conn.
type muxEntry struct {
	key   string
	conn  Conn
	refs  int
	stale bool
	timer *time.Timer
}

func newMuxPool(persist time.Duration) *muxPool {
	return &muxPool{
		persist: persist,
		entries: make(map[string]*muxEntry),
		stale:   make(map[*muxEntry]struct{}),
	}
}

// acquire returns the live transport for key, dialing one if needed
func (p *muxPool) acquire(ctx context.Context, key string, dial func(context.Context) (Conn, error)) (*muxEntry, error) {
	p.mu.Lock()
	if entry, ok := p.entries[key]; ok {
		entry.reuse()
		p.mu.Unlock()
		return entry, nil
	}
	p.mu.Unlock()

	// Dial without holding the lock; two sessions racing for the same key keep the first
	conn, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[key]; ok {
		entry.reuse()
		go conn.Close()
		return entry, nil
	}
	entry := &muxEntry{key: key, conn: conn, refs: 1}
	p.entries[key] = entry
	return entry, nil
}

func (e *muxEntry) reuse() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.refs++
}

// release drops one reference. A live transport expires after persist, a stale one
// closes as soon as its last holder lets go.
func (p *muxPool) release(entry *muxEntry) {
	p.mu.Lock()
	if entry.refs > 0 {
		entry.refs--
	}
	if entry.refs > 0 {
		p.mu.Unlock()
		return
	}

	if entry.stale {
		delete(p.stale, entry)
		p.mu.Unlock()
		entry.conn.Close()
		return
	}

	entry.timer = time.AfterFunc(p.persist, func() {
		p.mu.Lock()
		current, ok := p.entries[entry.key]
		if ok && current == entry && entry.refs == 0 {
			delete(p.entries, entry.key)
		} else {
			ok = false
		}
		p.mu.Unlock()

		if ok {
			entry.conn.Close()
		}
	})
	p.mu.Unlock()
}

// discard retires a broken transport so later sessions dial a fresh one. The caller's
// reference is dropped; the transport is closed once no other session holds it.
func (p *muxPool) discard(entry *muxEntry) {
	p.mu.Lock()
	if current, ok := p.entries[entry.key]; ok && current == entry {
		delete(p.entries, entry.key)
	}
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	if !entry.stale {
		entry.stale = true
		p.stale[entry] = struct{}{}
	}
	p.mu.Unlock()

	p.release(entry)
}

// size returns the number of live transports
func (p *muxPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// closeAll closes every pooled transport, stale ones included
func (p *muxPool) closeAll() {
	p.mu.Lock()
	entries := make([]*muxEntry, 0, len(p.entries)+len(p.stale))
	for _, entry := range p.entries {
		entries = append(entries, entry)
	}
	for entry := range p.stale {
		entries = append(entries, entry)
	}
	p.entries = make(map[string]*muxEntry)
	p.stale = make(map[*muxEntry]struct{})
	p.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.conn.Close()
	}
}
