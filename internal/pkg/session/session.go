// Package session keeps the liveness table: the last time a heartbeat was
// observed for every tracked client.
package session

import (
	"sort"
	"sync"
	"time"
)

type Store interface {
	Touch(clientID string, at time.Time)
	Get(clientID string) (Record, error)
	List() []Record
	Evict(deadline time.Time) []Record
}

// Record is the liveness entry of one client.
type Record struct {
	ClientID      string    `json:"client_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

type MemoryStore struct {
	sessions map[string]time.Time
	mu       sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]time.Time),
	}
}

// Touch records a heartbeat. Older observations never overwrite newer ones.
func (p *MemoryStore) Touch(clientID string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.sessions[clientID]; ok && last.After(at) {
		return
	}
	p.sessions[clientID] = at
}

func (p *MemoryStore) Get(clientID string) (Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if at, ok := p.sessions[clientID]; ok {
		return Record{ClientID: clientID, LastHeartbeat: at}, nil
	}
	return Record{}, ErrSessionNotFound
}

// List returns every record sorted by client id.
func (p *MemoryStore) List() []Record {
	p.mu.RLock()
	records := make([]Record, 0, len(p.sessions))
	for id, at := range p.sessions {
		records = append(records, Record{ClientID: id, LastHeartbeat: at})
	}
	p.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool { return records[i].ClientID < records[j].ClientID })
	return records
}

// Evict removes and returns every record whose last heartbeat is before deadline.
func (p *MemoryStore) Evict(deadline time.Time) []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	var evicted []Record
	for id, at := range p.sessions {
		if at.Before(deadline) {
			evicted = append(evicted, Record{ClientID: id, LastHeartbeat: at})
			delete(p.sessions, id)
		}
	}
	sort.Slice(evicted, func(i, j int) bool { return evicted[i].ClientID < evicted[j].ClientID })
	return evicted
}
