package builder

import (
	"sync"
	"sync/atomic"
)

// Counters track the builder's progress. They are read concurrently by
// the stats endpoint.
type Counters struct {
	EventsProcessed   atomic.Int64
	PropertiesFetched atomic.Int64
	PropertiesSkipped atomic.Int64
	FilesCompleted    atomic.Int64
	FilesDeleted      atomic.Int64
	DataSkew          atomic.Int64

	mu          sync.Mutex
	lastEventID string
}

func (c *Counters) setLastEventID(id string) {
	c.mu.Lock()
	c.lastEventID = id
	c.mu.Unlock()
}

func (c *Counters) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// Stats is a point-in-time snapshot of the counters.
type Stats struct {
	EventsProcessed   int64  `json:"eventsProcessed"`
	PropertiesFetched int64  `json:"propertiesFetched"`
	PropertiesSkipped int64  `json:"propertiesSkipped"`
	FilesCompleted    int64  `json:"filesCompleted"`
	FilesDeleted      int64  `json:"filesDeleted"`
	DataSkew          int64  `json:"dataSkew"`
	LastEventID       string `json:"lastEventId,omitempty"`
}

func (b *Builder) Stats() Stats {
	return Stats{
		EventsProcessed:   b.counters.EventsProcessed.Load(),
		PropertiesFetched: b.counters.PropertiesFetched.Load(),
		PropertiesSkipped: b.counters.PropertiesSkipped.Load(),
		FilesCompleted:    b.counters.FilesCompleted.Load(),
		FilesDeleted:      b.counters.FilesDeleted.Load(),
		DataSkew:          b.counters.DataSkew.Load(),
		LastEventID:       b.counters.LastEventID(),
	}
}
