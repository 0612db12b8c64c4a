package store

import (
	"sync"

	"github.com/redis/go-redis/v9"
)

// Holder holds the store connection once it is established. It exists to
// break the construction cycle between the logger (which ships records to
// the store's log channel) and the client (which is configured through
// viper, which in turn needs the logger).
type Holder struct {
	mu  sync.RWMutex
	rdb *redis.Client
}

func NewHolder() *Holder {
	return &Holder{}
}

func (h *Holder) Set(rdb *redis.Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rdb = rdb
}

// Get returns the connection or nil when not (yet) connected.
func (h *Holder) Get() *redis.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rdb
}
