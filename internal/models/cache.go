// Package models keeps loaded transcription models for the life of the process.
package models

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/codebuildervaibhav/diarized-transcription/internal/device"
	"github.com/codebuildervaibhav/diarized-transcription/internal/transcription"
)

// DeviceSelector picks the device for a model that is about to be loaded.
type DeviceSelector interface {
	Select() device.Kind
}

// Observer receives cache events, typically for metrics.
type Observer interface {
	ObserveCacheHit(modelID string)
	ObserveModelLoad(modelID string, kind device.Kind, took time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveCacheHit(string)                                    {}
func (nopObserver) ObserveModelLoad(string, device.Kind, time.Duration, error) {}

// LoadError reports a failed model load. Failures are never cached.
type LoadError struct {
	ModelID string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("model %q could not be loaded: %v", e.ModelID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Cache maps model ids to loaded handles. Concurrent requests for an id that
// is not loaded yet share a single load.
//
// With maxLoaded == 0 the cache is unbounded and entries are never evicted
// or reloaded. With maxLoaded > 0 the least recently used handle is evicted
// and closed once it is idle.
type Cache struct {
	loader   transcription.Loader
	devices  DeviceSelector
	observer Observer
	log      *slog.Logger

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*Handle
	bounded *lru.Cache[string, *Handle]
}

// Option configures a Cache.
type Option func(*Cache)

// WithObserver reports hits and loads to o.
func WithObserver(o Observer) Option {
	return func(c *Cache) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewCache creates a cache that loads through loader on the device chosen by
// devices at load time.
func NewCache(loader transcription.Loader, devices DeviceSelector, maxLoaded int, log *slog.Logger, opts ...Option) (*Cache, error) {
	c := &Cache{
		loader:   loader,
		devices:  devices,
		observer: nopObserver{},
		log:      log,
		entries:  make(map[string]*Handle),
	}
	if maxLoaded > 0 {
		bounded, err := lru.NewWithEvict(maxLoaded, func(id string, h *Handle) {
			c.log.Info("evicting model", slog.String("model", id))
			h.retire()
		})
		if err != nil {
			return nil, fmt.Errorf("models: create lru: %w", err)
		}
		c.bounded = bounded
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Cache) lookup(id string) (*Handle, bool) {
	if c.bounded != nil {
		return c.bounded.Get(id)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.entries[id]
	return h, ok
}

func (c *Cache) store(h *Handle) {
	if c.bounded != nil {
		c.bounded.Add(h.ID, h)
		return
	}
	c.mu.Lock()
	c.entries[h.ID] = h
	c.mu.Unlock()
}

// GetOrLoad returns the handle for modelID, loading it on first use.
// A cache hit never re-checks the device.
func (c *Cache) GetOrLoad(ctx context.Context, modelID string) (*Handle, error) {
	if h, ok := c.lookup(modelID); ok {
		c.log.Debug("model served from cache", slog.String("model", modelID), slog.String("device", h.Device.String()))
		c.observer.ObserveCacheHit(modelID)
		return h, nil
	}

	// The load outlives any single caller: others may be waiting on it.
	loadCtx := context.WithoutCancel(ctx)
	v, err, shared := c.group.Do(modelID, func() (any, error) {
		if h, ok := c.lookup(modelID); ok {
			return h, nil
		}

		kind := c.devices.Select()
		c.log.Info("loading model", slog.String("model", modelID), slog.String("device", kind.String()))
		start := time.Now()
		model, err := c.loader.Load(loadCtx, modelID, kind)
		c.observer.ObserveModelLoad(modelID, kind, time.Since(start), err)
		if err != nil {
			return nil, &LoadError{ModelID: modelID, Err: err}
		}

		h := newHandle(modelID, kind, model)
		c.store(h)
		c.log.Info("model loaded",
			slog.String("model", modelID),
			slog.String("device", kind.String()),
			slog.Duration("took", time.Since(start)))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug("model load shared between requests", slog.String("model", modelID))
	}
	return v.(*Handle), nil
}

// Loaded lists the cached handles sorted by id.
func (c *Cache) Loaded() []Info {
	var handles []*Handle
	if c.bounded != nil {
		handles = c.bounded.Values()
	} else {
		c.mu.RLock()
		for _, h := range c.entries {
			handles = append(handles, h)
		}
		c.mu.RUnlock()
	}

	infos := make([]Info, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, h.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close releases every cached model. The cache must not be used afterwards.
func (c *Cache) Close() {
	if c.bounded != nil {
		// Purge runs the eviction callback, which retires each handle.
		c.bounded.Purge()
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, h := range c.entries {
		h.retire()
		delete(c.entries, id)
	}
}
