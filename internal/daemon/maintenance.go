package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Maintenance cadence: a stale HNSW overlay (left by a skip_hnsw
// indexing run) is rebuilt once the daemon has been idle long enough,
// with a cooldown so repeated watch-mode churn cannot thrash rebuilds.
const (
	maintenanceInterval = 30 * time.Second
	idleThreshold       = 30 * time.Second
	rebuildCooldown     = 1 * time.Hour
)

// maintenance rebuilds deferred overlay state during idle periods.
type maintenance struct {
	server *Server

	mu           sync.Mutex
	lastActivity time.Time
	lastRebuild  time.Time
}

func newMaintenance(s *Server) *maintenance {
	return &maintenance{server: s, lastActivity: time.Now()}
}

// noteActivity marks the daemon busy; rebuilds wait for idle.
func (m *maintenance) noteActivity() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

func (m *maintenance) run(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *maintenance) tick() {
	h := m.server.currentHandles()
	if h == nil || h.Collection == nil || !h.Collection.HNSWStale() {
		return
	}

	m.mu.Lock()
	idle := time.Since(m.lastActivity) >= idleThreshold
	cooled := time.Since(m.lastRebuild) >= rebuildCooldown
	m.mu.Unlock()
	if !idle || !cooled {
		return
	}

	slog.Info("rebuilding_stale_hnsw")
	if err := h.Collection.RebuildHNSW(); err != nil {
		slog.Warn("maintenance_rebuild_failed", slog.String("error", err.Error()))
		return
	}

	m.mu.Lock()
	m.lastRebuild = time.Now()
	m.mu.Unlock()
}
