package history

import (
	"log/slog"
	"sync"
	"time"
)

type RetentionConfig struct {
	Interval    time.Duration
	KeepPerRoom int
}

func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Interval:    10 * time.Minute,
		KeepPerRoom: 50,
	}
}

// Retention trims each room's run history to the most recent N records on a
// timer, so the audit log stays bounded without touching live room state.
type Retention struct {
	store  *Store
	config RetentionConfig
	stop   chan struct{}
	wg     sync.WaitGroup
}

func NewRetention(store *Store, config RetentionConfig) *Retention {
	return &Retention{
		store:  store,
		config: config,
		stop:   make(chan struct{}),
	}
}

func (r *Retention) Start() {
	r.wg.Add(1)
	go r.run()
	slog.Info("history retention started",
		"interval", r.config.Interval, "keep_per_room", r.config.KeepPerRoom)
}

func (r *Retention) Stop() {
	close(r.stop)
	r.wg.Wait()
	slog.Info("history retention stopped")
}

func (r *Retention) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.PruneAll()
		}
	}
}

func (r *Retention) PruneAll() {
	roomIDs, err := r.store.RoomIDs()
	if err != nil {
		slog.Error("retention: failed to list rooms", "err", err)
		return
	}

	for _, roomID := range roomIDs {
		count, err := r.store.RunCount(roomID)
		if err != nil || count <= r.config.KeepPerRoom {
			continue
		}
		if err := r.store.PruneRoom(roomID, r.config.KeepPerRoom); err != nil {
			slog.Error("retention: prune failed", "room", roomID, "err", err)
			continue
		}
		slog.Debug("retention: pruned room history",
			"room", roomID, "had", count, "kept", r.config.KeepPerRoom)
	}
}
