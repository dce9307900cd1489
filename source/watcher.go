package source

import (
	"context"
	"time"
)

// Reload loads every row from the store into the registry.
func (r *Registry) Reload(ctx context.Context, st *Store) error {
	all, err := st.List(ctx)
	if err != nil {
		return err
	}
	r.Replace(all)
	return nil
}

// Watch polls PRAGMA data_version on the store's database and reloads the
// registry whenever another connection has written to it. It loads once
// immediately and blocks until ctx is cancelled:
//
//	go reg.Watch(ctx, store, 2*time.Second)
func (r *Registry) Watch(ctx context.Context, st *Store, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Version first: a write racing the initial load still bumps it.
	var last int64
	if err := st.DB.QueryRowContext(ctx, "PRAGMA data_version").Scan(&last); err != nil {
		r.logger.Warn("source: data_version read failed", "error", err)
	}
	if err := r.Reload(ctx, st); err != nil {
		r.logger.Error("source: initial reload failed", "error", err)
	}
	r.logger.Info("source watcher started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("source watcher stopped")
			return
		case <-ticker.C:
			var ver int64
			if err := st.DB.QueryRowContext(ctx, "PRAGMA data_version").Scan(&ver); err != nil {
				r.logger.Warn("source: data_version poll failed", "error", err)
				continue
			}
			if ver == last {
				continue
			}
			r.logger.Info("source: change detected, reloading", "old_version", last, "new_version", ver)
			if err := r.Reload(ctx, st); err != nil {
				r.logger.Error("source: reload failed", "error", err)
				continue
			}
			last = ver
		}
	}
}
