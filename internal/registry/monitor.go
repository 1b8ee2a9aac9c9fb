package registry

import (
	"context"
	"log/slog"
	"time"
)

// StartMonitoring logs online/offline transitions of enabled sources every
// interval until ctx is done. onChange, if set, is called for each transition.
func (s *Store) StartMonitoring(ctx context.Context, interval time.Duration, onChange func(Source)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkSources(seen, onChange)
		}
	}
}

func (s *Store) checkSources(seen map[string]bool, onChange func(Source)) {
	log := slog.Default().With("service", "monitor")
	for _, src := range s.ListEnabled() {
		prev, known := seen[src.ID]
		seen[src.ID] = src.Online
		if known && prev == src.Online {
			continue
		}
		if !known && !src.Online {
			// never came up yet; report only once it does
			continue
		}
		if src.Online {
			log.Info("source online", "source", src.ID, "adapter", src.Adapter)
		} else {
			log.Warn("source offline", "source", src.ID, "adapter", src.Adapter)
		}
		if onChange != nil {
			onChange(src)
		}
	}
}
