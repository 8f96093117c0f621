package ledger

import "time"

// CleanupInterval is how often expired entries are deleted.
const CleanupInterval = time.Hour

// runCleanupLoop calls fn immediately and then every CleanupInterval until
// stop is closed.
func runCleanupLoop(stop <-chan struct{}, fn func()) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	fn()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-stop:
			return
		}
	}
}
