package services

import (
	"context"
	"sync"
	"time"

	"notification-relay/pkg/logging"
)

// ReplayGuard remembers which notifications were already relayed.
type ReplayGuard interface {
	// Mark records id and reports whether it had been recorded before.
	Mark(ctx context.Context, id string) (bool, error)
	// Forget removes id so a retried delivery is accepted again.
	Forget(ctx context.Context, id string) error
}

// ReplayProtection is an in-process ReplayGuard
type ReplayProtection struct {
	processedNotifications map[string]time.Time
	mutex                  sync.Mutex
	cleanupInterval        time.Duration
	notificationTTL        time.Duration
	now                    func() time.Time
	stopCleanup            chan struct{}
	stopOnce               sync.Once
}

// NewReplayProtection creates a guard remembering notifications for ttl
func NewReplayProtection(ttl time.Duration) *ReplayProtection {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cleanupInterval := time.Hour
	if ttl < cleanupInterval {
		cleanupInterval = ttl
	}

	rp := &ReplayProtection{
		processedNotifications: make(map[string]time.Time),
		cleanupInterval:        cleanupInterval,
		notificationTTL:        ttl,
		now:                    time.Now,
		stopCleanup:            make(chan struct{}),
	}

	go rp.startCleanupRoutine()

	return rp
}

func (rp *ReplayProtection) Mark(_ context.Context, id string) (bool, error) {
	if id == "" {
		// nothing to key on, let it through
		logging.Infof("Notification UUID is empty, skipping replay check")
		return false, nil
	}

	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	now := rp.now()
	if processedTime, exists := rp.processedNotifications[id]; exists && now.Sub(processedTime) <= rp.notificationTTL {
		logging.Infof("Replay detected - notification_uuid: %s, previously processed at: %v", id, processedTime)
		return true, nil
	}

	rp.processedNotifications[id] = now
	return false, nil
}

func (rp *ReplayProtection) Forget(_ context.Context, id string) error {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	delete(rp.processedNotifications, id)
	return nil
}

func (rp *ReplayProtection) startCleanupRoutine() {
	ticker := time.NewTicker(rp.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rp.cleanup()
		case <-rp.stopCleanup:
			return
		}
	}
}

// cleanup drops records older than the TTL
func (rp *ReplayProtection) cleanup() {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	now := rp.now()
	initialCount := len(rp.processedNotifications)

	for id, processedTime := range rp.processedNotifications {
		if now.Sub(processedTime) > rp.notificationTTL {
			delete(rp.processedNotifications, id)
		}
	}

	cleanedCount := initialCount - len(rp.processedNotifications)
	if cleanedCount > 0 {
		logging.Infof("Replay protection cleanup: removed %d expired notifications, remaining: %d", cleanedCount, len(rp.processedNotifications))
	}
}

// Stop stops the cleanup goroutine
func (rp *ReplayProtection) Stop() {
	rp.stopOnce.Do(func() {
		close(rp.stopCleanup)
	})
}
