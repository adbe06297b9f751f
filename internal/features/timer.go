package features

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionTimer represents the countdown for one session
type SessionTimer struct {
	SessionID  string
	Total      time.Duration
	StartTime  time.Time
	CancelFunc context.CancelFunc
	Done       chan struct{}
}

// SessionTimerManager manages all session countdowns
type SessionTimerManager struct {
	timers sync.Map // key: session id, value: *SessionTimer
	logger *zap.Logger
	tick   time.Duration
}

// NewSessionTimerManager creates a new timer manager. tick is the countdown
// granularity, one second in production.
func NewSessionTimerManager(logger *zap.Logger, tick time.Duration) *SessionTimerManager {
	return &SessionTimerManager{
		logger: logger,
		tick:   tick,
	}
}

// startTimer starts the countdown for a session. onTick fires once per tick
// with the remaining time; onExpire fires exactly once when the countdown
// reaches zero. A session has at most one running countdown.
func (stm *SessionTimerManager) startTimer(sessionID string, total time.Duration, onTick func(string, time.Duration), onExpire func(string)) {
	// Cancel any existing countdown for this session
	stm.cancelTimer(sessionID)

	ctx, cancel := context.WithCancel(context.Background())

	timer := &SessionTimer{
		SessionID:  sessionID,
		Total:      total,
		StartTime:  time.Now(),
		CancelFunc: cancel,
		Done:       make(chan struct{}),
	}

	stm.timers.Store(sessionID, timer)

	go stm.runTimer(ctx, timer, onTick, onExpire)
}

// cancelTimer cancels a countdown if it exists. No tick or expiry fires
// after cancelTimer returns.
func (stm *SessionTimerManager) cancelTimer(sessionID string) bool {
	if val, ok := stm.timers.LoadAndDelete(sessionID); ok {
		if timer, ok := val.(*SessionTimer); ok {
			timer.CancelFunc()
			// Wait for goroutine to finish (with timeout to prevent blocking)
			select {
			case <-timer.Done:
				stm.logger.Debug("Countdown cancelled successfully", zap.String("sessionID", sessionID))
			case <-time.After(100 * time.Millisecond):
				stm.logger.Warn("Countdown cancellation timeout", zap.String("sessionID", sessionID))
			}
			return true
		}
	}
	return false
}

// runTimer executes the countdown logic
func (stm *SessionTimerManager) runTimer(ctx context.Context, timer *SessionTimer, onTick func(string, time.Duration), onExpire func(string)) {
	defer close(timer.Done)

	ticker := time.NewTicker(stm.tick)
	defer ticker.Stop()

	remaining := timer.Total

	for {
		select {
		case <-ticker.C:
			// Skip if the countdown was cancelled between ticks
			if _, exists := stm.timers.Load(timer.SessionID); !exists {
				return
			}

			remaining -= stm.tick
			if remaining > 0 {
				if onTick != nil {
					onTick(timer.SessionID, remaining)
				}
				continue
			}

			// Expired - remove first so a concurrent cancel cannot race a
			// second expiry
			if _, exists := stm.timers.LoadAndDelete(timer.SessionID); exists {
				stm.logger.Info("Session countdown expired",
					zap.String("sessionID", timer.SessionID),
					zap.Duration("total", timer.Total))
				onExpire(timer.SessionID)
			}
			return

		case <-ctx.Done():
			stm.logger.Debug("Countdown cancelled", zap.String("sessionID", timer.SessionID))
			return
		}
	}
}

// remainingTime returns the remaining time for a session countdown
func (stm *SessionTimerManager) remainingTime(sessionID string) time.Duration {
	if val, ok := stm.timers.Load(sessionID); ok {
		if timer, ok := val.(*SessionTimer); ok {
			elapsed := time.Since(timer.StartTime)
			remaining := timer.Total - elapsed
			if remaining < 0 {
				return 0
			}
			return remaining
		}
	}
	return 0
}

// shutdown cancels all countdowns
func (stm *SessionTimerManager) shutdown() {
	stm.logger.Info("Shutting down session timer manager")
	stm.timers.Range(func(key, value interface{}) bool {
		if timer, ok := value.(*SessionTimer); ok {
			timer.CancelFunc()
		}
		return true
	})
}
