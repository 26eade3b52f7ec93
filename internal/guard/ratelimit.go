package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const globalKey = "_global"

// RateLimit allows Max requests per Window.
type RateLimit struct {
	Max    int
	Window time.Duration
}

// slidingWindow tracks request timestamps for one key.
type slidingWindow struct {
	timestamps []time.Time
}

// trim drops timestamps at or before now-window.
func (w *slidingWindow) trim(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	valid := 0
	for _, ts := range w.timestamps {
		if ts.After(cutoff) {
			w.timestamps[valid] = ts
			valid++
		}
	}
	clear(w.timestamps[valid:])
	w.timestamps = w.timestamps[:valid]
}

// RateLimitStage enforces per-user and global sliding-window limits. A
// request is counted against both windows only when both admit it. Idle
// windows are swept once per longest window.
type RateLimitStage struct {
	order   int
	perUser *RateLimit
	global  *RateLimit
	now     func() time.Time

	mu        sync.Mutex
	windows   map[string]*slidingWindow
	lastSweep time.Time
}

// NewRateLimitStage creates the stage. Either limit may be nil.
func NewRateLimitStage(order int, perUser, global *RateLimit) *RateLimitStage {
	return &RateLimitStage{
		order:   order,
		perUser: perUser,
		global:  global,
		now:     time.Now,
		windows: make(map[string]*slidingWindow),
	}
}

func (s *RateLimitStage) Name() string  { return "RateLimit" }
func (s *RateLimitStage) Order() int    { return s.order }
func (s *RateLimitStage) Enabled() bool { return s.perUser != nil || s.global != nil }

func (s *RateLimitStage) Check(_ context.Context, cmd Command) (Result, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(now)

	var user, global *slidingWindow
	if s.perUser != nil && cmd.UserID != "" {
		user = s.window("user:"+cmd.UserID, s.perUser, now)
		if len(user.timestamps) >= s.perUser.Max {
			return reject(RateLimited, fmt.Sprintf("rate limit exceeded for user %q: max %d per %s",
				cmd.UserID, s.perUser.Max, s.perUser.Window)), nil
		}
	}
	if s.global != nil {
		global = s.window(globalKey, s.global, now)
		if len(global.timestamps) >= s.global.Max {
			if user != nil && len(user.timestamps) == 0 {
				delete(s.windows, "user:"+cmd.UserID)
			}
			return reject(RateLimited, fmt.Sprintf("global rate limit exceeded: max %d per %s",
				s.global.Max, s.global.Window)), nil
		}
	}

	if user != nil {
		user.timestamps = append(user.timestamps, now)
	}
	if global != nil {
		global.timestamps = append(global.timestamps, now)
	}
	return Allowed{}, nil
}

// window returns the trimmed window for key, creating it if needed.
// Caller holds s.mu.
func (s *RateLimitStage) window(key string, limit *RateLimit, now time.Time) *slidingWindow {
	w, ok := s.windows[key]
	if !ok {
		w = &slidingWindow{}
		s.windows[key] = w
	}
	w.trim(now, limit.Window)
	return w
}

// sweep removes windows with no timestamps inside their limit. It runs at
// most once per longest window. Caller holds s.mu.
func (s *RateLimitStage) sweep(now time.Time) {
	span := s.longestWindow()
	if now.Sub(s.lastSweep) < span {
		return
	}
	s.lastSweep = now
	for key, w := range s.windows {
		limit := s.perUser
		if key == globalKey {
			limit = s.global
		}
		if limit != nil {
			w.trim(now, limit.Window)
		}
		if limit == nil || len(w.timestamps) == 0 {
			delete(s.windows, key)
		}
	}
}

func (s *RateLimitStage) longestWindow() time.Duration {
	var d time.Duration
	if s.perUser != nil {
		d = s.perUser.Window
	}
	if s.global != nil && s.global.Window > d {
		d = s.global.Window
	}
	return d
}

// Size returns the number of tracked windows.
func (s *RateLimitStage) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Reset clears all windows.
func (s *RateLimitStage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*slidingWindow)
}
