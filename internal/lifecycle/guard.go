package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrGuardOpen is returned when the hourly initiation budget is spent.
	ErrGuardOpen = errors.New("remediation guard open: too many remediations in the last hour")

	// ErrCooldown is returned when the anomaly was remediated too recently.
	ErrCooldown = errors.New("anomaly is on remediation cooldown")
)

// Guard limits how often remediations are initiated with a sliding one-hour
// window and a per-anomaly cooldown. A nil *Guard allows everything.
type Guard struct {
	mu         sync.Mutex
	maxPerHour int
	cooldown   time.Duration
	recent     []time.Time
	lastByID   map[string]time.Time
	now        func() time.Time
}

// NewGuard creates a guard. maxPerHour <= 0 disables the window and
// cooldown <= 0 disables the per-anomaly check.
func NewGuard(maxPerHour int, cooldown time.Duration) *Guard {
	return &Guard{
		maxPerHour: maxPerHour,
		cooldown:   cooldown,
		lastByID:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// Allow reports whether a remediation may be initiated for anomalyID.
func (g *Guard) Allow(anomalyID string) error {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pruneOld(now)
	if g.maxPerHour > 0 && len(g.recent) >= g.maxPerHour {
		return ErrGuardOpen
	}
	if last, ok := g.lastByID[anomalyID]; ok && g.cooldown > 0 {
		if wait := g.cooldown - now.Sub(last); wait > 0 {
			return fmt.Errorf("%w: %s for another %s", ErrCooldown, anomalyID, wait.Round(time.Second))
		}
	}
	return nil
}

// Record notes a confirmed initiation.
func (g *Guard) Record(anomalyID string) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.recent = append(g.recent, now)
	g.lastByID[anomalyID] = now
}

// pruneOld drops window entries older than one hour.
func (g *Guard) pruneOld(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(g.recent) && g.recent[i].Before(cutoff) {
		i++
	}
	g.recent = g.recent[i:]
	for id, last := range g.lastByID {
		if now.Sub(last) >= g.cooldown {
			delete(g.lastByID, id)
		}
	}
}
