// Package activity records the last time each user's workspace was reached
// through the gateway. State is in memory only and lost on restart.
package activity

import (
	"sort"
	"sync"
	"time"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/metrics"
)

type Tracker struct {
	seen sync.Map // int64 -> int64 (unix millis)
	now  func() time.Time
}

func New() *Tracker { return &Tracker{now: time.Now} }

// Touch records activity for userID at the current time.
func (t *Tracker) Touch(userID int64) {
	if userID <= 0 {
		return
	}
	t.seen.Store(userID, t.now().UnixMilli())
}

// LastSeen returns the last recorded activity for userID.
func (t *Tracker) LastSeen(userID int64) (time.Time, bool) {
	v, ok := t.seen.Load(userID)
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(v.(int64)), true
}

// Forget drops userID, e.g. after its port is released.
func (t *Tracker) Forget(userID int64) { t.seen.Delete(userID) }

// IdleSince returns users whose last activity is before cutoff, sorted by id,
// and publishes the count as a gauge.
func (t *Tracker) IdleSince(cutoff time.Time) []int64 {
	ms := cutoff.UnixMilli()
	var out []int64
	t.seen.Range(func(k, v any) bool {
		if v.(int64) < ms {
			out = append(out, k.(int64))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	metrics.SetIdleWorkspaces(len(out))
	return out
}

// Len reports how many users are tracked.
func (t *Tracker) Len() int {
	n := 0
	t.seen.Range(func(any, any) bool { n++; return true })
	return n
}
