package reclaim

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ruiAndroid/fun-ai-studio-workspace/internal/metrics"
)

// QuarantineDirName must match layout.QuarantineDir.
const QuarantineDirName = ".quarantine"

// quarantinedAt parses the epoch-millis suffix added by Reclaim.
func quarantinedAt(name string) (time.Time, bool) {
	i := strings.LastIndexByte(name, '-')
	if i < 0 || i == len(name)-1 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(name[i+1:], 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// PurgeQuarantine removes quarantined directories under <root>/*/.quarantine
// that were quarantined before now-retention. Entries without a parsable
// timestamp are left alone. It returns how many entries were removed and the
// first removal error.
func PurgeQuarantine(root string, retention time.Duration, now time.Time) (int, error) {
	users, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace root: %w", err)
	}
	cutoff := now.Add(-retention)
	removed := 0
	var firstErr error
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		qdir := filepath.Join(root, u.Name(), QuarantineDirName)
		entries, err := os.ReadDir(qdir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			at, ok := quarantinedAt(e.Name())
			if !ok || !at.Before(cutoff) {
				continue
			}
			if err := os.RemoveAll(filepath.Join(qdir, e.Name())); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("purge %s: %w", e.Name(), err)
				}
				continue
			}
			removed++
		}
	}
	metrics.AddQuarantinePurged(removed)
	return removed, firstErr
}
