// Package store persists user activity and per-period button counters.
package store

import (
	"context"
	"fmt"
	"time"
)

// Period identifies one calendar month in the bot's fixed timezone.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t, evaluated in loc.
func PeriodOf(t time.Time, loc *time.Location) Period {
	t = t.In(loc)
	return Period{Year: t.Year(), Month: t.Month()}
}

// String renders "YYYY-MM"; lexical order equals chronological order.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// ParsePeriod parses the "YYYY-MM" form produced by String.
func ParsePeriod(s string) (Period, error) {
	var y, m int
	if _, err := fmt.Sscanf(s, "%4d-%2d", &y, &m); err != nil {
		return Period{}, fmt.Errorf("bad period %q: %w", s, err)
	}
	if m < 1 || m > 12 {
		return Period{}, fmt.Errorf("bad period %q: month out of range", s)
	}
	return Period{Year: y, Month: time.Month(m)}, nil
}

// Synthetic counter rows holding the user-activity snapshot of a period.
const (
	ActiveUsersKey   = "active_users"
	InactiveUsersKey = "inactive_users"
)

type ActivityCounts struct {
	Active   int
	Inactive int
}

func (c ActivityCounts) Total() int { return c.Active + c.Inactive }

type CounterRow struct {
	Button string
	Count  int
}

// Store is the persistence API used by the router, stats and broadcast
// engines. Errors propagate to the caller; there is no retry layer.
type Store interface {
	// AddOrReactivateUser inserts the user as active, or flips an existing
	// row back to active. Called on any inbound contact.
	AddOrReactivateUser(ctx context.Context, userID string) error
	// SetActive flips the activity flag. Rows are never deleted.
	SetActive(ctx context.Context, userID string, active bool) error
	ListActiveUserIDs(ctx context.Context) ([]string, error)
	// CountByActivity counts users by activity flag and refreshes the
	// period's synthetic rows with the result. It is the ONLY writer of
	// those rows, and it runs only when statistics are requested or after
	// a broadcast completes — so a past period's snapshot reflects the
	// state at the last refresh, not a continuous timeline. Deliberate;
	// keep it that way.
	CountByActivity(ctx context.Context, period Period) (ActivityCounts, error)

	// EnsurePeriod seeds the period with one zero row per trackable button
	// plus the two synthetic rows. Existing rows are left untouched.
	EnsurePeriod(ctx context.Context, period Period, buttons []string) error
	IncrementButtonCounter(ctx context.Context, period Period, button string) error
	// ReadPeriod returns the period's rows in seeding order.
	ReadPeriod(ctx context.Context, period Period) ([]CounterRow, error)
	// ListPeriods returns all stored periods, earliest first.
	ListPeriods(ctx context.Context) ([]Period, error)

	// Path is the on-disk database file, used by the /db dump command.
	Path() string
	// BackupTo writes a consistent snapshot to dstPath.
	BackupTo(ctx context.Context, dstPath string) error
	Close() error
}
