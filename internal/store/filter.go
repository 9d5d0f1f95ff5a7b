package store

import (
	"fmt"
	"strings"

	"github.com/hefazi/PANTOhealth/internal/models"
)

// Filter is a conjunctive predicate over records. Zero-valued criteria are
// not applied: an empty DeviceID matches every device and a nil bound leaves
// that side of the time range open. Both bounds are inclusive.
type Filter struct {
	DeviceID  string
	StartTime *int64
	EndTime   *int64
}

// IsEmpty reports whether no criterion is set.
func (f Filter) IsEmpty() bool {
	return f.DeviceID == "" && f.StartTime == nil && f.EndTime == nil
}

// Match reports whether r satisfies every criterion in f.
func (f Filter) Match(r models.Record) bool {
	if f.DeviceID != "" && r.DeviceID != f.DeviceID {
		return false
	}
	if f.StartTime != nil && r.Time < *f.StartTime {
		return false
	}
	if f.EndTime != nil && r.Time > *f.EndTime {
		return false
	}
	return true
}

// where renders f as a SQL WHERE clause with positional parameters.
// It returns an empty clause for an empty filter.
func (f Filter) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.DeviceID != "" {
		add("device_id = $%d", f.DeviceID)
	}
	if f.StartTime != nil {
		add("time >= $%d", *f.StartTime)
	}
	if f.EndTime != nil {
		add("time <= $%d", *f.EndTime)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
