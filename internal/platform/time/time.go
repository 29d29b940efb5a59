// Package time holds small time helpers shared by the feed packages
package time

import "time"

// Never is the sentinel for "no timestamp recorded", the Unix epoch in UTC
var Never = time.Unix(0, 0).UTC()

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Deref returns *p, or the zero time for nil
func Deref(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}

// IsNever reports whether t is zero or the epoch sentinel
func IsNever(t time.Time) bool { return t.IsZero() || t.Equal(Never) }

// OrNever maps the zero time to Never
func OrNever(t time.Time) time.Time {
	if t.IsZero() {
		return Never
	}
	return t
}
