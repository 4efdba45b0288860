package utils

import (
	"strings"
	"time"
)

func Dedup(in []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, e := range in {
		e = strings.TrimRight(e, "/")
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

// LowerAddresses returns a lowercased copy of the given hex addresses.
func LowerAddresses(in []string) []string {
	out := make([]string, len(in))
	for i, a := range in {
		out[i] = strings.ToLower(a)
	}
	return out
}

// MidnightUTC truncates a unix timestamp to 00:00:00 UTC of its day.
func MidnightUTC(ts int64) int64 {
	t := time.Unix(ts, 0).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

const SecondsPerDay int64 = 24 * 60 * 60
