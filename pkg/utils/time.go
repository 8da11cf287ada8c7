package utils

import "time"

// UnixMillis is the wire timestamp format.
func UnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
