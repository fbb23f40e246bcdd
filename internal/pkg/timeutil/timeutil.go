package timeutil

import "time"

func NowUnix() int64 {
	return time.Now().Unix()
}

// NowMilli is the resolution used by every persisted timestamp.
func NowMilli() int64 {
	return time.Now().UnixMilli()
}

func FormatMilli(ms int64, loc *time.Location, layout string) string {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc).Format(layout)
}
