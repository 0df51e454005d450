package services

import "time"

// Clock supplies the instant used to judge paste expiry
type Clock func() time.Time

// WallClock reads the system time
func WallClock() time.Time {
	return time.Now()
}

// FixedClock always reports t
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}
