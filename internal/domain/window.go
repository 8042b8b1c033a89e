package domain

import (
	"strconv"
	"strings"
	"time"
)

// TimeWindow is a half-open UTC interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window from epoch seconds.
func NewWindow(startEpoch, endEpoch int64) TimeWindow {
	return TimeWindow{
		Start: time.Unix(startEpoch, 0).UTC(),
		End:   time.Unix(endEpoch, 0).UTC(),
	}
}

// Valid reports whether the window covers any time at all.
func (w TimeWindow) Valid() bool {
	return w.End.After(w.Start)
}

// Duration returns the window's length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// EpochStart returns Start as epoch seconds.
func (w TimeWindow) EpochStart() int64 { return w.Start.Unix() }

// EpochEnd returns End as epoch seconds.
func (w TimeWindow) EpochEnd() int64 { return w.End.Unix() }

// Halves splits the window into two equal halves at the midpoint, rounded
// down to a whole second. ok is false when the window is too small to split,
// which happens at one second of width.
func (w TimeWindow) Halves() (first, second TimeWindow, ok bool) {
	mid := (w.EpochStart() + w.EpochEnd()) / 2
	if mid <= w.EpochStart() || mid >= w.EpochEnd() {
		return TimeWindow{}, TimeWindow{}, false
	}
	return TimeWindow{Start: w.Start, End: time.Unix(mid, 0).UTC()},
		TimeWindow{Start: time.Unix(mid, 0).UTC(), End: w.End},
		true
}

// SplitEvery divides the window into consecutive chunks of at most d,
// ordered oldest first. The final chunk may be shorter.
func (w TimeWindow) SplitEvery(d time.Duration) []TimeWindow {
	if !w.Valid() || d <= 0 {
		return nil
	}
	var out []TimeWindow
	for start := w.Start; start.Before(w.End); start = start.Add(d) {
		end := start.Add(d)
		if end.After(w.End) {
			end = w.End
		}
		out = append(out, TimeWindow{Start: start, End: end})
	}
	return out
}

// FilenameStem renders the window as "<start>_<end>" in epoch seconds, the
// form used in raw chunk filenames.
func (w TimeWindow) FilenameStem() string {
	return strconv.FormatInt(w.EpochStart(), 10) + "_" + strconv.FormatInt(w.EpochEnd(), 10)
}

// ParseFilenameStem recovers a window from a raw chunk filename stem.
func ParseFilenameStem(stem string) (TimeWindow, bool) {
	parts := strings.Split(stem, "_")
	if len(parts) != 2 {
		return TimeWindow{}, false
	}
	start, err1 := strconv.ParseInt(parts[0], 10, 64)
	end, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return TimeWindow{}, false
	}
	return NewWindow(start, end), true
}
