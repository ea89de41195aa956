package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// discordEpoch is the first millisecond of 2015, the epoch Discord snowflakes count from.
const discordEpoch int64 = 1420070400000

// ErrInvalidMarker is returned when a marker is not a transport snowflake.
var ErrInvalidMarker = errors.New("invalid message marker")

// Marker is the transport's identifier for a message. Markers are snowflakes,
// so a numerically larger marker was created later.
type Marker string

// Seq returns the numeric position of the marker.
func (m Marker) Seq() (int64, error) {
	id, err := snowflake.ParseString(string(m))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMarker, string(m))
	}
	return id.Int64(), nil
}

// IsZero reports whether the marker is unset.
func (m Marker) IsZero() bool {
	return m == ""
}

// String returns the raw marker.
func (m Marker) String() string {
	return string(m)
}

// Compare orders two markers. Unparseable markers sort before valid ones and
// fall back to lexical order among themselves.
func (m Marker) Compare(other Marker) int {
	a, errA := m.Seq()
	b, errB := other.Seq()
	switch {
	case errA != nil && errB != nil:
		return compareStrings(string(m), string(other))
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// After reports whether m was created after other.
func (m Marker) After(other Marker) bool {
	return m.Compare(other) > 0
}

// MarkerFromTime builds the smallest marker that could have been issued at t.
// It is used when a checkpoint is opened outside the chat transport.
func MarkerFromTime(t time.Time) Marker {
	ms := t.UnixMilli() - discordEpoch
	if ms < 0 {
		ms = 0
	}
	return Marker(snowflake.ID(ms << 22).String())
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
