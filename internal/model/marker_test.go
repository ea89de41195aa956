package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_Compare(t *testing.T) {
	tests := []struct {
		name string
		a    Marker
		b    Marker
		want int
	}{
		{name: "numeric not lexical", a: "999", b: "1000", want: -1},
		{name: "equal", a: "1100000000000000000", b: "1100000000000000000", want: 0},
		{name: "later snowflake", a: "1200000000000000001", b: "1200000000000000000", want: 1},
		{name: "invalid sorts first", a: "abc", b: "1", want: -1},
		{name: "both invalid", a: "b", b: "a", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestMarker_Seq(t *testing.T) {
	seq, err := Marker("1234567890123456789").Seq()
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890123456789), seq)

	_, err = Marker("not-a-snowflake").Seq()
	require.ErrorIs(t, err, ErrInvalidMarker)

	_, err = Marker("").Seq()
	require.ErrorIs(t, err, ErrInvalidMarker)
}

func TestMarkerFromTime(t *testing.T) {
	earlier := MarkerFromTime(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	later := MarkerFromTime(time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC))

	assert.True(t, later.After(earlier))
	assert.Equal(t, Marker("0"), MarkerFromTime(time.Unix(0, 0)))
}
