package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ref = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestParse_Relative(t *testing.T) {
	got, err := Parse("+90s", ref)
	require.NoError(t, err)
	assert.Equal(t, ref.Add(90*time.Second), got)

	_, err = Parse("+soon", ref)
	assert.ErrorIs(t, err, ErrUnparseableTime)
}

func TestParse_UnixMillis(t *testing.T) {
	got, err := Parse("1704110400000", ref)
	require.NoError(t, err)
	assert.True(t, got.Equal(ref))
}

func TestParse_RejectsUnixSeconds(t *testing.T) {
	for _, s := range []string{"1704110400", "0", "42"} {
		_, err := Parse(s, ref)
		assert.ErrorIs(t, err, ErrUnparseableTime, "input %q", s)
	}
}

func TestParse_RFC3339(t *testing.T) {
	got, err := Parse("2024-01-01T12:00:00.5Z", ref)
	require.NoError(t, err)
	assert.True(t, got.Equal(ref.Add(500*time.Millisecond)))

	got, err = Parse("2024-01-01T14:00:00+02:00", ref)
	require.NoError(t, err)
	assert.True(t, got.Equal(ref))
}

func TestParse_HTTPDate(t *testing.T) {
	got, err := Parse("Mon, 01 Jan 2024 12:00:00 GMT", ref)
	require.NoError(t, err)
	assert.True(t, got.Equal(ref))
}

func TestParse_FreeForm(t *testing.T) {
	got, err := Parse("2024-03-05 09:30", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC), got)
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "   ", "tomorrow-ish", "2024-13-45"} {
		_, err := Parse(s, ref)
		assert.ErrorIs(t, err, ErrUnparseableTime, "input %q", s)
	}
}

func TestCron_Descriptor(t *testing.T) {
	s, err := Cron("@every 1m")
	require.NoError(t, err)
	assert.Equal(t, ref.Add(time.Minute), s.Next(ref))
}

func TestCron_Expression(t *testing.T) {
	s, err := Cron("0 9 * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), s.Next(ref))
}

func TestCron_Invalid(t *testing.T) {
	_, err := Cron("not a cron")
	assert.Error(t, err)
}
