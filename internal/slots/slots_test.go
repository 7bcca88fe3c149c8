package slots

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(Config{BaseHour: 8, DefaultCount: 8, ClosingTime: "18:00"})
	require.NoError(t, err)
	return c
}

func TestCandidatesDefaultList(t *testing.T) {
	c := newTestCatalog(t)

	got := c.Candidates(false)
	assert.Equal(t, []string{"08:00", "08:15", "08:30", "08:45", "09:00", "09:15", "09:30", "09:45"}, got)
}

func TestCandidatesExtendedList(t *testing.T) {
	c := newTestCatalog(t)

	got := c.Candidates(true)
	require.Len(t, got, 40)
	assert.Equal(t, "08:00", got[0])
	assert.Equal(t, "17:45", got[len(got)-1])
}

func TestCandidatesShortDayCapsDefaultList(t *testing.T) {
	c, err := NewCatalog(Config{BaseHour: 8, DefaultCount: 8, ClosingTime: "08:45"})
	require.NoError(t, err)

	assert.Equal(t, []string{"08:00", "08:15", "08:30"}, c.Candidates(false))
}

func TestNewCatalogRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"base hour out of range", Config{BaseHour: 24, DefaultCount: 8, ClosingTime: "18:00"}},
		{"closing before base", Config{BaseHour: 9, DefaultCount: 8, ClosingTime: "08:00"}},
		{"closing off grid", Config{BaseHour: 8, DefaultCount: 8, ClosingTime: "18:05"}},
		{"no default count", Config{BaseHour: 8, DefaultCount: 0, ClosingTime: "18:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:45")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+45*time.Minute, d)

	_, err = ParseClock("9:45")
	assert.ErrorIs(t, err, ErrBadClock)

	_, err = ParseClock("09:50")
	assert.ErrorIs(t, err, ErrOffGrid)

	_, err = ParseClock("")
	assert.ErrorIs(t, err, ErrBadClock)
}

func TestContains(t *testing.T) {
	c := newTestCatalog(t)

	assert.True(t, c.Contains("08:00"))
	assert.True(t, c.Contains("17:45"))
	assert.False(t, c.Contains("18:00"))
	assert.False(t, c.Contains("07:45"))
	assert.False(t, c.Contains("08:10"))
}

func TestFilterDisablesBookedSlots(t *testing.T) {
	candidates := []string{"08:00", "08:15", "08:30"}
	booked := []string{"08:15", "12:00"}

	got := Filter(candidates, booked)

	assert.Equal(t, []Slot{
		{Time: "08:00", Available: true},
		{Time: "08:15", Available: false},
		{Time: "08:30", Available: true},
	}, got)
}

func TestStartUsesClinicLocation(t *testing.T) {
	loc := time.FixedZone("clinic", 3*60*60)
	c, err := NewCatalog(Config{BaseHour: 8, DefaultCount: 8, ClosingTime: "18:00", Location: loc})
	require.NoError(t, err)

	start, err := c.Start("2026-03-02", "08:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 5, 30, 0, 0, time.UTC), start.UTC())

	_, err = c.Start("02/03/2026", "08:30")
	assert.ErrorIs(t, err, ErrBadDate)
}

func TestStartKeepsWallClockAcrossDSTChanges(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	c, err := NewCatalog(Config{BaseHour: 8, DefaultCount: 8, ClosingTime: "18:00", Location: loc})
	require.NoError(t, err)

	tests := []struct {
		date string
		want time.Time
	}{
		{"2026-03-29", time.Date(2026, 3, 29, 6, 0, 0, 0, time.UTC)},
		{"2026-10-25", time.Date(2026, 10, 25, 7, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			start, err := c.Start(tt.date, "08:00")
			require.NoError(t, err)
			assert.Equal(t, "08:00", start.In(loc).Format(ClockLayout))
			assert.Equal(t, tt.want, start.UTC())
		})
	}
}

func TestToday(t *testing.T) {
	loc := time.FixedZone("clinic", 3*60*60)
	c, err := NewCatalog(Config{BaseHour: 8, DefaultCount: 8, ClosingTime: "18:00", Location: loc})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-03-02", c.Today(now))
}
