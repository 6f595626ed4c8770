package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestCalculateNextRunWeeklyAdvancesToMatchingWeekday(t *testing.T) {
	now := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC) // Wednesday
	cfg := ScheduleConfig{Frequency: FrequencyWeekly, Time: "09:00", Timezone: "UTC", DayOfWeek: time.Monday}

	next := CalculateNextRun(cfg, now)

	assert.Equal(t, time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRunDailyRollsToTomorrowWhenPast(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyDaily, Time: "09:00", Timezone: "UTC"}

	next := CalculateNextRun(cfg, now)

	assert.Equal(t, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRunDailyStaysTodayWhenStillFuture(t *testing.T) {
	now := time.Date(2024, 3, 1, 7, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyDaily, Time: "09:00", Timezone: "UTC"}

	next := CalculateNextRun(cfg, now)

	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRunMonthlyClampsToMonthEnd(t *testing.T) {
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyMonthly, Time: "09:00", Timezone: "UTC", DayOfMonth: 31}

	next := CalculateNextRun(cfg, now)

	// February 2024 is a leap year: clamps to the 29th.
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRunMonthlyMovesToNextMonthEvenWhenDayStillAhead(t *testing.T) {
	now := time.Date(2024, 1, 10, 7, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyMonthly, Time: "09:00", Timezone: "UTC", DayOfMonth: 15}

	next := CalculateNextRun(cfg, now)

	assert.Equal(t, time.Date(2024, 2, 15, 9, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRunQuarterlyAddsThreeMonths(t *testing.T) {
	now := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyQuarterly, Time: "09:00", Timezone: "UTC", DayOfMonth: 15}

	next := CalculateNextRun(cfg, now)

	assert.Equal(t, time.Date(2024, 4, 15, 9, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRunQuarterlyRollsYearBoundary(t *testing.T) {
	now := time.Date(2024, 12, 20, 10, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyQuarterly, Time: "09:00", Timezone: "UTC", DayOfMonth: 31}

	next := CalculateNextRun(cfg, now)

	assert.Equal(t, time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRunRespectsNonUTCTimezone(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyDaily, Time: "09:00", Timezone: "America/New_York"}

	next := CalculateNextRun(cfg, now)

	assert.True(t, next.After(now))
	assert.Equal(t, 9, next.In(loc).Hour())
}

func TestCalculateNextRunIsAlwaysStrictlyAfterNow(t *testing.T) {
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyDaily, Time: "09:00", Timezone: "UTC"}

	next := CalculateNextRun(cfg, now)

	assert.True(t, next.After(now))
}

func TestCalculateNextRunFallsBackToUTCForUnknownTimezone(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := ScheduleConfig{Frequency: FrequencyDaily, Time: "09:00", Timezone: "Not/ARealZone"}

	next := CalculateNextRun(cfg, now)

	assert.Equal(t, time.UTC, next.Location())
}
