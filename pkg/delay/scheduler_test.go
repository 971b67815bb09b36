package delay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagerhq/voyager/pkg/calendar"
	"github.com/voyagerhq/voyager/pkg/customers"
	"github.com/voyagerhq/voyager/pkg/models"
)

func utc(t *testing.T, value string) time.Time {
	t.Helper()

	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)

	return parsed
}

func testSnapshot() *models.CustomerSnapshot {
	return &models.CustomerSnapshot{CustomerID: "c1", Timezone: "UTC"}
}

func TestEnter_FixedTime(t *testing.T) {
	scheduler := NewScheduler(nil)

	entered := utc(t, "2025-03-12T10:00:00Z")
	now := utc(t, "2025-03-12T10:00:05Z")

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType: models.DelayFixedTime,
		Duration:  2 * time.Hour,
	}, entered, now, testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, utc(t, "2025-03-12T12:00:00Z"), *decision.WakeAt)
	assert.False(t, decision.Resume)
}

func TestEnter_FixedTimeWithQuietHours(t *testing.T) {
	scheduler := NewScheduler(nil)

	entered := utc(t, "2025-03-12T20:30:00Z")
	now := entered

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType: models.DelayFixedTime,
		Duration:  2 * time.Hour,
		Calendar: calendar.Adjustments{
			QuietHours: calendar.QuietHours{Enabled: true, Start: "22:00", End: "08:00"},
		},
	}, entered, now, testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)

	// 22:30 falls in quiet hours; the wake moves to 08:00 next day.
	assert.Equal(t, utc(t, "2025-03-13T08:00:00Z"), *decision.WakeAt)
}

func TestEnter_WaitUntilTime_Ahead(t *testing.T) {
	scheduler := NewScheduler(nil)
	now := utc(t, "2025-03-12T08:00:00Z")

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:  models.DelayWaitUntilTime,
		TargetTime: "10:30",
	}, now, now, testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, utc(t, "2025-03-12T10:30:00Z"), *decision.WakeAt)
}

func TestEnter_WaitUntilTime_PassedPolicies(t *testing.T) {
	scheduler := NewScheduler(nil)
	now := utc(t, "2025-03-12T15:00:00Z")

	// Default policy waits for tomorrow.
	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:  models.DelayWaitUntilTime,
		TargetTime: "10:30",
	}, now, now, testSnapshot())
	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, utc(t, "2025-03-13T10:30:00Z"), *decision.WakeAt)

	// Skip continues immediately.
	decision, err = scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:  models.DelayWaitUntilTime,
		TargetTime: "10:30",
		IfPassed:   models.IfPassedSkip,
	}, now, now, testSnapshot())
	require.NoError(t, err)
	assert.True(t, decision.Resume)
	assert.Empty(t, decision.Warning)

	// Continue-with-warning continues and reports.
	decision, err = scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:  models.DelayWaitUntilTime,
		TargetTime: "10:30",
		IfPassed:   models.IfPassedContinue,
	}, now, now, testSnapshot())
	require.NoError(t, err)
	assert.True(t, decision.Resume)
	assert.NotEmpty(t, decision.Warning)
}

func TestEnter_WaitUntilTime_CustomerTimezone(t *testing.T) {
	scheduler := NewScheduler(nil)
	now := utc(t, "2025-06-15T12:00:00Z") // 08:00 in New York

	snapshot := &models.CustomerSnapshot{CustomerID: "c1", Timezone: "America/New_York"}

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:  models.DelayWaitUntilTime,
		TargetTime: "09:00",
	}, now, now, snapshot)

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, utc(t, "2025-06-15T13:00:00Z"), decision.WakeAt.UTC())
}

func TestEnter_WaitForEvent_SleepsUntilTimeout(t *testing.T) {
	scheduler := NewScheduler(nil)

	entered := utc(t, "2025-03-12T10:00:00Z")

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:   models.DelayWaitForEvent,
		EventName:   "order_placed",
		MaxWaitTime: 48 * time.Hour,
	}, entered, entered, testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, entered.Add(48*time.Hour), *decision.WakeAt)
}

func TestEnter_WaitForAttribute_AlreadySatisfiedResumes(t *testing.T) {
	scheduler := NewScheduler(nil)

	entered := utc(t, "2025-03-12T10:00:00Z")
	snapshot := &models.CustomerSnapshot{
		CustomerID: "c1",
		Timezone:   "UTC",
		Attributes: map[string]any{"vip": "yes"},
	}

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:     models.DelayWaitForAttribute,
		AttributePath: "vip",
		TargetValue:   "yes",
		MaxWaitTime:   48 * time.Hour,
	}, entered, entered, snapshot)

	require.NoError(t, err)
	assert.True(t, decision.Resume)
	assert.Nil(t, decision.WakeAt)
}

func TestEnter_WaitForAttribute_UnsatisfiedSleepsUntilTimeout(t *testing.T) {
	scheduler := NewScheduler(nil)

	entered := utc(t, "2025-03-12T10:00:00Z")
	snapshot := &models.CustomerSnapshot{
		CustomerID: "c1",
		Timezone:   "UTC",
		Attributes: map[string]any{"vip": "no"},
	}

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:     models.DelayWaitForAttribute,
		AttributePath: "vip",
		TargetValue:   "yes",
		MaxWaitTime:   48 * time.Hour,
	}, entered, entered, snapshot)

	require.NoError(t, err)
	assert.False(t, decision.Resume)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, entered.Add(48*time.Hour), *decision.WakeAt)
}

func TestEnter_WaitForAttribute_MissingAttributeSleeps(t *testing.T) {
	scheduler := NewScheduler(nil)

	entered := utc(t, "2025-03-12T10:00:00Z")

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:     models.DelayWaitForAttribute,
		AttributePath: "vip",
		TargetValue:   "yes",
		MaxWaitTime:   time.Hour,
	}, entered, entered, testSnapshot())

	require.NoError(t, err)
	assert.False(t, decision.Resume)
	require.NotNil(t, decision.WakeAt)
}

func TestEnter_OptimalSendTime_UsesBestHour(t *testing.T) {
	stats := customers.NewStatic()
	stats.SetBestHour("c1", 19)

	scheduler := NewScheduler(stats)
	now := utc(t, "2025-03-12T10:00:00Z")

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:    models.DelayOptimalSendTime,
		WindowStart:  "09:00",
		WindowEnd:    "21:00",
		FallbackTime: "11:00",
	}, now, now, testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, utc(t, "2025-03-12T19:00:00Z"), *decision.WakeAt)
}

func TestEnter_OptimalSendTime_FallsBackWithoutHistory(t *testing.T) {
	scheduler := NewScheduler(customers.NewStatic())
	now := utc(t, "2025-03-12T10:00:00Z")

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:    models.DelayOptimalSendTime,
		FallbackTime: "11:00",
	}, now, now, testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, utc(t, "2025-03-12T11:00:00Z"), *decision.WakeAt)
}

func TestEnter_OptimalSendTime_PassedMovesToTomorrow(t *testing.T) {
	stats := customers.NewStatic()
	stats.SetBestHour("c1", 9)

	scheduler := NewScheduler(stats)
	now := utc(t, "2025-03-12T15:00:00Z")

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:    models.DelayOptimalSendTime,
		FallbackTime: "11:00",
	}, now, now, testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, utc(t, "2025-03-13T09:00:00Z"), *decision.WakeAt)
}

func TestEnter_OptimalSendTime_BestHourOutsideWindow(t *testing.T) {
	stats := customers.NewStatic()
	stats.SetBestHour("c1", 3)

	scheduler := NewScheduler(stats)
	now := utc(t, "2025-03-12T10:00:00Z")

	decision, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType:    models.DelayOptimalSendTime,
		WindowStart:  "09:00",
		WindowEnd:    "21:00",
		FallbackTime: "11:00",
	}, now, now, testSnapshot())

	require.NoError(t, err)
	require.NotNil(t, decision.WakeAt)
	assert.Equal(t, utc(t, "2025-03-12T11:00:00Z"), *decision.WakeAt)
}

func TestEnter_UnknownType(t *testing.T) {
	scheduler := NewScheduler(nil)

	_, err := scheduler.Enter(context.Background(), &models.DelayConfig{
		DelayType: "nap",
	}, time.Now(), time.Now(), testSnapshot())

	assert.Error(t, err)
}

func TestOnTimeout_Defaults(t *testing.T) {
	assert.Equal(t, models.TimeoutContinue, OnTimeout(&models.DelayConfig{}))
	assert.Equal(t, models.TimeoutExit, OnTimeout(&models.DelayConfig{OnTimeout: models.TimeoutExit}))
	assert.Equal(t, models.TimeoutBranch, OnTimeout(&models.DelayConfig{OnTimeout: models.TimeoutBranch}))
}
