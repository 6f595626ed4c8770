package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditrail/auditrail/internal/domain/event"
)

func testEngineConfig() EngineConfig {
	return EngineConfig{
		FailedAuth:         Config{Enabled: true, Window: time.Minute, Threshold: 3},
		UnauthorizedAccess: Config{Enabled: true, Window: time.Minute, Threshold: 2},
		DataVelocity:       Config{Enabled: true, Window: time.Minute, Threshold: 2},
		BulkOperation:      Config{Enabled: true, Window: time.Minute, Threshold: 2},
		OffHoursStart:      22,
		OffHoursEnd:        6,
	}
}

func loginFailureEvent(principal string, at time.Time) *event.Event {
	return &event.Event{
		Timestamp: at, Action: "auth.login.failure", Status: event.StatusFailure,
		PrincipalID: principal, OrganizationID: "org1",
	}
}

func TestFailedAuthDetectorTripsAtThreshold(t *testing.T) {
	en := NewEngine(testEngineConfig())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var last []*SuspiciousPattern
	for i := 0; i < 3; i++ {
		last = en.Observe(loginFailureEvent("user1", base.Add(time.Duration(i)*time.Second)))
	}

	require.Len(t, last, 1)
	assert.Equal(t, TypeFailedAuth, last[0].Type)
	assert.Equal(t, "user1", last[0].GroupKey)
	assert.Equal(t, 3, last[0].EventCount)
}

func TestFailedAuthDetectorIgnoresSuccess(t *testing.T) {
	en := NewEngine(testEngineConfig())
	e := loginFailureEvent("user1", time.Now().UTC())
	e.Status = event.StatusSuccess

	results := en.Observe(e)
	assert.Empty(t, results)
}

func TestFailedAuthDetectorDisabledNeverTrips(t *testing.T) {
	cfg := testEngineConfig()
	cfg.FailedAuth.Enabled = false
	en := NewEngine(cfg)
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var results []*SuspiciousPattern
	for i := 0; i < 5; i++ {
		results = en.Observe(loginFailureEvent("user1", base.Add(time.Duration(i)*time.Second)))
	}
	assert.Empty(t, results)
}

func TestUnauthorizedAccessDetectorTripsOnOutcomeKeyword(t *testing.T) {
	en := NewEngine(testEngineConfig())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var last []*SuspiciousPattern
	for i := 0; i < 2; i++ {
		e := &event.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second), Action: "data.read.patient",
			Status: event.StatusFailure, PrincipalID: "user2", OrganizationID: "org1",
			OutcomeDescription: "access denied: insufficient role",
		}
		last = en.Observe(e)
	}

	require.Len(t, last, 1)
	assert.Equal(t, TypeUnauthorizedAccess, last[0].Type)
	assert.Equal(t, SeverityCritical, last[0].Severity)
}

func TestDataVelocityDetectorTripsOnRepeatedDataAccess(t *testing.T) {
	en := NewEngine(testEngineConfig())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var last []*SuspiciousPattern
	for i := 0; i < 2; i++ {
		e := &event.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second), Action: "data.read.patient",
			Status: event.StatusSuccess, PrincipalID: "user3", OrganizationID: "org1",
		}
		last = en.Observe(e)
	}

	require.Len(t, last, 1)
	assert.Equal(t, TypeDataVelocity, last[0].Type)
}

func TestDataVelocityDetectorTripsOnTargetResourceType(t *testing.T) {
	en := NewEngine(testEngineConfig())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	resourceType := "Patient"

	var last []*SuspiciousPattern
	for i := 0; i < 2; i++ {
		e := &event.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second), Action: "custom.action",
			Status: event.StatusSuccess, PrincipalID: "user4", OrganizationID: "org1",
			TargetResourceType: &resourceType,
		}
		last = en.Observe(e)
	}

	require.Len(t, last, 1)
	assert.Equal(t, TypeDataVelocity, last[0].Type)
}

func TestBulkOperationDetectorTripsOnActionPattern(t *testing.T) {
	en := NewEngine(testEngineConfig())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var last []*SuspiciousPattern
	for i := 0; i < 2; i++ {
		e := &event.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second), Action: "data.export.full",
			Status: event.StatusSuccess, PrincipalID: "user5", OrganizationID: "org1",
		}
		last = en.Observe(e)
	}

	require.Len(t, last, 1)
	assert.Equal(t, TypeBulkOperation, last[0].Type)
}

func TestBulkOperationDetectorTripsOnRecordCountExceedingTen(t *testing.T) {
	en := NewEngine(testEngineConfig())
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var last []*SuspiciousPattern
	for i := 0; i < 2; i++ {
		e := &event.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second), Action: "custom.action",
			Status: event.StatusSuccess, PrincipalID: "user6", OrganizationID: "org1",
			Details: map[string]interface{}{"recordCount": "11"},
		}
		last = en.Observe(e)
	}

	require.Len(t, last, 1)
	assert.Equal(t, TypeBulkOperation, last[0].Type)
}

func TestBulkOperationDetectorDoesNotTripAtExactlyTenRecords(t *testing.T) {
	en := NewEngine(testEngineConfig())
	e := &event.Event{
		Timestamp: time.Now().UTC(), Action: "custom.action",
		Status: event.StatusSuccess, PrincipalID: "user7", OrganizationID: "org1",
		Details: map[string]interface{}{"recordCount": 10},
	}

	results := en.Observe(e)
	assert.Empty(t, results)
}

func TestOffHoursDetectorTripsOutsideBusinessHours(t *testing.T) {
	en := NewEngine(testEngineConfig())
	lateNight := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)

	e := &event.Event{
		Timestamp: lateNight, Action: "data.read.patient",
		Status: event.StatusSuccess, PrincipalID: "user8", OrganizationID: "org1",
	}

	results := en.Observe(e)
	require.Len(t, results, 1)
	assert.Equal(t, TypeOffHours, results[0].Type)
	assert.Equal(t, SeverityLow, results[0].Severity)
}

func TestOffHoursDetectorDoesNotTripDuringBusinessHours(t *testing.T) {
	en := NewEngine(testEngineConfig())
	midday := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	e := &event.Event{
		Timestamp: midday, Action: "data.read.patient",
		Status: event.StatusSuccess, PrincipalID: "user9", OrganizationID: "org1",
	}

	results := en.Observe(e)
	assert.Empty(t, results)
}

func TestMultipleDetectorsCanTripOnTheSameEvent(t *testing.T) {
	en := NewEngine(testEngineConfig())
	base := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)

	var last []*SuspiciousPattern
	for i := 0; i < 2; i++ {
		e := &event.Event{
			Timestamp: base.Add(time.Duration(i) * time.Second), Action: "data.read.patient",
			Status: event.StatusSuccess, PrincipalID: "user10", OrganizationID: "org1",
		}
		last = en.Observe(e)
	}

	var types []Type
	for _, p := range last {
		types = append(types, p.Type)
	}
	assert.Contains(t, types, TypeDataVelocity)
	assert.Contains(t, types, TypeOffHours)
}
