package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/auditrail/auditrail/internal/domain/event"
)

func baseEvent() *event.Event {
	return &event.Event{
		Timestamp:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Action:             "data.read",
		Status:             event.StatusSuccess,
		PrincipalID:        "u1",
		OrganizationID:     "o1",
		OutcomeDescription: "ok",
		DataClassification: event.ClassificationPHI,
	}
}

func TestCanonicalizeAbsentTargetResourceDiffersFromEmpty(t *testing.T) {
	absent := baseEvent()
	absent.TargetResourceType = nil
	absent.TargetResourceID = nil

	empty := baseEvent()
	emptyStr := ""
	empty.TargetResourceType = &emptyStr
	empty.TargetResourceID = &emptyStr

	assert.NotEqual(t, Canonicalize(absent), Canonicalize(empty))
	assert.NotEqual(t, Hash(Canonicalize(absent)), Hash(Canonicalize(empty)))
}

func TestCanonicalizeIsDeterministic(t *testing.T) {
	e := baseEvent()
	id := "p1"
	typ := "Patient"
	e.TargetResourceID = &id
	e.TargetResourceType = &typ

	first := Canonicalize(e)
	second := Canonicalize(e)

	assert.Equal(t, first, second)
}

func TestCanonicalizeOrdersFieldsLexicographically(t *testing.T) {
	e := baseEvent()

	canonical := Canonicalize(e)

	assert.Regexp(t, `^action:.*\|dataClassification:.*\|organizationId:.*\|outcomeDescription:.*\|principalId:.*\|status:.*\|targetResourceId:.*\|targetResourceType:.*\|timestamp:.*$`, canonical)
}

func TestCanonicalizeChangesWhenCriticalFieldChanges(t *testing.T) {
	e := baseEvent()
	before := Canonicalize(e)

	e.Action = "data.write"

	assert.NotEqual(t, before, Canonicalize(e))
}

func TestCanonicalizeUnaffectedByNonCriticalField(t *testing.T) {
	e := baseEvent()
	before := Canonicalize(e)

	e.CorrelationID = "some-correlation-id"
	e.Details = map[string]interface{}{"x": 1}

	assert.Equal(t, before, Canonicalize(e))
}
