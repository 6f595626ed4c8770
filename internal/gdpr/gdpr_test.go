package gdpr

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/store"
)

type fakeEvents struct {
	events map[uuid.UUID]*event.Event
}

func newFakeEvents(events ...*event.Event) *fakeEvents {
	f := &fakeEvents{events: make(map[uuid.UUID]*event.Event)}
	for _, e := range events {
		f.events[e.ID] = e
	}
	return f
}

func (f *fakeEvents) Insert(ctx context.Context, e *event.Event) error {
	f.events[e.ID] = e
	return nil
}

func (f *fakeEvents) GetByID(ctx context.Context, id uuid.UUID) (*event.Event, error) {
	e, ok := f.events[id]
	if !ok {
		return nil, aerrors.New(aerrors.KindNotFound, "store", "not found")
	}
	return e, nil
}

func (f *fakeEvents) Query(ctx context.Context, filter store.QueryFilter, page store.Pagination) (*store.Page, error) {
	var out []*event.Event
	for _, e := range f.events {
		out = append(out, e)
	}
	return &store.Page{Events: out, Total: len(out)}, nil
}

func (f *fakeEvents) VerifyIntegrity(ctx context.Context, filter store.QueryFilter) (*store.IntegrityVerificationReport, error) {
	return &store.IntegrityVerificationReport{}, nil
}

func (f *fakeEvents) UpdatePrincipalAndSession(ctx context.Context, id uuid.UUID, principalID, ip, userAgent string) error {
	e, ok := f.events[id]
	if !ok {
		return aerrors.New(aerrors.KindNotFound, "store", "not found")
	}
	e.PrincipalID = principalID
	e.SessionContext.IPAddress = ip
	e.SessionContext.UserAgent = userAgent
	return nil
}

func (f *fakeEvents) DeleteByID(ctx context.Context, id uuid.UUID) error {
	delete(f.events, id)
	return nil
}

type fakeMappings struct {
	byHash      map[string]PseudonymMapping
	byPseudonym map[string]PseudonymMapping
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{byHash: map[string]PseudonymMapping{}, byPseudonym: map[string]PseudonymMapping{}}
}

func (m *fakeMappings) FindByOriginalHash(ctx context.Context, originalHash string) (*PseudonymMapping, bool, error) {
	mm, ok := m.byHash[originalHash]
	if !ok {
		return nil, false, nil
	}
	return &mm, true, nil
}

func (m *fakeMappings) Insert(ctx context.Context, mapping PseudonymMapping, originalHash string) error {
	m.byHash[originalHash] = mapping
	m.byPseudonym[mapping.PseudonymID] = mapping
	return nil
}

func (m *fakeMappings) FindByPseudonymID(ctx context.Context, pseudonymID string) (*PseudonymMapping, bool, error) {
	mm, ok := m.byPseudonym[pseudonymID]
	if !ok {
		return nil, false, nil
	}
	return &mm, true, nil
}

type fakeEncryptor struct {
	store map[string]string
}

func newFakeEncryptor() *fakeEncryptor { return &fakeEncryptor{store: map[string]string{}} }

func (e *fakeEncryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	token := "enc:" + plaintext
	e.store[token] = plaintext
	return token, nil
}

func (e *fakeEncryptor) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	plaintext, ok := e.store[ciphertext]
	if !ok {
		return "", aerrors.New(aerrors.KindIntegrity, "crypto", "unknown ciphertext")
	}
	return plaintext, nil
}

type fakeAuditLogger struct {
	logged []*event.Event
}

func (f *fakeAuditLogger) LogEvent(ctx context.Context, e *event.Event) error {
	f.logged = append(f.logged, e)
	return nil
}

func newController() (*Controller, *fakeEvents, *fakeMappings, *fakeEncryptor, *fakeAuditLogger) {
	events := newFakeEvents()
	mappings := newFakeMappings()
	encryptor := newFakeEncryptor()
	logger := &fakeAuditLogger{}
	c := New(events, mappings, encryptor, logger, "pepper")
	return c, events, mappings, encryptor, logger
}

func TestPseudonymizeHashStrategyIsIdempotent(t *testing.T) {
	c, events, _, _, _ := newController()
	e := &event.Event{ID: uuid.New(), OrganizationID: "org-1", PrincipalID: "user-42"}
	events.events[e.ID] = e

	id1, err := c.Pseudonymize(context.Background(), e.ID, "org-1", "user-42", StrategyHash, "admin")
	require.NoError(t, err)

	id2, err := c.Pseudonymize(context.Background(), e.ID, "org-1", "user-42", StrategyHash, "admin")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestPseudonymizeTokenStrategyIsUnique(t *testing.T) {
	c, events, _, _, _ := newController()
	e := &event.Event{ID: uuid.New(), OrganizationID: "org-1", PrincipalID: "user-42"}
	events.events[e.ID] = e

	id1, err := c.Pseudonymize(context.Background(), e.ID, "org-1", "user-42", StrategyToken, "admin")
	require.NoError(t, err)
	id2, err := c.Pseudonymize(context.Background(), e.ID, "org-1", "user-42", StrategyToken, "admin")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}

func TestPseudonymizeUpdatesEventPrincipal(t *testing.T) {
	c, events, _, _, _ := newController()
	e := &event.Event{ID: uuid.New(), OrganizationID: "org-1", PrincipalID: "user-42"}
	events.events[e.ID] = e

	id, err := c.Pseudonymize(context.Background(), e.ID, "org-1", "user-42", StrategyHash, "admin")
	require.NoError(t, err)

	assert.Equal(t, id, events.events[e.ID].PrincipalID)
}

func TestGetOriginalIDRoundTrips(t *testing.T) {
	c, events, _, _, _ := newController()
	e := &event.Event{ID: uuid.New(), OrganizationID: "org-1", PrincipalID: "user-42"}
	events.events[e.ID] = e

	id, err := c.Pseudonymize(context.Background(), e.ID, "org-1", "user-42", StrategyEncryption, "admin")
	require.NoError(t, err)

	original, err := c.GetOriginalID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "user-42", original)
}

func TestGetOriginalIDNotFound(t *testing.T) {
	c, _, _, _, _ := newController()

	_, err := c.GetOriginalID(context.Background(), "pseudo-doesnotexist")

	require.Error(t, err)
	assert.Equal(t, aerrors.KindNotFound, aerrors.KindOf(err))
}

func TestDeleteWithAuditTrailPreservesComplianceCriticalRows(t *testing.T) {
	c, events, _, _, _ := newController()
	keep := &event.Event{ID: uuid.New(), OrganizationID: "org-1", PrincipalID: "user-42", Action: "auth.login.success", Timestamp: time.Now()}
	drop := &event.Event{ID: uuid.New(), OrganizationID: "org-1", PrincipalID: "user-42", Action: "profile.update", Timestamp: time.Now()}
	events.events[keep.ID] = keep
	events.events[drop.ID] = drop

	result, err := c.DeleteWithAuditTrail(context.Background(), "user-42", "org-1", "admin", true)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecordsDeleted)
	assert.Equal(t, 1, result.ComplianceRecordsPreserved)
	_, stillPresent := events.events[drop.ID]
	assert.False(t, stillPresent)
	_, kept := events.events[keep.ID]
	assert.True(t, kept)
}

func TestDeleteWithAuditTrailDeletesEverythingWhenNotPreserving(t *testing.T) {
	c, events, _, _, _ := newController()
	critical := &event.Event{ID: uuid.New(), OrganizationID: "org-1", PrincipalID: "user-42", Action: "auth.login.success"}
	events.events[critical.ID] = critical

	result, err := c.DeleteWithAuditTrail(context.Background(), "user-42", "org-1", "admin", false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RecordsDeleted)
	assert.Equal(t, 0, result.ComplianceRecordsPreserved)
}
