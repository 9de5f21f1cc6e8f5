package incident

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockEscalator struct {
	mu                     sync.Mutex
	dispatched             []string
	notified               []string
	DispatchFunc           func(ctx context.Context, incident models.SecurityIncident) (*models.EmergencyResponse, error)
	NotifySecurityTeamFunc func(ctx context.Context, incident models.SecurityIncident) error
}

func (m *mockEscalator) Dispatch(ctx context.Context, incident models.SecurityIncident) (*models.EmergencyResponse, error) {
	m.mu.Lock()
	m.dispatched = append(m.dispatched, incident.ID)
	m.mu.Unlock()
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, incident)
	}
	return &models.EmergencyResponse{ID: "resp-" + incident.ID, IncidentID: incident.ID, Status: models.EmergencyStatusCompleted}, nil
}

func (m *mockEscalator) NotifySecurityTeam(ctx context.Context, incident models.SecurityIncident) error {
	m.mu.Lock()
	m.notified = append(m.notified, incident.ID)
	m.mu.Unlock()
	if m.NotifySecurityTeamFunc != nil {
		return m.NotifySecurityTeamFunc(ctx, incident)
	}
	return nil
}

func (m *mockEscalator) dispatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dispatched)
}

func newTestCoordinator(t *testing.T) (*Coordinator, *mockEscalator, *time.Time) {
	t.Helper()
	now := testNow
	esc := &mockEscalator{}
	c := NewCoordinator(Config{CorrelationThreshold: 3, CorrelationWindow: time.Hour}, esc, repositories.NewMemoryStore(), nil, discardLogger())
	c.SetClock(func() time.Time { return now })
	return c, esc, &now
}

func finding(t models.IncidentType, severity models.Severity, source string) models.Finding {
	return models.Finding{
		Type:           t,
		Severity:       severity,
		SourceDetector: "test",
		Source:         source,
		Timestamp:      testNow,
	}
}

func timelineActions(inc models.SecurityIncident) []string {
	actions := make([]string, len(inc.Timeline))
	for i, e := range inc.Timeline {
		actions[i] = e.Action
	}
	return actions
}

// ============================================================================
// CreateIncident Tests (7 tests)
// ============================================================================

func TestCoordinator_CreateIncident_AppliesMappedAction(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	var locked []string
	c.HandleAction(ActionLockAccount, func(ctx context.Context, inc models.SecurityIncident) error {
		locked = append(locked, inc.Source)
		return nil
	})

	inc, err := c.CreateIncident(context.Background(), finding(models.IncidentRepeatedFailedVerification, models.SeverityMedium, "alice"))
	require.NoError(t, err)

	assert.Equal(t, models.IncidentStatusOpen, inc.Status)
	assert.Equal(t, []string{"alice"}, locked)
	require.Len(t, inc.Timeline, 2)
	assert.Equal(t, models.TimelineIncidentCreated, inc.Timeline[0].Action)
	assert.Equal(t, ActionLockAccount, inc.Timeline[1].Action)
	assert.Equal(t, "applied", inc.Timeline[1].Details)
}

func TestCoordinator_ActionTable(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	tests := map[models.IncidentType]string{
		models.IncidentRepeatedFailedVerification: ActionLockAccount,
		models.IncidentPrivilegeEscalation:        ActionBlockAccess,
		models.IncidentLargeDataTransfer:          ActionEmergencyResponse,
		models.IncidentMaliciousContent:           ActionQuarantineContent,
		models.IncidentUnusualAccessPattern:       ActionEnhancedMonitoring,
		models.IncidentCoordinatedAttack:          ActionNotifyOnly,
	}
	for incidentType, want := range tests {
		assert.Equal(t, want, c.ActionFor(incidentType), string(incidentType))
	}
}

func TestCoordinator_CreateIncident_Validation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	_, err := c.CreateIncident(context.Background(), models.Finding{Severity: models.SeverityLow})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = c.CreateIncident(context.Background(), models.Finding{Type: models.IncidentMaliciousContent, Severity: "urgent"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestCoordinator_CreateIncident_HighSeverityDispatches(t *testing.T) {
	c, esc, _ := newTestCoordinator(t)

	inc, err := c.CreateIncident(context.Background(), finding(models.IncidentPrivilegeEscalation, models.SeverityHigh, "mallory"))
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, 1, esc.dispatchCount())
	got, err := c.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Contains(t, timelineActions(got), models.TimelineEmergency)
}

func TestCoordinator_CreateIncident_LowUnmappedNotifiesOnly(t *testing.T) {
	c, esc, _ := newTestCoordinator(t)

	inc, err := c.CreateIncident(context.Background(), finding(models.IncidentType("port_scan"), models.SeverityLow, "198.51.100.4"))
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, 0, esc.dispatchCount())
	assert.Equal(t, []string{inc.ID}, esc.notified)
	assert.Equal(t, ActionNotifyOnly, inc.Timeline[1].Action)
}

func TestCoordinator_CreateIncident_EmergencyActionSkippedBelowHigh(t *testing.T) {
	c, esc, _ := newTestCoordinator(t)

	inc, err := c.CreateIncident(context.Background(), finding(models.IncidentLargeDataTransfer, models.SeverityMedium, "alice"))
	require.NoError(t, err)
	c.Wait()

	assert.Equal(t, 0, esc.dispatchCount())
	assert.Contains(t, inc.Timeline[1].Details, "action skipped")

	// At high severity the same action escalates exactly once
	_, err = c.CreateIncident(context.Background(), finding(models.IncidentLargeDataTransfer, models.SeverityHigh, "alice"))
	require.NoError(t, err)
	c.Wait()
	assert.Equal(t, 1, esc.dispatchCount())
}

func TestCoordinator_CreateIncident_HandlerFailureRecorded(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.HandleAction(ActionQuarantineContent, func(ctx context.Context, inc models.SecurityIncident) error {
		return errors.New("object store unreachable")
	})

	inc, err := c.CreateIncident(context.Background(), finding(models.IncidentMaliciousContent, models.SeverityMedium, "upload-9"))
	require.NoError(t, err)
	assert.Equal(t, "failed: object store unreachable", inc.Timeline[1].Details)

	// Unregistered handlers are noted, not fatal
	inc, err = c.CreateIncident(context.Background(), finding(models.IncidentUnusualAccessPattern, models.SeverityMedium, "bob"))
	require.NoError(t, err)
	assert.Equal(t, "no handler registered", inc.Timeline[1].Details)
}

// ============================================================================
// ResolveIncident Tests (3 tests)
// ============================================================================

func TestCoordinator_ResolveIncident(t *testing.T) {
	c, _, now := newTestCoordinator(t)
	inc, err := c.CreateIncident(context.Background(), finding(models.IncidentMaliciousContent, models.SeverityLow, "upload-1"))
	require.NoError(t, err)

	*now = testNow.Add(10 * time.Minute)
	require.NoError(t, c.ResolveIncident(context.Background(), inc.ID, "false positive"))

	got, err := c.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.IncidentStatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, *now, *got.ResolvedAt)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, "false positive", *got.Resolution)
	assert.Equal(t, models.TimelineIncidentResolved, got.Timeline[len(got.Timeline)-1].Action)
}

func TestCoordinator_ResolveIncident_NotFound(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	err := c.ResolveIncident(context.Background(), "missing", "n/a")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCoordinator_ResolveIncident_NeverReopens(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	inc, err := c.CreateIncident(context.Background(), finding(models.IncidentMaliciousContent, models.SeverityLow, "upload-1"))
	require.NoError(t, err)

	require.NoError(t, c.ResolveIncident(context.Background(), inc.ID, "cleaned"))
	err = c.ResolveIncident(context.Background(), inc.ID, "again")
	assert.ErrorIs(t, err, models.ErrIncidentResolved)

	got, err := c.Get(context.Background(), inc.ID)
	require.NoError(t, err)
	assert.Equal(t, "cleaned", *got.Resolution)
}

// ============================================================================
// Correlation Tests (4 tests)
// ============================================================================

func TestCoordinator_Correlate_ThresholdOnce(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	var members []string
	for i := 0; i < 3; i++ {
		inc, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityMedium, "upload-svc"))
		require.NoError(t, err)
		members = append(members, inc.ID)
	}

	created := c.Correlate(ctx)
	require.Len(t, created, 1)
	parent := created[0]
	assert.Equal(t, models.IncidentCoordinatedAttack, parent.Type)
	assert.Equal(t, models.SeverityCritical, parent.Severity)
	assert.ElementsMatch(t, members, parent.CorrelatedIDs)

	for _, id := range members {
		got, err := c.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, parent.ID, got.CorrelatedInto)
	}

	// A fourth matching incident does not trigger another correlation
	_, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityMedium, "upload-svc"))
	require.NoError(t, err)
	assert.Empty(t, c.Correlate(ctx))
	assert.Equal(t, int64(1), c.Stats().Correlations)
	c.Wait()
}

func TestCoordinator_Correlate_GroupsBySource(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	for _, source := range []string{"a", "b", "c", "a", "b"} {
		_, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, source))
		require.NoError(t, err)
	}
	assert.Empty(t, c.Correlate(ctx))
}

func TestCoordinator_Correlate_IgnoresIncidentsOutsideWindow(t *testing.T) {
	c, _, now := newTestCoordinator(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, "x"))
		require.NoError(t, err)
	}
	*now = testNow.Add(90 * time.Minute)
	_, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, "x"))
	require.NoError(t, err)

	assert.Empty(t, c.Correlate(ctx))
}

func TestCoordinator_Correlate_NeverGroupsCoordinatedAttacks(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			_, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, "x"))
			require.NoError(t, err)
		}
		require.Len(t, c.Correlate(ctx), 1)
	}

	// Three coordinated_attack incidents from "x" exist now, none regrouped
	assert.Empty(t, c.Correlate(ctx))
	assert.Equal(t, 3, c.Stats().ByType[string(models.IncidentCoordinatedAttack)])
	c.Wait()
}

// ============================================================================
// Query and Retention Tests (4 tests)
// ============================================================================

func TestCoordinator_ListAndRecent(t *testing.T) {
	c, _, now := newTestCoordinator(t)
	ctx := context.Background()

	first, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, "a"))
	require.NoError(t, err)
	*now = testNow.Add(time.Minute)
	second, err := c.CreateIncident(ctx, finding(models.IncidentUnusualAccessPattern, models.SeverityMedium, "b"))
	require.NoError(t, err)
	require.NoError(t, c.ResolveIncident(ctx, first.ID, "done"))

	recent := c.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, second.ID, recent[0].ID)

	open := c.List(ListFilter{Status: models.IncidentStatusOpen})
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)

	low := c.List(ListFilter{Severity: models.SeverityLow})
	require.Len(t, low, 1)
	assert.Equal(t, first.ID, low[0].ID)
}

func TestCoordinator_AppendTimeline(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	inc, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, "a"))
	require.NoError(t, err)

	require.NoError(t, c.AppendTimeline(ctx, inc.ID, models.TimelineNotified, "paged on-call"))
	got, err := c.Get(ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TimelineNotified, got.Timeline[len(got.Timeline)-1].Action)

	assert.ErrorIs(t, c.AppendTimeline(ctx, "missing", "x", ""), models.ErrNotFound)
}

func TestCoordinator_EvictResolved(t *testing.T) {
	c, _, now := newTestCoordinator(t)
	ctx := context.Background()

	old, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, "a"))
	require.NoError(t, err)
	open, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, "b"))
	require.NoError(t, err)
	require.NoError(t, c.ResolveIncident(ctx, old.ID, "done"))

	*now = testNow.Add(8 * 24 * time.Hour)
	assert.Equal(t, 1, c.EvictResolved(ctx, now.Add(-7*24*time.Hour)))

	_, err = c.Get(ctx, old.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = c.Get(ctx, open.ID)
	assert.NoError(t, err)
}

func TestCoordinator_Stats(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	a, err := c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityLow, "a"))
	require.NoError(t, err)
	_, err = c.CreateIncident(ctx, finding(models.IncidentMaliciousContent, models.SeverityHigh, "b"))
	require.NoError(t, err)
	require.NoError(t, c.ResolveIncident(ctx, a.ID, "done"))
	c.Wait()

	stats := c.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.BySeverity["high"])
	assert.Equal(t, 0, stats.BySeverity["low"])
	assert.Equal(t, 2, stats.ByType["malicious_content"])
}
