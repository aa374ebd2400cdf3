package periods

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-books/meridian/internal/shared"
)

type memoryPeriods struct {
	statuses map[string]Status
	failWith error
}

func newMemoryPeriods() *memoryPeriods {
	return &memoryPeriods{statuses: make(map[string]Status)}
}

func (m *memoryPeriods) GetStatus(ctx context.Context, companyID int64, key string) (Status, error) {
	if m.failWith != nil {
		return "", m.failWith
	}
	status, ok := m.statuses[key]
	if !ok {
		return "", ErrPeriodNotFound
	}
	return status, nil
}

func (m *memoryPeriods) Upsert(ctx context.Context, companyID int64, key string, status Status, actorID int64) (Period, error) {
	m.statuses[key] = status
	return Period{CompanyID: companyID, Key: key, Status: status}, nil
}

func (m *memoryPeriods) List(ctx context.Context, companyID int64) ([]Period, error) {
	var out []Period
	for key, status := range m.statuses {
		out = append(out, Period{CompanyID: companyID, Key: key, Status: status})
	}
	return out, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

func TestEnsurePostableOpenPeriod(t *testing.T) {
	guard := NewGuard(newMemoryPeriods(), nil, 0)
	err := guard.EnsurePostable(context.Background(), 1, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), false, "", 7)
	require.NoError(t, err)
}

func TestEnsurePostableFailsOpenOnRepoError(t *testing.T) {
	repo := newMemoryPeriods()
	repo.failWith = errors.New("connection refused")
	guard := NewGuard(repo, nil, 0)

	err := guard.EnsurePostable(context.Background(), 1, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), false, "", 7)
	require.NoError(t, err)
}

func TestEnsurePostableRejectsLockedWithoutOverride(t *testing.T) {
	repo := newMemoryPeriods()
	repo.statuses["2026-02"] = StatusLocked
	guard := NewGuard(repo, nil, 0)

	err := guard.EnsurePostable(context.Background(), 1, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), false, "", 7)
	require.ErrorIs(t, err, ErrPeriodLocked)

	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	require.Equal(t, "2026-02", locked.Key)
	require.Equal(t, StatusLocked, locked.Status)
}

func TestEnsurePostableRejectsShortJustification(t *testing.T) {
	repo := newMemoryPeriods()
	repo.statuses["2026-02"] = StatusClosed
	audit := &recordingAudit{}
	guard := NewGuard(repo, audit, 0)

	err := guard.EnsurePostable(context.Background(), 1, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), true, "   fix   ", 7)
	require.ErrorIs(t, err, ErrJustificationTooShort)
	require.Empty(t, audit.logs)
}

func TestEnsurePostableOverrideWritesAuditFirst(t *testing.T) {
	repo := newMemoryPeriods()
	repo.statuses["2026-02"] = StatusClosed
	audit := &recordingAudit{}
	guard := NewGuard(repo, audit, 0)
	guard.WithNow(func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) })

	err := guard.EnsurePostable(context.Background(), 1, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), true, "late vendor bill for February close", 7)
	require.NoError(t, err)
	require.Len(t, audit.logs, 1)

	log := audit.logs[0]
	require.Equal(t, "period.override", log.Action)
	require.Equal(t, "2026-02", log.EntityID)
	require.Equal(t, "prior_period_override", log.Meta["adjustment_type"])
	require.Equal(t, "closed", log.Meta["period_status"])
}

func TestEnsurePostableOverrideFailsWhenAuditFails(t *testing.T) {
	repo := newMemoryPeriods()
	repo.statuses["2026-02"] = StatusLocked
	audit := &recordingAudit{err: errors.New("audit store down")}
	guard := NewGuard(repo, audit, 0)

	err := guard.EnsurePostable(context.Background(), 1, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), true, "late vendor bill for February close", 7)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPeriodLocked)
}

func TestSetStatusValidatesTransitions(t *testing.T) {
	repo := newMemoryPeriods()
	audit := &recordingAudit{}
	guard := NewGuard(repo, audit, 0)
	ctx := context.Background()

	_, err := guard.SetStatus(ctx, 1, "2026-01", StatusLocked, 7, false)
	require.NoError(t, err)

	_, err = guard.SetStatus(ctx, 1, "2026-01", StatusOpen, 7, false)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = guard.SetStatus(ctx, 1, "2026-01", StatusOpen, 7, true)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, repo.statuses["2026-01"])
	require.Len(t, audit.logs, 2)
}

func TestValidateTransitionTable(t *testing.T) {
	cases := []struct {
		current  Status
		target   Status
		override bool
		ok       bool
	}{
		{StatusOpen, StatusLocked, false, true},
		{StatusOpen, StatusClosed, false, true},
		{StatusClosed, StatusOpen, false, true},
		{StatusClosed, StatusLocked, false, true},
		{StatusLocked, StatusOpen, false, false},
		{StatusLocked, StatusOpen, true, true},
		{StatusLocked, StatusClosed, false, false},
		{StatusLocked, StatusClosed, true, true},
		{StatusLocked, StatusLocked, false, true},
	}
	for _, tc := range cases {
		err := ValidateTransition(tc.current, tc.target, tc.override)
		if tc.ok {
			require.NoError(t, err, "%s -> %s override=%v", tc.current, tc.target, tc.override)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s override=%v", tc.current, tc.target, tc.override)
		}
	}
}
