package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/permits/app/enums"
	"github.com/umputun/permits/app/permit"
)

type statusMock struct {
	mu  sync.Mutex
	doc permit.Document
}

func (s *statusMock) Status() permit.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

func (s *statusMock) set(doc permit.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
}

type notifierMock struct {
	mu   sync.Mutex
	fail bool
	ids  []string
}

func (n *notifierMock) NotifyOverdue(_ context.Context, job permit.Job, _ int, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, job.ID)
	if n.fail {
		return errors.New("send failed")
	}
	return nil
}

func (n *notifierMock) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	res := make([]string, len(n.ids))
	copy(res, n.ids)
	return res
}

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testDoc(jobs ...permit.Job) permit.Document {
	return permit.Document{UpdatedAt: testNow, OverdueMinutes: 60, Jobs: jobs}
}

func job(id string, startedAgo time.Duration) permit.Job {
	return permit.Job{ID: id, RiskType: enums.RiskTypeHeight, Department: enums.DepartmentRM1, Point: "P" + id,
		StartedAtISO: testNow.Add(-startedAgo).Format(time.RFC3339)}
}

func TestNew(t *testing.T) {
	_, err := New("@every 1m", &statusMock{}, nil)
	require.NoError(t, err)
	_, err = New("*/5 * * * *", &statusMock{}, nil)
	require.NoError(t, err)
	_, err = New("bad spec", &statusMock{}, nil)
	require.Error(t, err)
}

func TestWatcher_Check(t *testing.T) {
	st := &statusMock{}
	st.set(testDoc(job("1", 2*time.Hour), job("2", 10*time.Minute), job("3", time.Hour)))
	nt := &notifierMock{}
	w, err := New("@every 1m", st, nt)
	require.NoError(t, err)
	w.now = func() time.Time { return testNow }

	w.Check(t.Context())
	assert.Equal(t, []string{"1", "3"}, nt.sent(), "overdue at and past the threshold")
	assert.Len(t, w.Overdue(), 2)

	w.Check(t.Context())
	assert.Len(t, nt.sent(), 2, "no repeated alerts")

	// job 1 closed, then reopened with the same id
	st.set(testDoc(job("2", 10*time.Minute), job("3", time.Hour)))
	w.Check(t.Context())
	assert.Len(t, nt.sent(), 2)
	assert.Equal(t, 1, w.dedup.Len(), "closed job forgotten")

	st.set(testDoc(job("1", 3*time.Hour), job("2", 10*time.Minute), job("3", time.Hour)))
	w.Check(t.Context())
	assert.Equal(t, []string{"1", "3", "1"}, nt.sent(), "reopened job alerts again")
}

func TestWatcher_CheckRetriesFailed(t *testing.T) {
	st := &statusMock{}
	st.set(testDoc(job("1", 2*time.Hour)))
	nt := &notifierMock{fail: true}
	w, err := New("@every 1m", st, nt)
	require.NoError(t, err)
	w.now = func() time.Time { return testNow }

	w.Check(t.Context())
	w.Check(t.Context())
	assert.Equal(t, []string{"1", "1"}, nt.sent(), "failed alert retried on next check")
	assert.Equal(t, 0, w.dedup.Len())
}

func TestWatcher_CheckNoNotifier(t *testing.T) {
	st := &statusMock{}
	st.set(testDoc(job("1", 2*time.Hour)))
	w, err := New("@every 1m", st, nil)
	require.NoError(t, err)
	w.now = func() time.Time { return testNow }
	w.Check(t.Context())
	assert.Len(t, w.Overdue(), 1)
}

func TestWatcher_Run(t *testing.T) {
	st := &statusMock{}
	st.set(testDoc(job("1", 2*time.Hour)))
	nt := &notifierMock{}
	w, err := New("@every 1s", st, nt)
	require.NoError(t, err)
	w.now = func() time.Time { return testNow }

	ctx, cancel := context.WithTimeout(t.Context(), 1500*time.Millisecond)
	defer cancel()
	err = w.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"1"}, nt.sent())
}

func TestDeDup(t *testing.T) {
	d := NewDeDup()
	assert.True(t, d.Add("a"))
	assert.False(t, d.Add("a"))
	assert.True(t, d.Add("b"))
	d.Retain([]string{"b", "c"})
	assert.Equal(t, 1, d.Len())
	assert.True(t, d.Add("a"))
	d.Remove("a")
	d.Remove("a")
	assert.Equal(t, 1, d.Len())
}
