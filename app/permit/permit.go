// Package permit defines the permit board domain: the persisted document, open jobs,
// request validation and the error taxonomy shared by the registry and the web layer.
package permit

import (
	"encoding/json"
	"time"

	"github.com/umputun/permits/app/enums"
)

const (
	// DefaultOverdueMinutes is the threshold used when the document has none
	DefaultOverdueMinutes = 120
	// MinOverdueMinutes is the lowest accepted threshold
	MinOverdueMinutes = 1
	// MaxOverdueMinutes is the highest accepted threshold
	MaxOverdueMinutes = 9999
)

// Document is the single persisted unit: configuration plus all open jobs, newest first
type Document struct {
	UpdatedAt      time.Time `json:"updatedAt"`
	OverdueMinutes int       `json:"overdueMinutes"`
	Jobs           []Job     `json:"jobs"`
}

// Job is one open permit
type Job struct {
	ID           string           `json:"id"`
	RiskType     enums.RiskType   `json:"riskType"`
	Department   enums.Department `json:"department"`
	Point        string           `json:"point"`
	Control      string           `json:"control"`
	Requester    string           `json:"requester"`
	Details      string           `json:"details"`
	StartedAtISO string           `json:"startedAtISO"`
}

// UnmarshalJSON decodes a job, the id may be stored as a string or as a number
func (j *Job) UnmarshalJSON(data []byte) error {
	type plain Job
	aux := struct {
		*plain
		ID FlexString `json:"id"`
	}{plain: (*plain)(j)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	j.ID = string(aux.ID)
	return nil
}

// NewDocument makes an empty document with the default threshold
func NewDocument(now time.Time) Document {
	return Document{UpdatedAt: now, OverdueMinutes: DefaultOverdueMinutes, Jobs: []Job{}}
}

// Clone returns a copy of the document which doesn't share the jobs slice
func (d Document) Clone() Document {
	res := d
	res.Jobs = make([]Job, len(d.Jobs))
	copy(res.Jobs, d.Jobs)
	return res
}

// FindConflict returns the open job with the same department, risk type and normalized point
func (d Document) FindConflict(dept enums.Department, risk enums.RiskType, point string) (Job, bool) {
	key := NormalizePoint(point)
	for _, j := range d.Jobs {
		if j.Department == dept && j.RiskType == risk && NormalizePoint(j.Point) == key {
			return j, true
		}
	}
	return Job{}, false
}

// RemoveJobs drops every job with the given id and returns the removed ones
func (d *Document) RemoveJobs(id string) (removed []Job) {
	kept := make([]Job, 0, len(d.Jobs))
	for _, j := range d.Jobs {
		if j.ID == id {
			removed = append(removed, j)
			continue
		}
		kept = append(kept, j)
	}
	d.Jobs = kept
	return removed
}

// StartedAt parses StartedAtISO. The value is caller supplied and may be anything.
func (j Job) StartedAt() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, j.StartedAtISO)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsOverdue reports whether the job has been open for at least threshold minutes at the given time.
// Jobs with unparseable start time are never overdue.
func (j Job) IsOverdue(now time.Time, thresholdMinutes int) bool {
	started, ok := j.StartedAt()
	if !ok {
		return false
	}
	return now.Sub(started) >= time.Duration(thresholdMinutes)*time.Minute
}

// OverdueJobs returns jobs open longer than the document threshold, in document order
func (d Document) OverdueJobs(now time.Time) []Job {
	res := []Job{}
	for _, j := range d.Jobs {
		if j.IsOverdue(now, d.OverdueMinutes) {
			res = append(res, j)
		}
	}
	return res
}
