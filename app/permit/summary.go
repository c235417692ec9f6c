package permit

import (
	"time"

	"github.com/umputun/permits/app/enums"
)

// Summary is the board view: KPIs and open jobs per department and risk type
type Summary struct {
	Open           int                 `json:"open"`
	Overdue        int                 `json:"overdue"`
	OverdueMinutes int                 `json:"overdueMinutes"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	Departments    []DepartmentSummary `json:"departments"`
}

// DepartmentSummary counts open jobs of a single department
type DepartmentSummary struct {
	Department enums.Department `json:"department"`
	Confined   int              `json:"confined"`
	Height     int              `json:"height"`
}

// Summarize builds the summary of the document at the given time.
// Every department is listed, in the fixed department order, even without jobs.
func (d Document) Summarize(now time.Time) Summary {
	res := Summary{
		Open:           len(d.Jobs),
		OverdueMinutes: d.OverdueMinutes,
		UpdatedAt:      d.UpdatedAt,
		Departments:    make([]DepartmentSummary, 0, len(enums.DepartmentValues())),
	}
	for _, dept := range enums.DepartmentValues() {
		res.Departments = append(res.Departments, DepartmentSummary{Department: dept})
	}

	for _, j := range d.Jobs {
		if j.IsOverdue(now, d.OverdueMinutes) {
			res.Overdue++
		}
		idx := j.Department.Index()
		if idx < 0 || idx >= len(res.Departments) {
			continue
		}
		switch j.RiskType {
		case enums.RiskTypeConfined:
			res.Departments[idx].Confined++
		case enums.RiskTypeHeight:
			res.Departments[idx].Height++
		}
	}
	return res
}
