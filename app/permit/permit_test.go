package permit

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/permits/app/enums"
)

func TestNormalizePoint(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"   ", ""},
		{"Top", "top"},
		{"  Kiln Inlet\t", "kiln inlet"},
		{"CYCLONE 4", "cyclone 4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePoint(tt.in), "input %q", tt.in)
	}
}

func TestOpenRequest_Validate(t *testing.T) {
	valid := OpenRequest{RiskType: "confined", Department: "Kiln1", Point: "Top", StartedAtISO: "2024-01-01T00:00:00Z"}

	tests := []struct {
		name    string
		mod     func(r *OpenRequest)
		wantErr string
	}{
		{name: "valid", mod: func(*OpenRequest) {}},
		{name: "missing risk type", mod: func(r *OpenRequest) { r.RiskType = "" }, wantErr: "missing riskType"},
		{name: "missing department", mod: func(r *OpenRequest) { r.Department = "" }, wantErr: "missing department"},
		{name: "missing point", mod: func(r *OpenRequest) { r.Point = "" }, wantErr: "missing point"},
		{name: "missing start", mod: func(r *OpenRequest) { r.StartedAtISO = "" }, wantErr: "missing startedAtISO"},
		{name: "first missing wins", mod: func(r *OpenRequest) { r.Point, r.RiskType = "", "" }, wantErr: "missing riskType"},
		{name: "bad risk type", mod: func(r *OpenRequest) { r.RiskType = "electrical" }, wantErr: "invalid riskType"},
		{name: "bad department", mod: func(r *OpenRequest) { r.Department = "Kiln9" }, wantErr: "invalid department"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mod(&req)
			risk, dept, err := req.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.EqualError(t, err, tt.wantErr)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, enums.RiskTypeConfined, risk)
			assert.Equal(t, enums.DepartmentKiln1, dept)
		})
	}
}

func TestOpenRequest_JobTrims(t *testing.T) {
	req := OpenRequest{Point: "  Top  ", Control: " gas test ", Requester: "\tbob ", Details: " ", StartedAtISO: "x"}
	job := req.Job("42", enums.RiskTypeHeight, enums.DepartmentRM2)
	assert.Equal(t, Job{ID: "42", RiskType: enums.RiskTypeHeight, Department: enums.DepartmentRM2, Point: "Top",
		Control: "gas test", Requester: "bob", Details: "", StartedAtISO: "x"}, job)
}

func TestOpenRequest_Decode(t *testing.T) {
	var req OpenRequest
	err := json.Unmarshal([]byte(`{"id": 1700000000000, "riskType":"height", "overdueMinutes": null}`), &req)
	require.NoError(t, err)
	assert.Equal(t, FlexString("1700000000000"), req.ID)
	assert.False(t, req.HasOverdueMinutes())

	req = OpenRequest{}
	err = json.Unmarshal([]byte(`{"id": "abc", "overdueMinutes": "45"}`), &req)
	require.NoError(t, err)
	assert.Equal(t, FlexString("abc"), req.ID)
	assert.True(t, req.HasOverdueMinutes())

	req = OpenRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{}`), &req))
	assert.False(t, req.HasOverdueMinutes())

	err = json.Unmarshal([]byte(`{"id": {"nested": 1}}`), &req)
	require.Error(t, err)
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		raw     string
		want    FlexString
		wantErr bool
	}{
		{raw: `"abc"`, want: "abc"},
		{raw: `"0"`, want: "0"},
		{raw: `""`, want: ""},
		{raw: `123`, want: "123"},
		{raw: `1.5`, want: "1.5"},
		{raw: `0`, want: ""},
		{raw: `0.0`, want: ""},
		{raw: `-0`, want: ""},
		{raw: `null`, want: ""},
		{raw: `false`, want: ""},
		{raw: `true`, wantErr: true},
		{raw: `[1]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var req CloseRequest
			err := json.Unmarshal([]byte(`{"id":`+tt.raw+`}`), &req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.ID)
		})
	}
}

func TestJob_UnmarshalNumericID(t *testing.T) {
	var job Job
	err := json.Unmarshal([]byte(`{"id":1700000000000,"riskType":"height","department":"Crusher","point":"Belt"}`), &job)
	require.NoError(t, err)
	assert.Equal(t, "1700000000000", job.ID)
	assert.Equal(t, enums.RiskTypeHeight, job.RiskType)
	assert.Equal(t, enums.DepartmentCrusher, job.Department)
	assert.Equal(t, "Belt", job.Point)

	data, err := json.Marshal(job)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":"1700000000000"`)

	err = json.Unmarshal([]byte(`{"id":"x","department":"Kiln9"}`), &job)
	require.Error(t, err, "unknown department still fails")
}

func TestParseMinutes(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: `45`, want: 45},
		{raw: `-5`, want: -5},
		{raw: `50000`, want: 50000},
		{raw: `45.9`, want: 45},
		{raw: `-1.5`, want: -1},
		{raw: `"60"`, want: 60},
		{raw: `" 30 "`, want: 30},
		{raw: `1e40`, want: 2147483647},
		{raw: `99999999999999999999`, want: 2147483647},
		{raw: `"abc"`, wantErr: true},
		{raw: `"4.5"`, wantErr: true},
		{raw: `true`, want: 1},
		{raw: `false`, want: 0},
		{raw: `null`, wantErr: true},
		{raw: `[1]`, wantErr: true},
		{raw: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseMinutes(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClampMinutes(t *testing.T) {
	assert.Equal(t, 1, ClampMinutes(-5))
	assert.Equal(t, 1, ClampMinutes(0))
	assert.Equal(t, 1, ClampMinutes(1))
	assert.Equal(t, 120, ClampMinutes(120))
	assert.Equal(t, 9999, ClampMinutes(9999))
	assert.Equal(t, 9999, ClampMinutes(10000))
	assert.Equal(t, 9999, ClampMinutes(50000))
}

func TestDocument_FindConflict(t *testing.T) {
	doc := Document{Jobs: []Job{
		{ID: "1", RiskType: enums.RiskTypeConfined, Department: enums.DepartmentKiln1, Point: "Top"},
		{ID: "2", RiskType: enums.RiskTypeHeight, Department: enums.DepartmentRM1, Point: "Silo"},
	}}

	j, found := doc.FindConflict(enums.DepartmentKiln1, enums.RiskTypeConfined, "  tOP ")
	assert.True(t, found)
	assert.Equal(t, "1", j.ID)

	_, found = doc.FindConflict(enums.DepartmentKiln1, enums.RiskTypeHeight, "Top")
	assert.False(t, found, "different risk type")
	_, found = doc.FindConflict(enums.DepartmentKiln2, enums.RiskTypeConfined, "Top")
	assert.False(t, found, "different department")
	_, found = doc.FindConflict(enums.DepartmentKiln1, enums.RiskTypeConfined, "Bottom")
	assert.False(t, found, "different point")
}

func TestDocument_RemoveJobs(t *testing.T) {
	doc := Document{Jobs: []Job{{ID: "1"}, {ID: "2"}, {ID: "1"}, {ID: "3"}}}
	removed := doc.RemoveJobs("1")
	assert.Len(t, removed, 2)
	assert.Equal(t, []Job{{ID: "2"}, {ID: "3"}}, doc.Jobs)

	removed = doc.RemoveJobs("nope")
	assert.Empty(t, removed)
	assert.Len(t, doc.Jobs, 2)
}

func TestDocument_Clone(t *testing.T) {
	doc := Document{OverdueMinutes: 10, Jobs: []Job{{ID: "1"}}}
	c := doc.Clone()
	c.Jobs[0].ID = "changed"
	assert.Equal(t, "1", doc.Jobs[0].ID)
	assert.Equal(t, 10, c.OverdueMinutes)
}

func TestJob_IsOverdue(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		started string
		want    bool
	}{
		{"exactly at threshold", "2024-01-01T10:00:00Z", true},
		{"past threshold", "2024-01-01T09:00:00.000Z", true},
		{"before threshold", "2024-01-01T10:00:01Z", false},
		{"other zone", "2024-01-01T17:00:00+07:00", true},
		{"in the future", "2024-01-02T00:00:00Z", false},
		{"garbage", "yesterday", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Job{StartedAtISO: tt.started}.IsOverdue(now, 120))
		})
	}
}

func TestDocument_Summarize(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	doc := Document{UpdatedAt: now, OverdueMinutes: 60, Jobs: []Job{
		{ID: "1", RiskType: enums.RiskTypeConfined, Department: enums.DepartmentKiln1, StartedAtISO: "2024-01-01T10:00:00Z"},
		{ID: "2", RiskType: enums.RiskTypeHeight, Department: enums.DepartmentKiln1, StartedAtISO: "2024-01-01T11:59:00Z"},
		{ID: "3", RiskType: enums.RiskTypeHeight, Department: enums.DepartmentCrusher, StartedAtISO: "2024-01-01T11:00:00Z"},
	}}

	s := doc.Summarize(now)
	assert.Equal(t, 3, s.Open)
	assert.Equal(t, 2, s.Overdue)
	assert.Equal(t, 60, s.OverdueMinutes)
	require.Len(t, s.Departments, 7)
	assert.Equal(t, DepartmentSummary{Department: enums.DepartmentCrusher, Height: 1}, s.Departments[0])
	assert.Equal(t, DepartmentSummary{Department: enums.DepartmentKiln1, Confined: 1, Height: 1}, s.Departments[5])
	assert.Equal(t, DepartmentSummary{Department: enums.DepartmentKiln2}, s.Departments[6])
	assert.Len(t, doc.OverdueJobs(now), 2)
}

func TestErrors(t *testing.T) {
	err := fmt.Errorf("open failed: %w", &ConflictError{Msg: "duplicate"})
	assert.True(t, IsConflict(err))
	assert.False(t, IsValidation(err))
	assert.EqualError(t, err, "open failed: duplicate")

	err = Validationf("missing %s", "id")
	assert.True(t, IsValidation(err))
	assert.False(t, IsConflict(errors.New("other")))
}
