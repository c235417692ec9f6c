package permit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/umputun/permits/app/enums"
)

// FlexString is a JSON value accepted either as a string or as a number, e.g. job ids.
// Empty-like values (null, false, numeric zero) decode to the empty string.
type FlexString string

// UnmarshalJSON accepts strings, numbers, null and false
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("false")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number: %w", err)
	}
	if v, err := n.Float64(); err == nil && v == 0 {
		*f = ""
		return nil
	}
	*f = FlexString(n.String())
	return nil
}

// OpenRequest is the payload of POST /api/open
type OpenRequest struct {
	ID             FlexString      `json:"id"`
	RiskType       string          `json:"riskType"`
	Department     string          `json:"department"`
	Point          string          `json:"point"`
	Control        string          `json:"control"`
	Requester      string          `json:"requester"`
	Details        string          `json:"details"`
	StartedAtISO   string          `json:"startedAtISO"`
	OverdueMinutes json.RawMessage `json:"overdueMinutes,omitempty"`
}

// Validate checks required fields and enumerations, returning the parsed enums
func (r OpenRequest) Validate() (enums.RiskType, enums.Department, error) {
	required := []struct{ name, val string }{
		{"riskType", r.RiskType},
		{"department", r.Department},
		{"point", r.Point},
		{"startedAtISO", r.StartedAtISO},
	}
	for _, f := range required {
		if f.val == "" {
			return enums.RiskTypeUnknown, enums.DepartmentUnknown, Validationf("missing %s", f.name)
		}
	}

	risk, err := enums.ParseRiskType(r.RiskType)
	if err != nil {
		return enums.RiskTypeUnknown, enums.DepartmentUnknown, Validationf("invalid riskType")
	}
	dept, err := enums.ParseDepartment(r.Department)
	if err != nil {
		return enums.RiskTypeUnknown, enums.DepartmentUnknown, Validationf("invalid department")
	}
	return risk, dept, nil
}

// HasOverdueMinutes reports whether the request carries an inline threshold
func (r OpenRequest) HasOverdueMinutes() bool {
	v := bytes.TrimSpace(r.OverdueMinutes)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// Job builds the job for a validated request. Free-text fields are trimmed.
func (r OpenRequest) Job(id string, risk enums.RiskType, dept enums.Department) Job {
	return Job{
		ID:           id,
		RiskType:     risk,
		Department:   dept,
		Point:        strings.TrimSpace(r.Point),
		Control:      strings.TrimSpace(r.Control),
		Requester:    strings.TrimSpace(r.Requester),
		Details:      strings.TrimSpace(r.Details),
		StartedAtISO: r.StartedAtISO,
	}
}

// CloseRequest is the payload of POST /api/close
type CloseRequest struct {
	ID FlexString `json:"id"`
}

// ConfigRequest is the payload of POST /api/config
type ConfigRequest struct {
	OverdueMinutes json.RawMessage `json:"overdueMinutes"`
}

// NormalizePoint makes the comparison key of a work point: trimmed and lowercased
func NormalizePoint(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseMinutes coerces a raw JSON value to an integer number of minutes.
// Integers, numbers with a fraction (truncated toward zero), strings holding an integer
// and booleans (true is 1, false is 0) are accepted.
func ParseMinutes(raw json.RawMessage) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("can't decode minutes: %w", err)
	}

	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return clampInt64(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number %q: %w", val, err)
		}
		return clampInt64(int64(math.Max(math.Min(math.Trunc(f), math.MaxInt32), math.MinInt32))), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer %q: %w", val, err)
		}
		return clampInt64(n), nil
	default:
		return 0, fmt.Errorf("unsupported minutes value %s", string(raw))
	}
}

// ClampMinutes limits the threshold to [MinOverdueMinutes, MaxOverdueMinutes]
func ClampMinutes(n int) int {
	return max(MinOverdueMinutes, min(MaxOverdueMinutes, n))
}

// clampInt64 keeps huge values representable as int; the result still needs ClampMinutes
func clampInt64(n int64) int {
	return int(max(math.MinInt32, min(math.MaxInt32, n)))
}
