// Package enums provides closed enumerations used by permits: risk types and plant departments.
//
// Each enum is a struct type with an unexported name and value, so only the declared
// constants can exist. Values marshal to and from their string names (JSON and text),
// which are the wire values used by the API and the persisted document.
//
// Usage:
//
//	rt, err := enums.ParseRiskType("confined")
//	if err != nil {
//	    // handle invalid input
//	}
//	fmt.Println(rt.String()) // "confined"
package enums

import (
	"fmt"
)

// RiskType is the kind of hazardous work a permit covers
type RiskType struct {
	name  string
	value int
}

// RiskType values
var (
	RiskTypeUnknown  = RiskType{name: "", value: 0}
	RiskTypeConfined = RiskType{name: "confined", value: 1}
	RiskTypeHeight   = RiskType{name: "height", value: 2}
)

// RiskTypeValues returns all known risk types in declaration order
func RiskTypeValues() []RiskType {
	return []RiskType{RiskTypeConfined, RiskTypeHeight}
}

// ParseRiskType converts a wire name to RiskType
func ParseRiskType(v string) (RiskType, error) {
	for _, rt := range RiskTypeValues() {
		if rt.name == v {
			return rt, nil
		}
	}
	return RiskTypeUnknown, fmt.Errorf("invalid risk type %q", v)
}

func (r RiskType) String() string { return r.name }

// Index returns the position of the risk type in RiskTypeValues, -1 for unknown
func (r RiskType) Index() int { return r.value - 1 }

// IsValid reports whether r is one of the declared risk types
func (r RiskType) IsValid() bool { return r.value > 0 }

// MarshalText implements encoding.TextMarshaler
func (r RiskType) MarshalText() ([]byte, error) {
	return []byte(r.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *RiskType) UnmarshalText(text []byte) error {
	v, err := ParseRiskType(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Label returns the human-readable label shown in notifications
func (r RiskType) Label() string {
	switch r {
	case RiskTypeConfined:
		return "confined space"
	case RiskTypeHeight:
		return "working at height"
	default:
		return "unknown"
	}
}

// Department is one of the fixed plant departments
type Department struct {
	name  string
	value int
}

// Department values, in the order used for summaries
var (
	DepartmentUnknown     = Department{name: "", value: 0}
	DepartmentCrusher     = Department{name: "Crusher", value: 1}
	DepartmentRM1         = Department{name: "RM1", value: 2}
	DepartmentRM2         = Department{name: "RM2", value: 3}
	DepartmentPetcokeMill = Department{name: "Petcoke Mill", value: 4}
	DepartmentPfister     = Department{name: "Pfister", value: 5}
	DepartmentKiln1       = Department{name: "Kiln1", value: 6}
	DepartmentKiln2       = Department{name: "Kiln2", value: 7}
)

// DepartmentValues returns all departments in display order
func DepartmentValues() []Department {
	return []Department{DepartmentCrusher, DepartmentRM1, DepartmentRM2, DepartmentPetcokeMill,
		DepartmentPfister, DepartmentKiln1, DepartmentKiln2}
}

// ParseDepartment converts a department name to Department. Names are case-sensitive.
func ParseDepartment(v string) (Department, error) {
	for _, d := range DepartmentValues() {
		if d.name == v {
			return d, nil
		}
	}
	return DepartmentUnknown, fmt.Errorf("invalid department %q", v)
}

func (d Department) String() string { return d.name }

// Index returns the position of the department in DepartmentValues, -1 for unknown
func (d Department) Index() int { return d.value - 1 }

// IsValid reports whether d is one of the declared departments
func (d Department) IsValid() bool { return d.value > 0 }

// MarshalText implements encoding.TextMarshaler
func (d Department) MarshalText() ([]byte, error) {
	return []byte(d.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Department) UnmarshalText(text []byte) error {
	v, err := ParseDepartment(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// EventKind is the type of a registry change recorded in history
type EventKind struct {
	name  string
	value int
}

// EventKind values
var (
	EventKindUnknown = EventKind{name: "", value: 0}
	EventKindOpened  = EventKind{name: "opened", value: 1}
	EventKindClosed  = EventKind{name: "closed", value: 2}
	EventKindConfig  = EventKind{name: "config", value: 3}
)

// ParseEventKind converts a name to EventKind
func ParseEventKind(v string) (EventKind, error) {
	for _, k := range []EventKind{EventKindOpened, EventKindClosed, EventKindConfig} {
		if k.name == v {
			return k, nil
		}
	}
	return EventKindUnknown, fmt.Errorf("invalid event kind %q", v)
}

func (k EventKind) String() string { return k.name }

// MarshalText implements encoding.TextMarshaler
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *EventKind) UnmarshalText(text []byte) error {
	v, err := ParseEventKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
