package security

import (
	"fmt"
	"regexp"
	"strings"
)

// StringField extracts a string value from an event for condition matching
type StringField func(e *Event) string

// IntField extracts a numeric value from an event for threshold comparisons
type IntField func(e *Event) int

// Common field accessors
var (
	FieldIP        StringField = func(e *Event) string { return e.Source.IP }
	FieldUserAgent StringField = func(e *Event) string { return e.Source.UserAgent }
	FieldUserID    StringField = func(e *Event) string { return e.Source.UserID }
	FieldType      StringField = func(e *Event) string { return string(e.Type) }

	FieldRiskScore     IntField = func(e *Event) int { return e.Context.RiskScore }
	FieldPreviousCount IntField = func(e *Event) int { return e.Context.PreviousEventCount }
)

// FieldDetail accesses a named entry in the event details
func FieldDetail(name string) StringField {
	return func(e *Event) string { return e.Details[name] }
}

// Condition is a compiled predicate over an event. Conditions are built at
// rule-registration time; evaluation does no string parsing.
type Condition interface {
	Match(e *Event) bool
	Describe() string
}

type equalsCondition struct {
	name  string
	field StringField
	want  string
}

func (c equalsCondition) Match(e *Event) bool { return c.field(e) == c.want }
func (c equalsCondition) Describe() string    { return fmt.Sprintf("%s equals %q", c.name, c.want) }

// Equals matches when the field is exactly want
func Equals(name string, field StringField, want string) Condition {
	return equalsCondition{name: name, field: field, want: want}
}

type containsCondition struct {
	name   string
	field  StringField
	needle string
}

func (c containsCondition) Match(e *Event) bool {
	return strings.Contains(strings.ToLower(c.field(e)), c.needle)
}
func (c containsCondition) Describe() string { return fmt.Sprintf("%s contains %q", c.name, c.needle) }

// Contains matches when the field contains needle, case-insensitively
func Contains(name string, field StringField, needle string) Condition {
	return containsCondition{name: name, field: field, needle: strings.ToLower(needle)}
}

type regexCondition struct {
	name  string
	field StringField
	re    *regexp.Regexp
}

func (c regexCondition) Match(e *Event) bool { return c.re.MatchString(c.field(e)) }
func (c regexCondition) Describe() string    { return fmt.Sprintf("%s matches /%s/", c.name, c.re) }

// Matches compiles pattern once and matches the field against it
func Matches(name string, field StringField, pattern string) (Condition, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid rule condition pattern %q: %w", pattern, err)
	}
	return regexCondition{name: name, field: field, re: re}, nil
}

type greaterThanCondition struct {
	name      string
	field     IntField
	threshold int
}

func (c greaterThanCondition) Match(e *Event) bool { return c.field(e) > c.threshold }
func (c greaterThanCondition) Describe() string {
	return fmt.Sprintf("%s > %d", c.name, c.threshold)
}

// GreaterThan matches when the numeric field exceeds threshold
func GreaterThan(name string, field IntField, threshold int) Condition {
	return greaterThanCondition{name: name, field: field, threshold: threshold}
}

type lessThanCondition struct {
	name      string
	field     IntField
	threshold int
}

func (c lessThanCondition) Match(e *Event) bool { return c.field(e) < c.threshold }
func (c lessThanCondition) Describe() string {
	return fmt.Sprintf("%s < %d", c.name, c.threshold)
}

// LessThan matches when the numeric field is below threshold
func LessThan(name string, field IntField, threshold int) Condition {
	return lessThanCondition{name: name, field: field, threshold: threshold}
}

// matchAll evaluates a conjunction of conditions
func matchAll(conditions []Condition, e *Event) bool {
	for _, c := range conditions {
		if !c.Match(e) {
			return false
		}
	}
	return true
}
