package model

import (
	"encoding/json"
	"fmt"
)

// FindingType classifies what kind of activity a finding reports.
type FindingType int

const (
	FindingTypeUnknown FindingType = iota
	FindingTypeExploit
	FindingTypeSuspicious
	FindingTypeDegraded
	FindingTypeInfo
)

var findingTypeNames = []string{"Unknown", "Exploit", "Suspicious", "Degraded", "Info"}

func (t FindingType) String() string {
	if t < 0 || int(t) >= len(findingTypeNames) {
		return findingTypeNames[0]
	}
	return findingTypeNames[t]
}

// MarshalJSON encodes the type by name.
func (t FindingType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a type name.
func (t *FindingType) UnmarshalJSON(data []byte) error {
	idx, err := enumIndex(data, findingTypeNames)
	if err != nil {
		return fmt.Errorf("finding type: %w", err)
	}
	*t = FindingType(idx)
	return nil
}

// FindingSeverity ranks how urgent a finding is.
type FindingSeverity int

const (
	SeverityUnknown FindingSeverity = iota
	SeverityInfo
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = []string{"Unknown", "Info", "Low", "Medium", "High", "Critical"}

func (s FindingSeverity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return severityNames[0]
	}
	return severityNames[s]
}

// MarshalJSON encodes the severity by name.
func (s FindingSeverity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *FindingSeverity) UnmarshalJSON(data []byte) error {
	idx, err := enumIndex(data, severityNames)
	if err != nil {
		return fmt.Errorf("finding severity: %w", err)
	}
	*s = FindingSeverity(idx)
	return nil
}

func enumIndex(data []byte, names []string) (int, error) {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return 0, err
	}
	for i, candidate := range names {
		if candidate == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown value %q", name)
}

// Finding is an alert emitted by a detection rule.
type Finding struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	AlertID     string            `json:"alertId"`
	Type        FindingType       `json:"type"`
	Severity    FindingSeverity   `json:"severity"`
	Metadata    map[string]string `json:"metadata"`
}
