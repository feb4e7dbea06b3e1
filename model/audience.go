package model

import (
	"encoding/json"
	"fmt"
)

const (
	AudienceAll     = "all"
	AudienceSegment = "segment"
	AudienceAdHoc   = "adhoc"
)

// AudienceSelector is a tagged variant describing who a campaign targets.
// Exactly one of the optional fields is meaningful for a given Kind, so the
// orchestrator can switch exhaustively instead of probing optional fields.
type AudienceSelector struct {
	Kind      string                 `json:"kind"`
	SegmentID string                 `json:"segment_id,omitempty"`
	Criteria  map[string]interface{} `json:"criteria,omitempty"`
}

// AllContacts selects every subscribed contact of the tenant.
func AllContacts() AudienceSelector {
	return AudienceSelector{Kind: AudienceAll}
}

// Segment selects the members of a saved segment.
func Segment(segmentID string) AudienceSelector {
	return AudienceSelector{Kind: AudienceSegment, SegmentID: segmentID}
}

// AdHocFilter selects contacts matching ad hoc filter criteria.
func AdHocFilter(criteria map[string]interface{}) AudienceSelector {
	return AudienceSelector{Kind: AudienceAdHoc, Criteria: criteria}
}

// Validate checks that the selector carries the fields its kind requires.
func (a AudienceSelector) Validate() error {
	switch a.Kind {
	case AudienceAll:
		return nil
	case AudienceSegment:
		if a.SegmentID == "" {
			return fmt.Errorf("segment audience requires a segment_id")
		}
		return nil
	case AudienceAdHoc:
		if len(a.Criteria) == 0 {
			return fmt.Errorf("adhoc audience requires filter criteria")
		}
		return nil
	default:
		return fmt.Errorf("unknown audience kind %q", a.Kind)
	}
}

// MarshalJSONB serializes the selector for storage in a JSONB column.
func (a AudienceSelector) MarshalJSONB() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalJSONB restores a selector from its JSONB column form. An empty
// column means "all contacts" for campaigns created before audiences existed.
func (a *AudienceSelector) UnmarshalJSONB(data []byte) error {
	if len(data) == 0 {
		a.Kind = AudienceAll
		return nil
	}
	return json.Unmarshal(data, a)
}
