package runs

import (
	"fmt"
	"time"
)

// RecordKind tells whether a stored run is a single test or a suite.
type RecordKind string

const (
	RecordKindTest  RecordKind = "TEST"
	RecordKindSuite RecordKind = "SUITE"
)

// Record is the persisted snapshot of a top-level run. Exactly one of Case
// or Suite is set, matching Kind.
type Record struct {
	ID        string        `json:"id"`
	Kind      RecordKind    `json:"kind"`
	TestID    string        `json:"test_id,omitempty"`
	SuiteID   string        `json:"suite_id,omitempty"`
	ParentID  string        `json:"parent_id,omitempty"`
	Status    Status        `json:"status"`
	Result    Result        `json:"result,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Case      *TestCaseRun  `json:"case,omitempty"`
	Suite     *TestSuiteRun `json:"suite,omitempty"`
}

// CaseRecord snapshots a test case run. The payload is deep-copied.
func CaseRecord(c TestCaseRun) Record {
	cp := c.Clone()
	base := cp.Base()
	return Record{
		ID:        base.ID,
		Kind:      RecordKindTest,
		TestID:    cp.TestID(),
		Status:    base.Status,
		Result:    base.Result,
		CreatedAt: base.CreatedAt,
		UpdatedAt: base.UpdatedAt,
		Case:      &cp,
	}
}

// SuiteRecord snapshots a suite run. The payload is deep-copied.
func SuiteRecord(s *TestSuiteRun) Record {
	cp := s.Clone()
	return Record{
		ID:        cp.ID,
		Kind:      RecordKindSuite,
		SuiteID:   cp.SuiteID,
		Status:    cp.Status,
		Result:    cp.Result,
		CreatedAt: cp.CreatedAt,
		UpdatedAt: cp.UpdatedAt,
		Suite:     cp,
	}
}

// Validate checks the discriminant against the payload.
func (r Record) Validate() error {
	switch r.Kind {
	case RecordKindTest:
		if r.Case == nil || r.Suite != nil {
			return fmt.Errorf("record %s: test record must carry exactly a case payload", r.ID)
		}
	case RecordKindSuite:
		if r.Suite == nil || r.Case != nil {
			return fmt.Errorf("record %s: suite record must carry exactly a suite payload", r.ID)
		}
	default:
		return fmt.Errorf("record %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := r
	if r.Case != nil {
		cc := r.Case.Clone()
		c.Case = &cc
	}
	c.Suite = r.Suite.Clone()
	return c
}
