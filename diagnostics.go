package slope

import (
	"cmp"
	"errors"
	"slices"
	"sync"
)

// Diagnostics collects the recoverable errors of a run. It is safe for
// concurrent use.
type Diagnostics struct {
	mutex sync.Mutex
	errs  []error
}

// A DiagnosticsSummary counts recoverable errors by kind.
type DiagnosticsSummary struct {
	DuplicateNodes       int `json:"duplicateNodes"`
	UnresolvedWays       int `json:"unresolvedWays"`
	DegenerateGeometries int `json:"degenerateGeometries"`
	Other                int `json:"other,omitempty"`
}

// Add adds errs to d. Nil errors are ignored.
func (d *Diagnostics) Add(errs ...error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	for _, err := range errs {
		if err != nil {
			d.errs = append(d.errs, err)
		}
	}
}

// Len returns the number of errors in d.
func (d *Diagnostics) Len() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.errs)
}

// Errors returns the errors in d, ordered by kind and then by id.
func (d *Diagnostics) Errors() []error {
	d.mutex.Lock()
	errs := slices.Clone(d.errs)
	d.mutex.Unlock()
	slices.SortStableFunc(errs, func(a, b error) int {
		aKind, aID := diagnosticKey(a)
		bKind, bID := diagnosticKey(b)
		return cmp.Or(cmp.Compare(aKind, bKind), cmp.Compare(aID, bID))
	})
	return errs
}

// Summary returns the number of errors of each kind in d.
func (d *Diagnostics) Summary() DiagnosticsSummary {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	var summary DiagnosticsSummary
	for _, err := range d.errs {
		switch kind, _ := diagnosticKey(err); kind {
		case diagnosticDuplicateNode:
			summary.DuplicateNodes++
		case diagnosticUnresolvedNode:
			summary.UnresolvedWays++
		case diagnosticDegenerateGeometry:
			summary.DegenerateGeometries++
		default:
			summary.Other++
		}
	}
	return summary
}

const (
	diagnosticDuplicateNode = iota
	diagnosticUnresolvedNode
	diagnosticDegenerateGeometry
	diagnosticOther
)

func diagnosticKey(err error) (int, int64) {
	var duplicateNodeIDErr *DuplicateNodeIDError
	var unresolvedNodeErr *UnresolvedNodeError
	var degenerateGeometryErr *DegenerateGeometryError
	switch {
	case errors.As(err, &duplicateNodeIDErr):
		return diagnosticDuplicateNode, int64(duplicateNodeIDErr.NodeID)
	case errors.As(err, &unresolvedNodeErr):
		return diagnosticUnresolvedNode, int64(unresolvedNodeErr.WayID)
	case errors.As(err, &degenerateGeometryErr):
		return diagnosticDegenerateGeometry, int64(degenerateGeometryErr.WayID)
	default:
		return diagnosticOther, 0
	}
}
