package report

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyFilter rejects a phase filter with no bounds set at all.
var ErrEmptyFilter = errors.New("phase filter has no bounds set")

// maxFailureSamples caps the per-MR error messages carried by a
// PartialFailureError.
const maxFailureSamples = 3

// PartialFailureError is returned when every MR in a batch run failed to
// fetch. It carries up to three sample per-MR error messages so the operator
// has something actionable.
type PartialFailureError struct {
	Total   int
	Samples []string
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("all %d merge requests failed to fetch: %s", e.Total, strings.Join(e.Samples, "; "))
}
