package matview

type (
	// RowCountStrategy controls whether and how operations measure row
	// counts around their DDL.
	RowCountStrategy string

	// CreateOptions are the caller options for the create operation.
	CreateOptions struct {
		// Force drops an existing view and recreates it. Without force,
		// create against an existing view is a skipped no-op.
		Force bool `json:"force,omitempty"`
	}

	// RefreshOptions are the caller options for all refresh operations.
	RefreshOptions struct {
		// RowCount selects the row counting strategy for the before/after
		// measurements.
		RowCount RowCountStrategy `json:"row_count_strategy,omitempty"`
	}

	// DropOptions are the caller options for the drop operation.
	DropOptions struct {
		// Cascade drops dependent objects too. The default RESTRICT drop
		// fails with a dependency error when dependents exist.
		Cascade bool `json:"cascade,omitempty"`

		// RowCount selects the strategy for the before count. The after
		// count of a drop is always unknown.
		RowCount RowCountStrategy `json:"row_count_strategy,omitempty"`
	}
)

const (
	// RowCountNone skips counting entirely. No counting query is ever
	// issued; counts report RowCountUnknown.
	RowCountNone RowCountStrategy = "none"

	// RowCountEstimated reads the catalog's tuple estimate. Cheap, may be
	// stale, and unknown until the view has been analyzed.
	RowCountEstimated RowCountStrategy = "estimated"

	// RowCountExact runs COUNT(*). Correct, can be slow on large views.
	RowCountExact RowCountStrategy = "exact"
)

// ValidRowCountStrategies returns all recognized row counting strategies.
func ValidRowCountStrategies() []RowCountStrategy {
	return []RowCountStrategy{RowCountNone, RowCountEstimated, RowCountExact}
}

// String returns the string representation of RowCountStrategy.
func (rc RowCountStrategy) String() string {
	return string(rc)
}

// IsValid checks if the RowCountStrategy is a recognized value.
func (rc RowCountStrategy) IsValid() bool {
	switch rc {
	case RowCountNone, RowCountEstimated, RowCountExact:
		return true
	default:
		return false
	}
}

// Normalize maps the empty string and any unrecognized value to
// RowCountNone. Operations always count through a normalized strategy so
// a typo in an option can never trigger an expensive COUNT(*).
func (rc RowCountStrategy) Normalize() RowCountStrategy {
	if !rc.IsValid() {
		return RowCountNone
	}

	return rc
}
