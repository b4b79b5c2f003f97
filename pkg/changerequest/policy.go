package changerequest

// DependencyPolicy decides what applying a request does when the user's
// resulting permission set misses a prerequisite.
type DependencyPolicy uint8

const (
	// RejectOnMissing rolls the application back and returns the findings.
	RejectOnMissing DependencyPolicy = iota
	// ReportMissing commits the changes and returns the findings alongside success.
	ReportMissing
)

func (p DependencyPolicy) String() string {
	switch p {
	case RejectOnMissing:
		return "reject"
	case ReportMissing:
		return "report"
	default:
		return "unknown"
	}
}

// ParseDependencyPolicy accepts "reject" and "report"; anything else is RejectOnMissing.
func ParseDependencyPolicy(s string) DependencyPolicy {
	if s == "report" {
		return ReportMissing
	}
	return RejectOnMissing
}
