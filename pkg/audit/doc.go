// Package audit provides the append-only audit trail.
//
// Every Append creates a new Entry, links it to the previous entry through
// PrevHash and stamps a SHA-256 Hash over its fields, so any later edit of
// stored rows is detected by Verify. The deployment environment is a
// constructor argument: in production Update and Delete return an
// *IntegrityError and never reach storage. Elsewhere they are passed
// through for test cleanup.
//
//	log := audit.New(storage, environment.Production,
//	    audit.WithUserIDExtractor(userIDFromContext),
//	    audit.WithMetadataFilter(audit.NewMetadataFilter()),
//	    audit.WithLogger(slogger),
//	)
//
//	_, err := log.Append(ctx, "permission.check",
//	    audit.WithModule("authorization"),
//	    audit.WithSeverity(audit.SeverityWarning),
//	    audit.WithValue("permission", "view-laboratory"),
//	)
//
// Storage is pluggable. MemoryStorage ships in this package, the
// mongostore subpackage stores entries in MongoDB.
package audit
