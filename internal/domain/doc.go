// Package domain defines the core business types for the workshop mailer.
//
// Types in this package are pure value objects with no database dependencies
// and no HTTP concerns. They are the shared language between handlers,
// services, and repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/BSON/DynamoDB tags are allowed (they're metadata, not behavior)
//   - Small pure helpers on the types are allowed
//   - Sentinel errors shared by every layer live in errors.go
package domain
