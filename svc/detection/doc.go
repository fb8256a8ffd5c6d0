// Package detection exposes the two operations callers of the detector use:
// CheckEntitlement reports what an identity may still do, and PerformCheck
// consumes one unit and runs the classifier.
//
// Content is validated before anything is consumed, so malformed input never
// costs a check. A denied consumption is an ordinary result, not an error.
// When classification fails after a unit was consumed, the unit is returned
// (unless refunds are disabled) and ErrClassificationFailed is reported.
package detection
