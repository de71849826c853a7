// Package incident provides the business boundary for mend's failure triage
// and gated remediation. It defines the Service (verify, dedup, risk, decision
// gate, notify, remediate), the persisted incident State, and the tagged error
// kinds the HTTP surface maps onto status codes.
package incident
