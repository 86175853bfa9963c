// Package metrics computes conversation-level service metrics: status
// counts, average first-response and resolution times, and how many
// conversations missed the first-response SLA.
package metrics
