// Package scheduler holds the authoritative in-memory job cache and runs the
// dispatch loop: on every tick it selects due jobs (priority first, then
// scheduled time, then creation order), transitions them through the state
// machine, consults the safety gate, invokes the platform publisher and
// persists every transition through the configured storage backend.
//
// More than one Service may exist in a process at once: one long-lived
// instance drives the loop while short-lived instances created by stateless
// request handlers mutate the same logical job set. The active-instance
// registry (SetActive/Active/ClearActive) routes mutations and defines how
// the active instance absorbs changes made elsewhere without clobbering
// in-flight work.
package scheduler
