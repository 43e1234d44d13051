// Package job defines the scheduled-post record, its status/priority/platform
// enums, and the legal status transitions. All mutation of a Job's status goes
// through the scheduler; this package only describes what a valid record and a
// valid transition look like.
package job
