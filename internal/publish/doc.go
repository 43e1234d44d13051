// Package publish defines the contract between the scheduler and the
// platform-specific composers, plus the safety gate consulted before every
// dispatch. The composers themselves (browser automation) live outside this
// module; the scheduler only ever sees a Publisher and an Outcome.
package publish
