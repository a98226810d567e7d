// Package pool runs record conversions in a bounded set of worker OS
// processes with a hard per-task deadline.
//
// The dispatcher side (Start, Run, Close) re-executes a worker command W
// times and talks to each over newline-delimited JSON on stdin and stdout.
// One dispatcher goroutine owns every slot, the in-flight bookkeeping and the
// deadline timers. A task that outlives its deadline has its worker's whole
// process group killed and the slot is refilled with a fresh worker; a late
// reply from the killed generation is ignored, so every task yields exactly
// one Result.
//
// The worker side (Serve) reads the init message, builds a Handler once, and
// then handles tasks serially until stdin closes.
package pool
