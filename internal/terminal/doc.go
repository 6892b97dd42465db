// Package terminal provides per-conversation shell sessions with command
// execution, streaming output capture, and process lifecycle management.
//
// A session is one logical terminal tab: a working directory, an environment
// map, and an append-only command history. Commands are either built-ins
// (cd, pwd, clear, help) handled inline, or arbitrary shell text spawned as
// a child process in its own process group.
//
// Components:
//   - Store: concurrency-safe session map with an idle reaper owned by the
//     store lifecycle (started on construction, stopped on shutdown)
//   - Registry: in-memory map of live process handles, keyed by an internal
//     process id, carrying the OS pid and process group id
//   - Controller: graceful-then-forceful process group signal escalation
//     (SIGTERM, short grace, SIGKILL), with a direct-kill fallback
//   - Executor: built-in interception, shell spawning, chunked output
//     streaming into the command record and a per-command log file, timeout
//     enforcement, and explicit cancellation
//
// Command records move from running to exactly one of completed, failed,
// timeout, or terminated; terminal states are final. Output is captured as
// raw byte chunks from a merged stdout+stderr pipe. No PTY is allocated.
//
// Concurrency: the session map and the process registry are the only shared
// mutable structures, each behind its own mutex. Command execution blocks
// the calling goroutine for up to the configured timeout, so callers run
// each execution on its own goroutine (the HTTP layer gets this for free).
// Nothing serializes two commands submitted concurrently against the same
// session; they may run concurrently.
package terminal
