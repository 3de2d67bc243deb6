/*
Package lifecycle implements the session state machine:

	created → running ⇄ sleeping → terminated

Create provisions the full per-session object set and compensates in
reverse order on any failure, so a failed create leaves nothing behind.
Terminate archives the workspace on a best-effort basis before deleting
every object idempotently; a second terminate of the same session is a
clean not-found. Chat is the routing fast path: queue, wake if needed,
wait briefly, forward once, otherwise report queued.
*/
package lifecycle
