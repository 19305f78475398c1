// Package chat runs bounded chat collections against the Chzzk live chat socket.
//
// A Session dials the socket, forwards the captured join payload, requests the
// recent backlog and subscribes to the live broadcast, collecting message text
// until its Window expires. The window is the only termination authority:
// transport errors are logged, and the result is finalized exactly once.
//
// A Collector owns every in-flight session, keyed by request id. For each
// trigger it looks up the join payload, runs a session and hands the result to
// a Deliverer. Outcomes are published per request through Handle.Done.
package chat
