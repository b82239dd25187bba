/*
Package session implements the node-local view of shared session state.

The Cache keeps recently read sessions in memory for a bounded time, coalesces concurrent
loads of the same session, and drops entries when the shared store reports that another
node changed them.
*/
package session
