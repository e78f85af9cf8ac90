/*
Package agentdb maintains the relational sidecar of the keystore: a
database keyed by agent id holding the richer metadata the rest of the
platform reads.

The writer is the only producer. It replays the pending-change journals
after every keystore flush, so the database always trails the key file.
A journal record whose database call fails is logged and dropped, not
retried, so an entry can remain in the key file without a row here.

Two implementations back the Client interface. SocketClient speaks the
newline-terminated ASCII command protocol of an external database daemon
over a local stream socket. BoltClient embeds the database in-process
with bbolt for single-binary deployments.
*/
package agentdb
