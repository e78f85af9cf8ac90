/*
Package server wires the enrollment pipeline together.

A Service owns all daemon state and spawns up to three long-lived
goroutines according to the node's role:

	accept ──► client queue ──► dispatch ──► keystore + journal
	                                             │ (cond signal)
	                                             ▼
	                                           writer ──► key file + agents db

Accept owns the listening socket and produces client descriptors onto a
bounded FIFO; a full queue closes the connection immediately. Dispatch is
the single consumer: TLS handshake, optional client-certificate host
verification, protocol parse, validation and keystore mutation — or, on
worker nodes, a synchronous forward to the master. The writer is the
single journal consumer; it snapshots the keystore under the mutex and
makes the key file durable before any database mutation.

Cancellation is cooperative. Every loop observes one atomic running
flag; accept and dispatch poll with one-second deadlines, and the writer
is woken once through the keystore condition variable on shutdown so it
drains the remaining journal entries before exiting.

Worker nodes skip the local keystore path entirely and run no writer:
cluster role is decided once at startup and never changes.
*/
package server
