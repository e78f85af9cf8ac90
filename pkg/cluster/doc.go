/*
Package cluster forwards enrollment writes from worker nodes to the
master through the local cluster daemon. Calls are synchronous: one JSON
request line, one JSON response line. Workers hold no enrollment
authority; a forwarding failure is reported to the requesting agent with
no local state change.
*/
package cluster
