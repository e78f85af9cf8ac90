/*
Package auth implements the enrollment protocol: parsing the inbound
request record, the enrollment password, and the validation policy that
decides whether a request mints a new identity, reuses an existing one,
or is rejected.

The wire request is a single text record:

	OSSEC A:'<name>' [G:'<group>'] [K:'<key_hash>'] [P:'<password>']

Validation runs inside the caller's keystore critical section, so the
uniqueness checks and the insert they guard are atomic. A K: token
carrying the sha256 of the agent's current key makes re-enrollment
idempotent: the existing identity is returned and nothing is journaled.
*/
package auth
