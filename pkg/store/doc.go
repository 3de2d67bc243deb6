/*
Package store wraps the external key/value store behind the primitive set
the control plane needs: hashes for session records, capped lists for chat
and audit logs, counters for rate limiting, TTLs, and a keyspace scan.

Two backends implement the Store interface. Redis is the production one,
with a 5 second connect timeout and a background health ping every 30
seconds; every failure it surfaces is a types.KindStoreUnavailable error so
the gateway can answer 503 uniformly. Memory mirrors the same semantics in
process for tests, and exposes TTL inspection on top.
*/
package store
