/*
Package gateway is the HTTP surface of the control plane.

Every session endpoint goes through the same pipeline: API-key
authentication (X-API-Key or bearer token, constant-time compare),
per-IP per-endpoint rate limiting backed by store counters, body
validation, dispatch to the lifecycle engine, and a uniform mapping
from typed engine errors to status codes. Health and metrics endpoints
are unauthenticated and unlimited.
*/
package gateway
