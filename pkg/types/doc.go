/*
Package types defines the shared data model for sessiond.

It contains the session record and its lifecycle states, the audit event and
chat record shapes persisted per session, and the closed error taxonomy that
every component raises and the gateway maps to HTTP statuses.
*/
package types
