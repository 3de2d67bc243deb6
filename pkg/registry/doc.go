// Package registry maintains the session directory in the store: the
// session hash, the audit and chat logs, and the TTL hygiene that lets
// abandoned sessions expire without a sweeper.
package registry
