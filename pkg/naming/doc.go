/*
Package naming maps a session UUID to the canonical names, labels and store
keys of everything the session owns. All functions are pure so that the
deletion path computes exactly the names the creation path used.
*/
package naming
