/*
Package orchestrator wraps the Kubernetes API for the objects a session
owns: deployment, ClusterIP service, nginx ingress with TLS, persistent
volume claim, the pre-deletion backup job, and the KEDA custom objects
used by scale-to-zero profiles.

# Behavior

Creates are namespaced and blocking. Deletes are idempotent: a not-found
response from the API server is treated as success, so the teardown path
can be retried safely at any point. Reads return current replica counts
for the wake and routing decisions upstream.

Credentials are discovered in-cluster first, falling back to the local
kubeconfig; neither being available is fatal at startup only.
*/
package orchestrator
