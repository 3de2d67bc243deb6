package naming

import (
	"fmt"
	"strings"
)

// Store key prefixes. The rate key is per caller, not per session.
const (
	sessionKeyPrefix = "session:"
	queueKeyPrefix   = "queue:"
	chatKeyPrefix    = "chat:"
	eventsKeyPrefix  = "events:"
	rateKeyPrefix    = "rate:"
)

// Scheme produces the canonical names of every object a session owns.
// It is pure: deletion computes the same names as creation without
// reading any orchestrator state.
type Scheme struct {
	Prefix string // object/host prefix, e.g. "user" or "client"
	Domain string // base domain for external hosts, e.g. "preview.hyperbola.in"
}

// Deployment returns the workload name for a session.
func (s Scheme) Deployment(uuid string) string {
	return s.Prefix + "-" + uuid
}

// Service returns the internal service name for a session.
func (s Scheme) Service(uuid string) string {
	return s.Prefix + "-" + uuid
}

// Ingress returns the ingress rule name for a session.
func (s Scheme) Ingress(uuid string) string {
	return s.Prefix + "-" + uuid
}

// Claim returns the persistent volume claim name for a session.
func (s Scheme) Claim(uuid string) string {
	return "pvc-" + uuid
}

// TLSSecret returns the certificate secret name for a session.
func (s Scheme) TLSSecret(uuid string) string {
	return "tls-" + uuid
}

// BackupJob returns the pre-deletion backup job name for a session.
func (s Scheme) BackupJob(uuid string) string {
	return "backup-" + uuid
}

// ScaledObject returns the autoscaler object name for a session.
func (s Scheme) ScaledObject(uuid string) string {
	return s.Deployment(uuid) + "-scaler"
}

// TriggerAuth returns the autoscaler trigger credential name for a session.
func (s Scheme) TriggerAuth(uuid string) string {
	return "redis-auth-" + uuid
}

// SelectorApp returns the pod selector label value for a session.
func (s Scheme) SelectorApp(uuid string) string {
	return s.Prefix + "-" + uuid
}

// Host returns the externally routable host for a session.
func (s Scheme) Host(uuid string) string {
	return fmt.Sprintf("%s-%s.%s", s.Prefix, uuid, s.Domain)
}

// WorkspaceURL returns the https URL serving the session's workspace.
func (s Scheme) WorkspaceURL(uuid string) string {
	return "https://" + s.Host(uuid)
}

// PodEndpoint returns the in-cluster URL of the session's pod service.
func (s Scheme) PodEndpoint(uuid, namespace string) string {
	return fmt.Sprintf("http://%s.%s.svc.cluster.local:80", s.Service(uuid), namespace)
}

// Labels returns the label set applied to every owned object.
func (s Scheme) Labels(uuid, userID string) map[string]string {
	return map[string]string{
		"session-uuid": uuid,
		"user-id":      SanitizeUserID(userID),
	}
}

// SanitizeUserID makes an opaque user identifier label-safe.
// Kubernetes labels reject "@", "/" and ":".
func SanitizeUserID(userID string) string {
	r := strings.NewReplacer("@", "-", "/", "-", ":", "-")
	return r.Replace(userID)
}

// SessionKey returns the hash key holding the session record.
func SessionKey(uuid string) string {
	return sessionKeyPrefix + uuid
}

// QueueKey returns the wake queue key for a session.
func QueueKey(uuid string) string {
	return queueKeyPrefix + uuid
}

// ChatKey returns the chat log key for a session.
func ChatKey(uuid string) string {
	return chatKeyPrefix + uuid
}

// EventsKey returns the audit log key for a session.
func EventsKey(uuid string) string {
	return eventsKeyPrefix + uuid
}

// RateKey returns the sliding-window counter key for one caller and endpoint.
func RateKey(ip, endpoint string) string {
	return rateKeyPrefix + ip + ":" + endpoint
}

// SessionKeyPattern matches every session record key in the store.
func SessionKeyPattern() string {
	return sessionKeyPrefix + "*"
}

// UUIDFromSessionKey extracts the session UUID from a session record key.
func UUIDFromSessionKey(key string) string {
	return strings.TrimPrefix(key, sessionKeyPrefix)
}
