package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hyperbola/sessiond/pkg/log"
	"github.com/hyperbola/sessiond/pkg/naming"
	"github.com/hyperbola/sessiond/pkg/store"
	"github.com/hyperbola/sessiond/pkg/types"
)

const (
	// maxEvents caps the audit log per session.
	maxEvents = 100
	// maxChatRecords caps the chat log per session.
	maxChatRecords = 1000
)

// Registry is the session directory: it owns the session record and the
// per-session lists in the store, and refreshes their TTLs on every
// mutation so abandoned sessions age out on their own.
type Registry struct {
	store store.Store
	ttl   time.Duration
}

// New builds a registry over the given store. ttl is applied to every
// session-scoped key on each write.
func New(s store.Store, ttl time.Duration) *Registry {
	return &Registry{store: s, ttl: ttl}
}

// Create writes a fresh session record in status created.
func (r *Registry) Create(ctx context.Context, uuid, userID string) (*types.Session, error) {
	now := types.NowUTC()
	session := &types.Session{
		UUID:         uuid,
		UserID:       userID,
		Status:       types.StatusCreated,
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := r.store.HashSet(ctx, naming.SessionKey(uuid), session.Fields()); err != nil {
		return nil, err
	}
	if err := r.refreshTTL(ctx, uuid); err != nil {
		return nil, err
	}
	return session, nil
}

// Require loads a session record or fails with a not-found error.
func (r *Registry) Require(ctx context.Context, uuid string) (*types.Session, error) {
	fields, err := r.store.HashGetAll(ctx, naming.SessionKey(uuid))
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, types.SessionNotFound(uuid)
	}
	return types.SessionFromFields(uuid, fields), nil
}

// Touch updates last_activity and, when status is non-empty, the session
// status. The record's TTL restarts from now.
func (r *Registry) Touch(ctx context.Context, uuid string, status types.SessionStatus) error {
	fields := map[string]string{"last_activity": types.NowUTC()}
	if status != "" {
		fields["status"] = string(status)
	}

	if err := r.store.HashSet(ctx, naming.SessionKey(uuid), fields); err != nil {
		return err
	}
	return r.refreshTTL(ctx, uuid)
}

// refreshTTL restarts the hygiene clock on the record and its wake
// queue. Expiring a queue that does not exist yet is a no-op in the
// store.
func (r *Registry) refreshTTL(ctx context.Context, uuid string) error {
	if err := r.store.Expire(ctx, naming.SessionKey(uuid), r.ttl); err != nil {
		return err
	}
	return r.store.Expire(ctx, naming.QueueKey(uuid), r.ttl)
}

// RecordEvent prepends an audit entry, trims the log to the newest
// entries, and refreshes its TTL. Audit failures are logged, never
// surfaced: no lifecycle operation fails because its trace could not be
// written.
func (r *Registry) RecordEvent(ctx context.Context, uuid string, eventType types.EventType, details map[string]any) {
	event := types.Event{
		Timestamp: types.NowUTC(),
		Type:      eventType,
		Details:   details,
	}
	logger := log.WithSessionID(uuid)
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error().Err(err).Str("event", string(eventType)).Msg("Failed to encode audit event")
		return
	}

	key := naming.EventsKey(uuid)
	if err := r.store.ListPushFront(ctx, key, string(payload)); err != nil {
		logger.Error().Err(err).Str("event", string(eventType)).Msg("Failed to record audit event")
		return
	}
	if err := r.store.ListTrim(ctx, key, 0, maxEvents-1); err != nil {
		logger.Error().Err(err).Msg("Failed to trim audit log")
	}
	if err := r.store.Expire(ctx, key, r.ttl); err != nil {
		logger.Error().Err(err).Msg("Failed to refresh audit log TTL")
	}
}

// RecordChat prepends a chat entry and trims the log to the newest
// entries.
func (r *Registry) RecordChat(ctx context.Context, uuid, content string) error {
	record := types.ChatRecord{
		Timestamp: types.NowUTC(),
		Type:      types.ChatRecordTypeUserMessage,
		Content:   content,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	key := naming.ChatKey(uuid)
	if err := r.store.ListPushFront(ctx, key, string(payload)); err != nil {
		return err
	}
	if err := r.store.ListTrim(ctx, key, 0, maxChatRecords-1); err != nil {
		return err
	}
	return r.store.Expire(ctx, key, r.ttl)
}

// Events returns the newest audit entries, most recent first.
func (r *Registry) Events(ctx context.Context, uuid string, limit int64) ([]types.Event, error) {
	raw, err := r.store.ListRange(ctx, naming.EventsKey(uuid), 0, limit-1)
	if err != nil {
		return nil, err
	}
	events := make([]types.Event, 0, len(raw))
	for _, item := range raw {
		var event types.Event
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Destroy removes every store key the session owns.
func (r *Registry) Destroy(ctx context.Context, uuid string) error {
	return r.store.Delete(ctx,
		naming.SessionKey(uuid),
		naming.QueueKey(uuid),
		naming.ChatKey(uuid),
		naming.EventsKey(uuid),
	)
}

// List loads every session record in the store. Records that vanish
// between the scan and the read are skipped.
func (r *Registry) List(ctx context.Context) ([]*types.Session, error) {
	keys, err := r.store.ScanKeys(ctx, naming.SessionKeyPattern())
	if err != nil {
		return nil, err
	}

	sessions := make([]*types.Session, 0, len(keys))
	for _, key := range keys {
		fields, err := r.store.HashGetAll(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		sessions = append(sessions, types.SessionFromFields(naming.UUIDFromSessionKey(key), fields))
	}
	return sessions, nil
}

// Counts summarizes the session population for the monitoring endpoints.
func (r *Registry) Counts(ctx context.Context) (total, active, sleeping int, err error) {
	sessions, err := r.List(ctx)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, s := range sessions {
		total++
		switch s.Status {
		case types.StatusRunning:
			active++
		case types.StatusSleeping:
			sleeping++
		}
	}
	return total, active, sleeping, nil
}
