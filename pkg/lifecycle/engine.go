package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hyperbola/sessiond/pkg/config"
	"github.com/hyperbola/sessiond/pkg/log"
	"github.com/hyperbola/sessiond/pkg/metrics"
	"github.com/hyperbola/sessiond/pkg/naming"
	"github.com/hyperbola/sessiond/pkg/orchestrator"
	"github.com/hyperbola/sessiond/pkg/registry"
	"github.com/hyperbola/sessiond/pkg/store"
	"github.com/hyperbola/sessiond/pkg/types"
)

const (
	// podForwardTimeout bounds the synchronous chat hop to the pod.
	podForwardTimeout = 5 * time.Second
	// deleteGraceSeconds is the deployment shutdown grace on terminate.
	deleteGraceSeconds = 30
)

// Options configures the engine beyond its collaborators.
type Options struct {
	Image        string
	Port         int32
	Profile      config.Profile
	BackupImage  string
	BackupClaim  string
	RedisAddress string

	// Zero means the defaults: 500 ms wake window, 12 polls of 5 s.
	WakeDelay          time.Duration
	BackupPollInterval time.Duration
	BackupPollAttempts int
}

// Engine drives the session lifecycle: it owns the ordering of
// orchestrator and registry effects for every state transition, and the
// compensation that keeps partial failures from leaking objects.
type Engine struct {
	store  store.Store
	orch   *orchestrator.Client
	reg    *registry.Registry
	scheme naming.Scheme
	opts   Options
	logger zerolog.Logger

	pod *http.Client

	// Overridable in tests.
	wakeDelay          time.Duration
	backupPollInterval time.Duration
	backupPollAttempts int
	endpointFor        func(uuid string) string
}

// New builds an engine. The scheme must carry the profile's prefix.
func New(st store.Store, orch *orchestrator.Client, reg *registry.Registry, scheme naming.Scheme, opts Options) *Engine {
	e := &Engine{
		store:              st,
		orch:               orch,
		reg:                reg,
		scheme:             scheme,
		opts:               opts,
		logger:             log.WithComponent("lifecycle"),
		pod:                &http.Client{Timeout: podForwardTimeout},
		wakeDelay:          500 * time.Millisecond,
		backupPollInterval: 5 * time.Second,
		backupPollAttempts: 12,
	}
	if opts.WakeDelay > 0 {
		e.wakeDelay = opts.WakeDelay
	}
	if opts.BackupPollInterval > 0 {
		e.backupPollInterval = opts.BackupPollInterval
	}
	if opts.BackupPollAttempts > 0 {
		e.backupPollAttempts = opts.BackupPollAttempts
	}
	e.endpointFor = func(uuid string) string {
		return e.scheme.PodEndpoint(uuid, e.orch.Namespace())
	}
	return e
}

// newSessionID allocates the 8-character lowercase hex identifier used
// in every object and host name.
func newSessionID() string {
	return uuid.New().String()[:8]
}

// CreateResult is the response payload for a successful create.
type CreateResult struct {
	UUID         string              `json:"uuid"`
	UserID       string              `json:"user_id"`
	Status       types.SessionStatus `json:"status"`
	CreatedAt    string              `json:"created_at"`
	WorkspaceURL string              `json:"workspace_url"`
}

// Create provisions a full session environment: claim, deployment,
// service, ingress and, for autoscaler profiles, the scaler pair. On
// failure every object already created is deleted in reverse order and
// no session record is written.
func (e *Engine) Create(ctx context.Context, userID string) (*CreateResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, types.ValidationError("user_id is required")
	}

	u := newSessionID()
	labels := e.scheme.Labels(u, userID)
	logger := e.logger.With().Str("session_uuid", u).Str("user_id", userID).Logger()
	logger.Info().Msg("Creating session environment")

	var undo []func(context.Context)
	compensate := func() {
		// A detached context: the request may already be dead.
		cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i](cctx)
		}
	}

	if err := e.orch.CreateClaim(ctx, orchestrator.ClaimSpec{
		Name:   e.scheme.Claim(u),
		Labels: labels,
		Size:   e.opts.Profile.ClaimSize,
	}); err != nil {
		return nil, err
	}
	undo = append(undo, func(c context.Context) {
		if err := e.orch.DeleteClaim(c, e.scheme.Claim(u)); err != nil {
			logger.Warn().Err(err).Msg("Compensation: failed to delete claim")
		}
	})

	mounts := make([]orchestrator.Mount, 0, len(e.opts.Profile.Mounts))
	for _, m := range e.opts.Profile.Mounts {
		mounts = append(mounts, orchestrator.Mount{Path: m.Path, SubPath: m.SubPath})
	}
	if err := e.orch.CreateDeployment(ctx, orchestrator.WorkloadSpec{
		Name:        e.scheme.Deployment(u),
		Labels:      labels,
		SelectorApp: e.scheme.SelectorApp(u),
		Image:       e.opts.Image,
		Port:        e.opts.Port,
		Replicas:    e.opts.Profile.InitialReplicas,
		Env: []orchestrator.EnvVar{
			{Name: "SESSION_UUID", Value: u},
			{Name: "USER_ID", Value: userID},
		},
		Resources: resourcePair(e.opts.Profile.Resources),
		ClaimName: e.scheme.Claim(u),
		Mounts:    mounts,
	}); err != nil {
		compensate()
		return nil, err
	}
	undo = append(undo, func(c context.Context) {
		if err := e.orch.DeleteDeployment(c, e.scheme.Deployment(u), 0); err != nil {
			logger.Warn().Err(err).Msg("Compensation: failed to delete deployment")
		}
	})

	if err := e.orch.CreateService(ctx, orchestrator.ServiceSpec{
		Name:        e.scheme.Service(u),
		Labels:      labels,
		SelectorApp: e.scheme.SelectorApp(u),
		TargetPort:  e.opts.Port,
	}); err != nil {
		compensate()
		return nil, err
	}
	undo = append(undo, func(c context.Context) {
		if err := e.orch.DeleteService(c, e.scheme.Service(u)); err != nil {
			logger.Warn().Err(err).Msg("Compensation: failed to delete service")
		}
	})

	if err := e.orch.CreateIngress(ctx, orchestrator.IngressSpec{
		Name:        e.scheme.Ingress(u),
		Labels:      labels,
		Host:        e.scheme.Host(u),
		ServiceName: e.scheme.Service(u),
		TLSSecret:   e.scheme.TLSSecret(u),
	}); err != nil {
		compensate()
		return nil, err
	}
	undo = append(undo, func(c context.Context) {
		if err := e.orch.DeleteIngress(c, e.scheme.Ingress(u)); err != nil {
			logger.Warn().Err(err).Msg("Compensation: failed to delete ingress")
		}
	})

	if e.opts.Profile.UseAutoscaler {
		if err := e.orch.CreateTriggerAuthentication(ctx, e.scheme.TriggerAuth(u)); err != nil {
			compensate()
			return nil, err
		}
		undo = append(undo, func(c context.Context) {
			if err := e.orch.DeleteTriggerAuthentication(c, e.scheme.TriggerAuth(u)); err != nil {
				logger.Warn().Err(err).Msg("Compensation: failed to delete trigger authentication")
			}
		})

		if err := e.orch.CreateScaledObject(ctx, orchestrator.ScaledObjectSpec{
			Name:            e.scheme.ScaledObject(u),
			DeploymentName:  e.scheme.Deployment(u),
			QueueKey:        naming.QueueKey(u),
			RedisAddress:    e.opts.RedisAddress,
			TriggerAuthName: e.scheme.TriggerAuth(u),
		}); err != nil {
			compensate()
			return nil, err
		}
		undo = append(undo, func(c context.Context) {
			if err := e.orch.DeleteScaledObject(c, e.scheme.ScaledObject(u)); err != nil {
				logger.Warn().Err(err).Msg("Compensation: failed to delete scaled object")
			}
		})
	}

	session, err := e.reg.Create(ctx, u, userID)
	if err != nil {
		compensate()
		return nil, err
	}
	e.reg.RecordEvent(ctx, u, types.EventSessionCreated, map[string]any{"user_id": userID})
	metrics.SessionsCreated.Inc()

	logger.Info().Str("host", e.scheme.Host(u)).Msg("Session environment created")
	return &CreateResult{
		UUID:         u,
		UserID:       userID,
		Status:       session.Status,
		CreatedAt:    session.CreatedAt,
		WorkspaceURL: e.scheme.WorkspaceURL(u),
	}, nil
}

// Wake scales the session's deployment to one replica if it is at zero
// and marks the session running. Pod readiness is not awaited.
func (e *Engine) Wake(ctx context.Context, u string) error {
	session, err := e.reg.Require(ctx, u)
	if err != nil {
		return err
	}

	desired, _, err := e.orch.GetReplicas(ctx, e.scheme.Deployment(u))
	if err != nil {
		if orchestrator.IsNotFound(err) {
			return types.OrchestratorError("get deployment", err)
		}
		return err
	}
	if desired == 0 {
		if err := e.orch.SetReplicas(ctx, e.scheme.Deployment(u), 1); err != nil {
			return err
		}
		logger := log.WithSessionID(u)
		logger.Info().Msg("Scaled session up from zero")
	}

	if err := e.reg.Touch(ctx, u, types.StatusRunning); err != nil {
		return err
	}
	e.reg.RecordEvent(ctx, u, types.EventSessionWoken, map[string]any{"user_id": session.UserID})
	return nil
}

// Sleep drains the wake queue, scales the deployment to zero, and marks
// the session sleeping.
func (e *Engine) Sleep(ctx context.Context, u string) error {
	session, err := e.reg.Require(ctx, u)
	if err != nil {
		return err
	}

	if err := e.store.Delete(ctx, naming.QueueKey(u)); err != nil {
		return err
	}
	if err := e.orch.SetReplicas(ctx, e.scheme.Deployment(u), 0); err != nil {
		return err
	}
	if err := e.reg.Touch(ctx, u, types.StatusSleeping); err != nil {
		return err
	}
	e.reg.RecordEvent(ctx, u, types.EventSessionSleeping, map[string]any{"user_id": session.UserID})
	logger := log.WithSessionID(u)
	logger.Info().Msg("Session put to sleep")
	return nil
}

// Scale directions and their resource envelopes.
var scaleTargets = map[string]orchestrator.ResourcePair{
	"up":   {RequestMemory: "1Gi", RequestCPU: "1000m", LimitMemory: "2Gi", LimitCPU: "2000m"},
	"down": {RequestMemory: "512Mi", RequestCPU: "500m", LimitMemory: "1Gi", LimitCPU: "1000m"},
}

// Scale rewrites the session container's requests and limits. direction
// must be "up" or "down"; the orchestrator performs the rolling update.
func (e *Engine) Scale(ctx context.Context, u, direction string) error {
	if _, err := e.reg.Require(ctx, u); err != nil {
		return err
	}

	target, ok := scaleTargets[direction]
	if !ok {
		return types.ValidationError("scale must be \"up\" or \"down\", got %q", direction)
	}

	if err := e.orch.SetResources(ctx, e.scheme.Deployment(u), target); err != nil {
		return err
	}
	if err := e.reg.Touch(ctx, u, ""); err != nil {
		return err
	}

	event := types.EventScaledUp
	if direction == "down" {
		event = types.EventScaledDown
	}
	e.reg.RecordEvent(ctx, u, event, map[string]any{
		"request_memory": target.RequestMemory,
		"limit_memory":   target.LimitMemory,
	})
	return nil
}

// ChatResult reports how a chat message was disposed of.
type ChatResult struct {
	Processed   bool
	PodResponse json.RawMessage
}

// Chat queues a message, wakes the pod if needed, and attempts one
// synchronous forward. When the pod is not ready within the wake window
// the message stays queued and the caller is told to poll.
func (e *Engine) Chat(ctx context.Context, u, message string) (*ChatResult, error) {
	if strings.TrimSpace(message) == "" {
		return nil, types.ValidationError("message is required")
	}
	session, err := e.reg.Require(ctx, u)
	if err != nil {
		return nil, err
	}

	if err := e.store.ListPushFront(ctx, naming.QueueKey(u), "chat"); err != nil {
		return nil, err
	}

	desired, _, err := e.orch.GetReplicas(ctx, e.scheme.Deployment(u))
	if err == nil && desired == 0 {
		logger := log.WithSessionID(u)
		if err := e.orch.SetReplicas(ctx, e.scheme.Deployment(u), 1); err != nil {
			logger.Warn().Err(err).Msg("Wake-on-chat scale up failed")
		} else {
			logger.Info().Msg("Woke session for chat")
		}
	}

	if err := e.reg.RecordChat(ctx, u, message); err != nil {
		return nil, err
	}
	if err := e.reg.Touch(ctx, u, types.StatusRunning); err != nil {
		return nil, err
	}
	e.reg.RecordEvent(ctx, u, types.EventChatReceived, map[string]any{
		"user_id":        session.UserID,
		"message_length": len(message),
	})

	select {
	case <-time.After(e.wakeDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	_, ready, err := e.orch.GetReplicas(ctx, e.scheme.Deployment(u))
	if err != nil || ready < 1 {
		metrics.ChatMessages.WithLabelValues("queued").Inc()
		return &ChatResult{Processed: false}, nil
	}

	response, err := e.forwardChat(ctx, u, message)
	if err != nil {
		logger := log.WithSessionID(u)
		logger.Debug().Err(err).Msg("Chat forward failed, message stays queued")
		metrics.ChatMessages.WithLabelValues("queued").Inc()
		return &ChatResult{Processed: false}, nil
	}
	metrics.ChatMessages.WithLabelValues("processed").Inc()
	return &ChatResult{Processed: true, PodResponse: response}, nil
}

// forwardChat posts the message to the session pod's /chat endpoint.
func (e *Engine) forwardChat(ctx context.Context, u, message string) (json.RawMessage, error) {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, err
	}

	url := e.endpointFor(u) + "/chat"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.pod.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("pod returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if json.Valid(body) {
		return json.RawMessage(body), nil
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil, err
	}
	return json.RawMessage(quoted), nil
}

// Terminate archives the session's workspace on a best-effort basis,
// deletes every owned object, and removes the session from the store.
func (e *Engine) Terminate(ctx context.Context, u string) error {
	session, err := e.reg.Require(ctx, u)
	if err != nil {
		return err
	}
	logger := log.WithSessionID(u)
	logger.Info().Msg("Terminating session")

	e.runBackup(ctx, u)

	if err := e.orch.DeleteDeployment(ctx, e.scheme.Deployment(u), deleteGraceSeconds); err != nil {
		return err
	}
	if err := e.orch.DeleteService(ctx, e.scheme.Service(u)); err != nil {
		return err
	}
	if err := e.orch.DeleteIngress(ctx, e.scheme.Ingress(u)); err != nil {
		return err
	}
	if err := e.orch.DeleteClaim(ctx, e.scheme.Claim(u)); err != nil {
		return err
	}
	if e.opts.Profile.UseAutoscaler {
		if err := e.orch.DeleteScaledObject(ctx, e.scheme.ScaledObject(u)); err != nil {
			return err
		}
		if err := e.orch.DeleteTriggerAuthentication(ctx, e.scheme.TriggerAuth(u)); err != nil {
			return err
		}
	}

	if err := e.reg.Destroy(ctx, u); err != nil {
		return err
	}
	e.reg.RecordEvent(ctx, u, types.EventSessionTerminated, map[string]any{"user_id": session.UserID})
	metrics.SessionsTerminated.Inc()

	logger.Info().Msg("Session terminated")
	return nil
}

// runBackup creates the archive job and waits a bounded interval for it
// to finish. No outcome here blocks or fails termination.
func (e *Engine) runBackup(ctx context.Context, u string) {
	logger := log.WithSessionID(u)
	archive := fmt.Sprintf("app-%s-%s.zip", u, time.Now().UTC().Format("20060102-150405"))

	if err := e.orch.CreateBackupJob(ctx, orchestrator.BackupJobSpec{
		Name:         e.scheme.BackupJob(u),
		Labels:       e.scheme.Labels(u, ""),
		Image:        e.opts.BackupImage,
		SessionClaim: e.scheme.Claim(u),
		BackupClaim:  e.opts.BackupClaim,
		ArchiveName:  archive,
	}); err != nil {
		logger.Warn().Err(err).Msg("Backup job creation failed, continuing with termination")
		metrics.BackupsTotal.WithLabelValues("error").Inc()
		return
	}

	for i := 0; i < e.backupPollAttempts; i++ {
		select {
		case <-time.After(e.backupPollInterval):
		case <-ctx.Done():
			logger.Warn().Msg("Backup wait cancelled, continuing with termination")
			metrics.BackupsTotal.WithLabelValues("timeout").Inc()
			return
		}

		state, err := e.orch.GetJobState(ctx, e.scheme.BackupJob(u))
		if err != nil {
			logger.Warn().Err(err).Msg("Backup job poll failed, continuing with termination")
			metrics.BackupsTotal.WithLabelValues("error").Inc()
			return
		}
		switch state {
		case orchestrator.JobSucceeded:
			logger.Info().Str("archive", archive).Msg("Backup completed")
			metrics.BackupsTotal.WithLabelValues("succeeded").Inc()
			return
		case orchestrator.JobFailed:
			logger.Warn().Msg("Backup job failed, continuing with termination")
			metrics.BackupsTotal.WithLabelValues("failed").Inc()
			return
		}
	}
	logger.Warn().Msg("Backup job still running after wait window, continuing with termination")
	metrics.BackupsTotal.WithLabelValues("timeout").Inc()
}

// StatusResult is the response payload for a status read.
type StatusResult struct {
	Session     *types.Session
	QueueLength int64
	Replicas    int32
}

// Status reports the session record alongside live queue depth and the
// deployment's desired replica count. A missing deployment reads as
// zero replicas rather than an error: the record is authoritative.
func (e *Engine) Status(ctx context.Context, u string) (*StatusResult, error) {
	session, err := e.reg.Require(ctx, u)
	if err != nil {
		return nil, err
	}

	queueLen, err := e.store.ListLength(ctx, naming.QueueKey(u))
	if err != nil {
		return nil, err
	}

	var replicas int32
	if desired, _, err := e.orch.GetReplicas(ctx, e.scheme.Deployment(u)); err == nil {
		replicas = desired
	} else if !orchestrator.IsNotFound(err) {
		return nil, err
	}

	return &StatusResult{
		Session:     session,
		QueueLength: queueLen,
		Replicas:    replicas,
	}, nil
}

func resourcePair(r config.Resources) orchestrator.ResourcePair {
	return orchestrator.ResourcePair{
		RequestMemory: r.RequestMemory,
		RequestCPU:    r.RequestCPU,
		LimitMemory:   r.LimitMemory,
		LimitCPU:      r.LimitCPU,
	}
}
