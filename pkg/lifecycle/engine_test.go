package lifecycle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/hyperbola/sessiond/pkg/config"
	"github.com/hyperbola/sessiond/pkg/log"
	"github.com/hyperbola/sessiond/pkg/naming"
	"github.com/hyperbola/sessiond/pkg/orchestrator"
	"github.com/hyperbola/sessiond/pkg/registry"
	"github.com/hyperbola/sessiond/pkg/store"
	"github.com/hyperbola/sessiond/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

var (
	scaledObjects = schema.GroupVersionResource{Group: "keda.sh", Version: "v1alpha1", Resource: "scaledobjects"}
	triggerAuths  = schema.GroupVersionResource{Group: "keda.sh", Version: "v1alpha1", Resource: "triggerauthentications"}
)

type testEnv struct {
	mem    *store.Memory
	kube   *fake.Clientset
	dyn    *dynamicfake.FakeDynamicClient
	eng    *Engine
	scheme naming.Scheme
}

// listNames returns the names of all objects of one dynamic resource.
func (env *testEnv) listNames(t *testing.T, gvr schema.GroupVersionResource) []string {
	t.Helper()
	list, err := env.dyn.Resource(gvr).Namespace("default").List(context.Background(), metav1.ListOptions{})
	require.NoError(t, err)
	names := make([]string, 0, len(list.Items))
	for _, item := range list.Items {
		names = append(names, item.GetName())
	}
	return names
}

func newTestEngine(t *testing.T, profileName string) *testEnv {
	t.Helper()

	profile, err := config.SelectProfile(config.BuiltinProfiles(), profileName)
	require.NoError(t, err)

	mem := store.NewMemory()
	kube := fake.NewSimpleClientset()
	dyn := dynamicfake.NewSimpleDynamicClientWithCustomListKinds(
		runtime.NewScheme(),
		map[schema.GroupVersionResource]string{
			scaledObjects: "ScaledObjectList",
			triggerAuths:  "TriggerAuthenticationList",
		},
	)
	orch := orchestrator.NewWithClients(kube, dyn, "default")
	reg := registry.New(mem, 24*time.Hour)
	scheme := naming.Scheme{Prefix: profile.Prefix, Domain: "preview.test"}

	eng := New(mem, orch, reg, scheme, Options{
		Image:        "registry.example/ai-environment:latest",
		Port:         8080,
		Profile:      *profile,
		BackupImage:  "alpine:3.20",
		BackupClaim:  "backup-storage",
		RedisAddress: "redis:6379",
	})
	eng.wakeDelay = 0
	eng.backupPollInterval = time.Millisecond
	eng.backupPollAttempts = 1

	return &testEnv{mem: mem, kube: kube, dyn: dyn, eng: eng, scheme: scheme}
}

// TestCreateProvisionsEverything tests the full provisioning path
func TestCreateProvisionsEverything(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice@example.com")
	require.NoError(t, err)
	u := result.UUID
	require.Len(t, u, 8)
	assert.Equal(t, types.StatusCreated, result.Status)
	assert.Equal(t, "https://client-"+u+".preview.test", result.WorkspaceURL)

	dep, err := env.kube.AppsV1().Deployments("default").Get(ctx, "client-"+u, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), *dep.Spec.Replicas)
	assert.Len(t, dep.Spec.Template.Spec.Containers[0].VolumeMounts, 5)

	_, err = env.kube.CoreV1().Services("default").Get(ctx, "client-"+u, metav1.GetOptions{})
	assert.NoError(t, err)
	_, err = env.kube.NetworkingV1().Ingresses("default").Get(ctx, "client-"+u, metav1.GetOptions{})
	assert.NoError(t, err)
	_, err = env.kube.CoreV1().PersistentVolumeClaims("default").Get(ctx, "pvc-"+u, metav1.GetOptions{})
	assert.NoError(t, err)

	fields, err := env.mem.HashGetAll(ctx, naming.SessionKey(u))
	require.NoError(t, err)
	assert.Equal(t, "created", fields["status"])
	assert.Equal(t, "alice@example.com", fields["user_id"])

	events, err := env.mem.ListLength(ctx, naming.EventsKey(u))
	require.NoError(t, err)
	assert.Equal(t, int64(1), events)
}

// TestCreateAutoscalerProfile tests that the scaler pair is created
func TestCreateAutoscalerProfile(t *testing.T) {
	env := newTestEngine(t, "user")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)
	u := result.UUID

	desired, _, err := env.eng.orch.GetReplicas(ctx, "user-"+u)
	require.NoError(t, err)
	assert.Equal(t, int32(1), desired)

	list := env.listNames(t, scaledObjects)
	require.Len(t, list, 1)
	assert.Equal(t, "user-"+u+"-scaler", list[0])

	auths := env.listNames(t, triggerAuths)
	require.Len(t, auths, 1)
	assert.Equal(t, "redis-auth-"+u, auths[0])
}

// TestCreateRequiresUserID tests input validation
func TestCreateRequiresUserID(t *testing.T) {
	env := newTestEngine(t, "client")

	_, err := env.eng.Create(context.Background(), "  ")
	require.Error(t, err)
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

// TestCreateCompensatesOnFailure tests that a mid-create failure leaves
// no objects and no record behind
func TestCreateCompensatesOnFailure(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	env.kube.PrependReactor("create", "ingresses", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("admission webhook denied")
	})

	_, err := env.eng.Create(ctx, "alice")
	require.Error(t, err)

	deps, err := env.kube.AppsV1().Deployments("default").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, deps.Items)

	svcs, err := env.kube.CoreV1().Services("default").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, svcs.Items)

	pvcs, err := env.kube.CoreV1().PersistentVolumeClaims("default").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pvcs.Items)

	keys, err := env.mem.ScanKeys(ctx, naming.SessionKeyPattern())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

// TestWakeScalesUpFromZero tests the wake transition
func TestWakeScalesUpFromZero(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)
	u := result.UUID
	require.NoError(t, env.eng.orch.SetReplicas(ctx, "client-"+u, 0))

	require.NoError(t, env.eng.Wake(ctx, u))

	desired, _, err := env.eng.orch.GetReplicas(ctx, "client-"+u)
	require.NoError(t, err)
	assert.Equal(t, int32(1), desired)

	fields, err := env.mem.HashGetAll(ctx, naming.SessionKey(u))
	require.NoError(t, err)
	assert.Equal(t, "running", fields["status"])
}

// TestWakeUnknownSession tests the not-found path
func TestWakeUnknownSession(t *testing.T) {
	env := newTestEngine(t, "client")

	err := env.eng.Wake(context.Background(), "missing1")
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

// TestSleepClearsQueue tests that sleep drains the wake queue and scales down
func TestSleepClearsQueue(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)
	u := result.UUID

	require.NoError(t, env.mem.ListPushFront(ctx, naming.QueueKey(u), "chat"))
	require.NoError(t, env.mem.ListPushFront(ctx, naming.QueueKey(u), "chat"))

	require.NoError(t, env.eng.Sleep(ctx, u))

	length, err := env.mem.ListLength(ctx, naming.QueueKey(u))
	require.NoError(t, err)
	assert.Equal(t, int64(0), length)

	desired, _, err := env.eng.orch.GetReplicas(ctx, "client-"+u)
	require.NoError(t, err)
	assert.Equal(t, int32(0), desired)

	fields, err := env.mem.HashGetAll(ctx, naming.SessionKey(u))
	require.NoError(t, err)
	assert.Equal(t, "sleeping", fields["status"])
}

// TestScale tests resource envelope changes and direction validation
func TestScale(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)
	u := result.UUID

	require.NoError(t, env.eng.Scale(ctx, u, "up"))
	dep, err := env.kube.AppsV1().Deployments("default").Get(ctx, "client-"+u, metav1.GetOptions{})
	require.NoError(t, err)
	res := dep.Spec.Template.Spec.Containers[0].Resources
	assert.Equal(t, "1Gi", res.Requests.Memory().String())
	assert.Equal(t, "2Gi", res.Limits.Memory().String())

	require.NoError(t, env.eng.Scale(ctx, u, "down"))
	dep, err = env.kube.AppsV1().Deployments("default").Get(ctx, "client-"+u, metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "512Mi", dep.Spec.Template.Spec.Containers[0].Resources.Requests.Memory().String())

	err = env.eng.Scale(ctx, u, "sideways")
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

// TestChatWakesSleepingSession tests wake-on-demand and the queued fallback
func TestChatWakesSleepingSession(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)
	u := result.UUID
	require.NoError(t, env.eng.Sleep(ctx, u))

	chat, err := env.eng.Chat(ctx, u, "hello in there")
	require.NoError(t, err)
	assert.False(t, chat.Processed)

	desired, _, err := env.eng.orch.GetReplicas(ctx, "client-"+u)
	require.NoError(t, err)
	assert.Equal(t, int32(1), desired)

	queueLen, err := env.mem.ListLength(ctx, naming.QueueKey(u))
	require.NoError(t, err)
	assert.Equal(t, int64(1), queueLen)

	chatLen, err := env.mem.ListLength(ctx, naming.ChatKey(u))
	require.NoError(t, err)
	assert.Equal(t, int64(1), chatLen)

	fields, err := env.mem.HashGetAll(ctx, naming.SessionKey(u))
	require.NoError(t, err)
	assert.Equal(t, "running", fields["status"])
}

// TestChatForwardsWhenReady tests the synchronous fast path
func TestChatForwardsWhenReady(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"reply":"done"}`))
	}))
	defer srv.Close()
	env.eng.endpointFor = func(string) string { return srv.URL }

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)
	u := result.UUID

	dep, err := env.kube.AppsV1().Deployments("default").Get(ctx, "client-"+u, metav1.GetOptions{})
	require.NoError(t, err)
	dep.Status.ReadyReplicas = 1
	_, err = env.kube.AppsV1().Deployments("default").UpdateStatus(ctx, dep, metav1.UpdateOptions{})
	require.NoError(t, err)

	chat, err := env.eng.Chat(ctx, u, "hello")
	require.NoError(t, err)
	assert.True(t, chat.Processed)
	assert.JSONEq(t, `{"reply":"done"}`, string(chat.PodResponse))
	assert.JSONEq(t, `{"message":"hello"}`, received)
}

// TestChatRequiresMessage tests input validation
func TestChatRequiresMessage(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)

	_, err = env.eng.Chat(ctx, result.UUID, "")
	assert.Equal(t, types.KindValidation, types.KindOf(err))
}

// TestTerminateRemovesEverything tests teardown and its idempotence
func TestTerminateRemovesEverything(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)
	u := result.UUID

	require.NoError(t, env.eng.Terminate(ctx, u))

	deps, err := env.kube.AppsV1().Deployments("default").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, deps.Items)
	pvcs, err := env.kube.CoreV1().PersistentVolumeClaims("default").List(ctx, metav1.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, pvcs.Items)

	fields, err := env.mem.HashGetAll(ctx, naming.SessionKey(u))
	require.NoError(t, err)
	assert.Empty(t, fields)

	// Second terminate sees no session at all.
	err = env.eng.Terminate(ctx, u)
	assert.Equal(t, types.KindSessionNotFound, types.KindOf(err))
}

// TestTerminateAutoscalerProfile tests that the scaler pair is removed
func TestTerminateAutoscalerProfile(t *testing.T) {
	env := newTestEngine(t, "user")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, env.eng.Terminate(ctx, result.UUID))

	assert.Empty(t, env.listNames(t, scaledObjects))
	assert.Empty(t, env.listNames(t, triggerAuths))
}

// TestStatus tests the status read
func TestStatus(t *testing.T) {
	env := newTestEngine(t, "client")
	ctx := context.Background()

	result, err := env.eng.Create(ctx, "alice")
	require.NoError(t, err)
	u := result.UUID
	require.NoError(t, env.mem.ListPushFront(ctx, naming.QueueKey(u), "chat"))

	status, err := env.eng.Status(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, u, status.Session.UUID)
	assert.Equal(t, int64(1), status.QueueLength)
	assert.Equal(t, int32(1), status.Replicas)
}
