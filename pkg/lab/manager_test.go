package lab

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/sqre-io/labcontroller/pkg/events"
	"github.com/sqre-io/labcontroller/pkg/usermap"
)

func testConfig() Config {
	return Config{
		NamespacePrefix:     "nb",
		Sizes:               map[string]SizeDef{"small": {CPU: "1", Memory: "2Gi"}},
		MaxNamespaceRetries: 5,
		RequestTimeout:      5 * time.Second,
	}
}

func noSecrets(ctx context.Context) (map[string][]byte, error) { return nil, nil }

func TestCreateSucceeds(t *testing.T) {
	client := k8sfake.NewSimpleClientset()
	users := usermap.New()
	broker := events.New(10)
	m := New(client, testConfig(), users, broker, "controller", noSecrets, log.NewNopLogger())

	err := m.Create(context.Background(), usermap.User{Username: "alice", UID: 1000, GID: 1000}, usermap.LabSpec{Size: "small", Image: "registry/lab:r23_0_0"}, "tok")
	require.NoError(t, err)

	rec, err := users.Get("alice")
	require.NoError(t, err)
	require.Equal(t, usermap.StatusRunning, rec.Status)

	pod, err := client.CoreV1().Pods("nb-alice").Get(context.Background(), "lab", metav1.GetOptions{})
	require.NoError(t, err)
	require.Equal(t, "registry/lab:r23_0_0", pod.Spec.Containers[0].Image)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	client := k8sfake.NewSimpleClientset()
	users := usermap.New()
	broker := events.New(10)
	m := New(client, testConfig(), users, broker, "controller", noSecrets, log.NewNopLogger())

	user := usermap.User{Username: "alice"}
	require.NoError(t, m.Create(context.Background(), user, usermap.LabSpec{Size: "small"}, "tok"))
	err := m.Create(context.Background(), user, usermap.LabSpec{Size: "small"}, "tok")
	require.Error(t, err)
	require.IsType(t, usermap.ErrAlreadyExists{}, err)
}

func TestCreateUnknownSizeFailsRecordInPlace(t *testing.T) {
	client := k8sfake.NewSimpleClientset()
	users := usermap.New()
	broker := events.New(10)
	m := New(client, testConfig(), users, broker, "controller", noSecrets, log.NewNopLogger())

	err := m.Create(context.Background(), usermap.User{Username: "alice"}, usermap.LabSpec{Size: "does-not-exist"}, "tok")
	require.Error(t, err)

	rec, getErr := users.Get("alice")
	require.NoError(t, getErr)
	require.Equal(t, usermap.StatusFailed, rec.Status)
}

func TestNamespaceCollisionRetriesThenSucceeds(t *testing.T) {
	client := k8sfake.NewSimpleClientset()
	users := usermap.New()
	broker := events.New(10)
	cfg := testConfig()
	m := New(client, cfg, users, broker, "controller", noSecrets, log.NewNopLogger())

	failuresLeft := 3
	client.PrependReactor("create", "namespaces", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if failuresLeft > 0 {
			failuresLeft--
			return true, nil, apierrors.NewAlreadyExists(schema.GroupResource{Resource: "namespaces"}, "nb-alice")
		}
		return false, nil, nil
	})

	err := m.Create(context.Background(), usermap.User{Username: "alice"}, usermap.LabSpec{Size: "small"}, "tok")
	require.NoError(t, err)

	rec, err := users.Get("alice")
	require.NoError(t, err)
	require.Equal(t, usermap.StatusRunning, rec.Status)
}

func TestDeleteAbsentUserIsNotFound(t *testing.T) {
	client := k8sfake.NewSimpleClientset()
	users := usermap.New()
	broker := events.New(10)
	m := New(client, testConfig(), users, broker, "controller", noSecrets, log.NewNopLogger())

	err := m.Delete(context.Background(), "nobody")
	require.Error(t, err)
	require.IsType(t, NotFound{}, err)
}

func TestDeleteRemovesRecordOnSuccess(t *testing.T) {
	client := k8sfake.NewSimpleClientset()
	users := usermap.New()
	broker := events.New(10)
	m := New(client, testConfig(), users, broker, "controller", noSecrets, log.NewNopLogger())

	require.NoError(t, m.Create(context.Background(), usermap.User{Username: "alice"}, usermap.LabSpec{Size: "small"}, "tok"))
	require.NoError(t, m.Delete(context.Background(), "alice"))

	_, err := users.Get("alice")
	require.Error(t, err)
}
