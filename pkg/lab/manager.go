// Package lab is the Lab Lifecycle Manager (component F): staged,
// recoverable create and delete of a user's per-namespace notebook
// environment.
package lab

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"golang.org/x/sync/errgroup"

	"github.com/sqre-io/labcontroller/pkg/events"
	"github.com/sqre-io/labcontroller/pkg/usermap"
)

// Manager is the Lab Lifecycle Manager. For any given user, Create and
// Delete are mutually exclusive and serialized by the atomic record
// insertion/removal in the user map: a second create while a record exists
// always fails fast, before any cluster call is made.
type Manager struct {
	client kubernetes.Interface
	cfg    Config
	users  *usermap.Map
	broker *events.Broker
	logger log.Logger

	controllerNamespace string
	secretSource         func(ctx context.Context) (map[string][]byte, error)
}

// New builds a Manager. secretSource resolves the configured controller
// secret references into a flat key/value map; it is supplied as a
// function so tests can avoid standing up real source secrets.
func New(client kubernetes.Interface, cfg Config, users *usermap.Map, broker *events.Broker, controllerNamespace string, secretSource func(ctx context.Context) (map[string][]byte, error), logger log.Logger) *Manager {
	return &Manager{
		client: client, cfg: cfg, users: users, broker: broker,
		controllerNamespace: controllerNamespace, secretSource: secretSource, logger: logger,
	}
}

// Create runs the full staged create flow described in component F,
// emitting progress events throughout.
func (m *Manager) Create(ctx context.Context, user usermap.User, spec usermap.LabSpec, token string) error {
	corrID := uuid.NewString()
	logger := log.With(m.logger, "user", user.Username, "correlation_id", corrID)

	size, ok := m.cfg.Sizes[spec.Size]
	resources := usermap.Resources{}
	if ok {
		resources = usermap.Resources{CPULimit: size.CPU, MemoryLimit: size.Memory, CPURequest: size.CPU, MemoryRequest: size.Memory}
	}
	quota := m.namespaceQuota(spec, resources)

	if _, err := m.users.CreateIfAbsent(user, spec, resources); err != nil {
		createsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	m.broker.Reset(user.Username)
	m.emit(user.Username, events.CategoryInfo, "lab create started")

	if !ok {
		m.fail(logger, user.Username, "config_error", "unknown size label: "+spec.Size)
		return ConfigError{Reason: "unknown size label: " + spec.Size}
	}

	ns, err := m.createNamespaceWithRetry(ctx, logger, user.Username, 0)
	if err != nil {
		outcome := "failed"
		if _, ok := err.(NamespaceCollision); ok {
			outcome = "namespace_collision"
		}
		m.fail(logger, user.Username, outcome, err.Error())
		return err
	}
	m.emit(user.Username, events.CategoryProgress, "namespace ready")

	if err := m.createSupportingObjects(ctx, ns, user, spec, resources, quota, token); err != nil {
		m.fail(logger, user.Username, "failed", err.Error())
		return err
	}
	m.emit(user.Username, events.CategoryProgress, "supporting objects created")

	pod := buildPod(m.cfg, ns, user.Username, user, spec, resources)
	if _, err := m.client.CoreV1().Pods(ns).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		m.fail(logger, user.Username, "failed", err.Error())
		return errors.Wrap(err, "lab: create pod")
	}

	_ = m.users.Mutate(user.Username, func(r *usermap.Record) {
		r.Status = usermap.StatusRunning
		r.Pod = usermap.PodPresent
	})
	m.emit(user.Username, events.CategoryComplete, "lab running")
	createsTotal.WithLabelValues("success").Inc()
	level.Info(logger).Log("msg", "lab create complete")
	return nil
}

func (m *Manager) fail(logger log.Logger, username, outcome, reason string) {
	_ = m.users.Mutate(username, func(r *usermap.Record) { r.Status = usermap.StatusFailed })
	m.emit(username, events.CategoryError, reason)
	m.emit(username, events.CategoryFailed, reason)
	createsTotal.WithLabelValues(outcome).Inc()
	level.Error(logger).Log("msg", "lab create failed", "reason", reason)
}

func (m *Manager) emit(username string, cat events.Category, data string) {
	m.broker.Append(username, events.Event{Category: cat, Data: data})
}

// createNamespaceWithRetry creates the per-user namespace. On conflict it
// deletes the extant namespace and recurses with an incremented attempt
// counter, giving up with NamespaceCollision once the configured retry
// budget is exhausted.
func (m *Manager) createNamespaceWithRetry(ctx context.Context, logger log.Logger, username string, attempt int) (string, error) {
	ns := namespaceName(m.cfg.NamespacePrefix, username)
	_, err := m.client.CoreV1().Namespaces().Create(ctx, buildNamespace(m.cfg.NamespacePrefix, username), metav1.CreateOptions{})
	if err == nil {
		return ns, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return "", errors.Wrap(err, "lab: create namespace")
	}
	if attempt >= m.cfg.MaxNamespaceRetries {
		return "", NamespaceCollision{Username: username, Attempts: attempt}
	}
	level.Warn(logger).Log("msg", "lab: namespace collision, deleting and retrying", "attempt", attempt+1)
	if delErr := m.client.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{}); delErr != nil && !apierrors.IsNotFound(delErr) {
		return "", errors.Wrap(delErr, "lab: delete colliding namespace")
	}
	return m.createNamespaceWithRetry(ctx, logger, username, attempt+1)
}

// createSupportingObjects creates the secret, two config maps, network
// policy, and quota in parallel, bounded by the configured request
// timeout. Any one failure aborts the rest via errgroup's first-error
// cancellation.
func (m *Manager) createSupportingObjects(ctx context.Context, ns string, user usermap.User, spec usermap.LabSpec, res, quota usermap.Resources, token string) error {
	ctx, cancel := context.WithTimeout(ctx, m.requestTimeout())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sourced, err := m.secretSource(gctx)
		if err != nil {
			return errors.Wrap(err, "lab: resolve controller secrets")
		}
		secret := buildSecret(ns, user.Username, token, sourced)
		_, err = m.client.CoreV1().Secrets(ns).Create(gctx, secret, metav1.CreateOptions{})
		return errors.Wrap(err, "lab: create secret")
	})
	g.Go(func() error {
		_, err := m.client.CoreV1().ConfigMaps(ns).Create(gctx, buildNSSConfigMap(ns, user.Username, user), metav1.CreateOptions{})
		return errors.Wrap(err, "lab: create nss config map")
	})
	g.Go(func() error {
		_, err := m.client.CoreV1().ConfigMaps(ns).Create(gctx, buildEnvConfigMap(ns, user.Username, m.cfg.EnvBase, spec.Env), metav1.CreateOptions{})
		return errors.Wrap(err, "lab: create env config map")
	})
	g.Go(func() error {
		_, err := m.client.NetworkingV1().NetworkPolicies(ns).Create(gctx, buildNetworkPolicy(ns, user.Username, m.controllerNamespace), metav1.CreateOptions{})
		return errors.Wrap(err, "lab: create network policy")
	})
	g.Go(func() error {
		_, err := m.client.CoreV1().ResourceQuotas(ns).Create(gctx, buildResourceQuota(ns, user.Username, quota), metav1.CreateOptions{})
		return errors.Wrap(err, "lab: create resource quota")
	})

	return g.Wait()
}

func (m *Manager) requestTimeout() time.Duration {
	if m.cfg.RequestTimeout > 0 {
		return m.cfg.RequestTimeout
	}
	return 60 * time.Second
}

// namespaceQuota resolves the namespace-wide ResourceQuota: an explicit
// per-request override wins, else the configured cluster default, else
// the size's own pod resources (a namespace with a single lab pod needs
// at least that much room).
func (m *Manager) namespaceQuota(spec usermap.LabSpec, podResources usermap.Resources) usermap.Resources {
	if spec.NamespaceQuota != nil {
		return *spec.NamespaceQuota
	}
	if m.cfg.DefaultQuotaCPU != "" || m.cfg.DefaultQuotaMemory != "" {
		return usermap.Resources{CPULimit: m.cfg.DefaultQuotaCPU, MemoryLimit: m.cfg.DefaultQuotaMemory}
	}
	return podResources
}

// Delete runs the delete flow: mark terminating, delete the namespace
// (which cascades to all contained resources), then remove the record on
// success or mark failed and re-raise on failure.
func (m *Manager) Delete(ctx context.Context, username string) error {
	if err := m.users.Mutate(username, func(r *usermap.Record) { r.Status = usermap.StatusTerminating }); err != nil {
		return NotFound{Username: username}
	}
	m.broker.Close(username)
	m.broker.Reset(username)

	ns := namespaceName(m.cfg.NamespacePrefix, username)
	err := m.client.CoreV1().Namespaces().Delete(ctx, ns, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		_ = m.users.Mutate(username, func(r *usermap.Record) { r.Status = usermap.StatusFailed })
		wrapped := errors.Wrap(err, "lab: delete namespace")
		m.emit(username, events.CategoryFailed, wrapped.Error())
		deletesTotal.WithLabelValues("failed").Inc()
		return wrapped
	}

	m.emit(username, events.CategoryComplete, fmt.Sprintf("lab for %s deleted", username))
	if err := m.users.Remove(username); err != nil {
		deletesTotal.WithLabelValues("failed").Inc()
		return err
	}
	deletesTotal.WithLabelValues("success").Inc()
	return nil
}
