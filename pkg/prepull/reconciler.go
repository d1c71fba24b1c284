// Package prepull drives the background campaign that pulls missing
// container images onto eligible nodes so lab startup is bounded by
// container start, not image transfer.
package prepull

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/kubernetes"

	"github.com/sqre-io/labcontroller/pkg/inventory"
	"github.com/sqre-io/labcontroller/pkg/menu"
)

// Config configures the reconciler loop itself, layered on top of the
// inventory and menu configuration it drives.
type Config struct {
	Namespace        string
	PodNamePrefix    string
	PollInterval     time.Duration
	PullTimeout      time.Duration
	PodConcurrency   int
}

// Reconciler is the prepull background loop (component D). Its only shared
// mutable state is the set of images with an active pull campaign; entries
// are added before spawning pods and removed once the campaign closes.
type Reconciler struct {
	client  kubernetes.Interface
	inv     *inventory.Inventory
	menuCfg menu.Config
	cfg     Config
	logger  log.Logger

	mu     sync.Mutex
	active map[string]bool
}

// New builds a Reconciler.
func New(client kubernetes.Interface, inv *inventory.Inventory, menuCfg menu.Config, cfg Config, logger log.Logger) *Reconciler {
	if cfg.PodConcurrency < 1 {
		cfg.PodConcurrency = 4
	}
	return &Reconciler{
		client: client, inv: inv, menuCfg: menuCfg, cfg: cfg,
		logger: logger, active: make(map[string]bool),
	}
}

// Run executes the tick loop until ctx is cancelled, then waits for any
// in-flight per-image campaigns to close (bounded by the pull timeout)
// before returning.
func (r *Reconciler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r.tick(ctx, &wg)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// tick runs one reconciliation pass: snapshot, desired menu, missing-node
// diff, and dispatch of per-image pull campaigns. Transient errors are
// logged and swallowed; the next tick retries naturally.
func (r *Reconciler) tick(ctx context.Context, wg *sync.WaitGroup) {
	snap, err := r.inv.Snapshot(ctx)
	if err != nil {
		level.Warn(r.logger).Log("msg", "prepull: snapshot failed, will retry next tick", "err", err)
		return
	}

	eligible := snap.EligibleNodeNames()
	candidates := menu.SelectAll(snap, r.menuCfg)

	for _, e := range candidates {
		missing := e.Image.MissingNodes(eligible)
		if len(missing) == 0 {
			continue
		}
		digest := e.Image.Digest

		r.mu.Lock()
		if r.active[digest] {
			r.mu.Unlock()
			continue
		}
		r.active[digest] = true
		activeCampaigns.Set(float64(len(r.active)))
		r.mu.Unlock()

		wg.Add(1)
		go func(image, digest, tagName string, nodes []string) {
			defer wg.Done()
			defer func() {
				r.mu.Lock()
				delete(r.active, digest)
				activeCampaigns.Set(float64(len(r.active)))
				r.mu.Unlock()
			}()
			pullCtx, cancel := context.WithTimeout(context.Background(), r.cfg.PullTimeout)
			defer cancel()
			r.runCampaign(pullCtx, image, digest, tagName, nodes)
		}(primaryRef(e), digest, e.Tag, missing)
	}
}

// primaryRef resolves the image reference a pull pod runs for a candidate:
// the image's canonical path pinned to its digest ("path@digest"), or the
// bare digest when no path is known.
func primaryRef(e menu.Entry) string {
	if e.Image.Path == "" {
		return e.Image.Digest
	}
	return e.Image.Path + "@" + e.Image.Digest
}

// runCampaign is one image's IDLE -> PULLING -> IDLE transition: spawn one
// pull pod per missing node, bounded by cfg.PodConcurrency, and wait for
// them to finish or for the campaign's own timeout.
func (r *Reconciler) runCampaign(ctx context.Context, image, digest, tagName string, nodes []string) {
	level.Info(r.logger).Log("msg", "prepull: campaign starting", "tag", tagName, "digest", digest, "nodes", len(nodes))
	start := time.Now()

	errs := runBounded(ctx, nodes, r.cfg.PodConcurrency, func(ctx context.Context, node string) error {
		return r.pullOnNode(ctx, node, image, digest)
	})

	failures := 0
	for _, e := range errs {
		if e != nil {
			failures++
		}
	}
	outcome := "success"
	if failures > 0 {
		outcome = "failure"
	}
	campaignDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	campaignsTotal.WithLabelValues(outcome).Inc()
	if failures > 0 {
		level.Warn(r.logger).Log("msg", "prepull: campaign finished with failures", "tag", tagName, "digest", digest, "failures", failures)
	} else {
		level.Info(r.logger).Log("msg", "prepull: campaign finished", "tag", tagName, "digest", digest)
	}
}

func (r *Reconciler) pullOnNode(ctx context.Context, node, image, digest string) error {
	pod := podSpec(r.cfg.PodNamePrefix, r.cfg.Namespace, node, image, digest, r.cfg.PullTimeout)
	_, err := r.client.CoreV1().Pods(r.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return errors.Wrapf(err, "prepull: create pod on node %s", node)
	}
	return r.waitForPod(ctx, pod.Name)
}

// waitForPod polls for pod completion (success or failure); failed pulls
// are not retried here -- the image's presence is verified again on the
// inventory's next snapshot, so a failed pull is naturally retried next
// tick.
func (r *Reconciler) waitForPod(ctx context.Context, name string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pod, err := r.client.CoreV1().Pods(r.cfg.Namespace).Get(ctx, name, metav1.GetOptions{})
			if apierrors.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return errors.Wrapf(err, "prepull: get pod %s", name)
			}
			if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
				_ = r.client.CoreV1().Pods(r.cfg.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
				if pod.Status.Phase == corev1.PodFailed {
					return errors.Errorf("prepull: pod %s failed", name)
				}
				return nil
			}
		}
	}
}
