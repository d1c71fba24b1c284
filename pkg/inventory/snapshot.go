package inventory

import (
	"context"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/sqre-io/labcontroller/pkg/tag"
)

// Inventory assembles Snapshots from cluster state.
type Inventory struct {
	client kubernetes.Interface
	cfg    Config
	parser *tag.Parser
	logger log.Logger
}

// New builds an Inventory against a cluster client.
func New(client kubernetes.Interface, cfg Config, logger log.Logger) *Inventory {
	return &Inventory{
		client: client,
		cfg:    cfg,
		parser: tag.NewParser(cfg.AliasTags),
		logger: logger,
	}
}

// Snapshot queries every node once and returns one internally-consistent
// view of cluster image state.
func (inv *Inventory) Snapshot(ctx context.Context) (*Snapshot, error) {
	nodeList, err := inv.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "inventory: list nodes")
	}

	b := newBuilder(inv.cfg, inv.parser, inv.logger)
	nodes := make([]Node, 0, len(nodeList.Items))
	for _, n := range nodeList.Items {
		elig := inv.eligible(n)
		nodes = append(nodes, Node{Name: n.Name, Eligible: elig})
		for _, img := range n.Status.Images {
			b.addSighting(n.Name, img.Names, img.SizeBytes)
		}
	}

	images := b.finish()

	for i, n := range nodes {
		var cached []string
		for digest, img := range images {
			if img.Nodes[n.Name] {
				cached = append(cached, digest)
			}
		}
		nodes[i].Cached = cached
	}

	return &Snapshot{Images: images, Nodes: nodes}, nil
}

// eligible derives node eligibility from configuration: disabled nodes and
// nodes carrying a configured ineligible taint are excluded.
func (inv *Inventory) eligible(n corev1.Node) bool {
	if inv.cfg.IneligibleNodes[n.Name] {
		return false
	}
	for _, t := range n.Spec.Taints {
		if !inv.cfg.IneligibleTaintKeys[t.Key] {
			continue
		}
		if t.Effect == corev1.TaintEffectNoSchedule || t.Effect == corev1.TaintEffectNoExecute {
			return false
		}
	}
	return true
}
