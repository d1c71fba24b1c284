// Package inventory assembles per-node image state from cluster queries:
// the set of container images present on each node, classified by the tag
// parser and merged by content digest.
package inventory

import "github.com/sqre-io/labcontroller/pkg/tag"

// NodeImage describes one container image by content digest, as observed
// across some subset of cluster nodes.
type NodeImage struct {
	Digest      string
	Path        string
	Tags        map[string]tag.Tag
	SizeBytes   int64
	Nodes       map[string]bool
	DisplayName string
	// PrimaryTag is the tag chosen to represent this image: the configured
	// recommended tag if present, else the best non-alias tag.
	PrimaryTag string
}

// Prepulled reports whether the image is present on every currently
// eligible node. With no eligible nodes it reports false.
func (img *NodeImage) Prepulled(eligible map[string]bool) bool {
	if len(eligible) == 0 {
		return false
	}
	for n := range eligible {
		if !img.Nodes[n] {
			return false
		}
	}
	return true
}

// MissingNodes returns the eligible nodes on which the image is absent.
func (img *NodeImage) MissingNodes(eligible map[string]bool) []string {
	var missing []string
	for n := range eligible {
		if !img.Nodes[n] {
			missing = append(missing, n)
		}
	}
	return missing
}

// Node is a cluster worker node as seen by the inventory.
type Node struct {
	Name     string
	Eligible bool
	Cached   []string // digests cached on this node
}

// Snapshot is one consistent inventory observation: all images, keyed by
// digest, plus the node list it was computed over.
type Snapshot struct {
	Images map[string]*NodeImage
	Nodes  []Node
}

// EligibleNodeNames returns the set of names of nodes marked eligible.
func (s *Snapshot) EligibleNodeNames() map[string]bool {
	out := make(map[string]bool)
	for _, n := range s.Nodes {
		if n.Eligible {
			out[n.Name] = true
		}
	}
	return out
}
