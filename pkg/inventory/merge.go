package inventory

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/sqre-io/labcontroller/pkg/tag"
)

// builder accumulates node-image sightings into digest-keyed entries before
// the final tag-consolidation and cycle-filtering pass.
type builder struct {
	cfg    Config
	parser *tag.Parser
	logger log.Logger
	images map[string]*NodeImage
}

func newBuilder(cfg Config, parser *tag.Parser, logger log.Logger) *builder {
	return &builder{cfg: cfg, parser: parser, logger: logger, images: make(map[string]*NodeImage)}
}

// addSighting folds one (node, image names, size) observation into the
// builder. names may include at most one digest-form name; conflicting
// digest-form names within the same sighting are logged and the whole
// sighting is dropped (an "inventory inconsistency", not fatal to the run).
func (b *builder) addSighting(node string, names []string, size int64) {
	var digest string
	var tagNames []string
	for _, n := range names {
		ref := parseImageName(n)
		if ref.IsDigest {
			if digest != "" && digest != ref.Digest {
				level.Warn(b.logger).Log("msg", "inventory: conflicting digests in one sighting, dropping", "node", node, "names", fmt.Sprint(names))
				return
			}
			digest = ref.Digest
			continue
		}
		if ref.Tag == "" {
			continue
		}
		if !pathSelectorMatches(ref.Path, b.cfg.Selector()) {
			continue
		}
		tagNames = append(tagNames, ref.Tag)
	}
	if digest == "" {
		return // untagged/unidentifiable sighting, nothing to index by
	}

	var path string
	for _, n := range names {
		ref := parseImageName(n)
		if !ref.IsDigest && pathSelectorMatches(ref.Path, b.cfg.Selector()) {
			path = ref.Path
			break
		}
	}

	img, ok := b.images[digest]
	if !ok {
		// Ensure the entry exists before first use: an earlier revision of
		// this merge omitted this initialization for digests seen more
		// than once, corrupting the node set on the second and later
		// sightings.
		img = &NodeImage{
			Digest: digest,
			Path:   path,
			Tags:   make(map[string]tag.Tag),
			Nodes:  make(map[string]bool),
		}
		b.images[digest] = img
	} else if path != "" && img.Path != "" && img.Path != path {
		level.Warn(b.logger).Log("msg", "inventory: digest seen under two paths, discarding later sighting", "digest", digest, "kept", img.Path, "discarded", path)
		return
	} else if img.Path == "" {
		img.Path = path
	}

	if size > img.SizeBytes {
		img.SizeBytes = size
	}
	img.Nodes[node] = true
	for _, rawTag := range tagNames {
		img.Tags[rawTag] = b.parser.Parse(rawTag)
	}
}

// finish applies cycle filtering and tag consolidation and returns the
// completed image map.
func (b *builder) finish() map[string]*NodeImage {
	out := make(map[string]*NodeImage, len(b.images))
	for digest, img := range b.images {
		if b.cfg.Cycle != nil {
			filterTagsByCycle(img, *b.cfg.Cycle)
			if len(img.Tags) == 0 {
				continue
			}
		}
		consolidateTags(img, b.cfg.RecommendedTag)
		out[digest] = img
	}
	return out
}

// filterTagsByCycle keeps only tags carrying the exact configured cycle,
// dropping no-cycle tags too: an image whose tags all lack the configured
// cycle is not a candidate for this cycle at all.
func filterTagsByCycle(img *NodeImage, cycle int) {
	for raw, t := range img.Tags {
		if !t.HasCycle || t.Cycle != cycle {
			delete(img.Tags, raw)
		}
	}
}

// typePriority orders tag types for cross-type "best tag" comparison:
// release outranks release-candidate outranks weekly outranks daily
// outranks experimental outranks everything else.
func typePriority(t tag.Type) int {
	switch t {
	case tag.TypeRelease:
		return 6
	case tag.TypeReleaseCandidate:
		return 5
	case tag.TypeWeekly:
		return 4
	case tag.TypeDaily:
		return 3
	case tag.TypeExperimental:
		return 2
	default:
		return 1
	}
}

// consolidateTags picks the image's primary tag and display name: the
// recommended tag wins if present; otherwise the best non-alias tag, where
// "best" prefers a higher-priority type (release > weekly > daily >
// experimental) before falling back to semantic-version order within a
// type, and to raw-tag order as a last-resort tie-break.
func consolidateTags(img *NodeImage, recommendedTag string) {
	if recommendedTag != "" {
		if t, ok := img.Tags[recommendedTag]; ok {
			img.PrimaryTag = t.Raw
			img.DisplayName = t.DisplayName
			return
		}
	}
	var best *tag.Tag
	for raw, t := range img.Tags {
		if t.Type == tag.TypeAlias {
			continue
		}
		t := t
		_ = raw
		if best == nil {
			best = &t
			continue
		}
		if t.Type != best.Type {
			if p, bp := typePriority(t.Type), typePriority(best.Type); p != bp {
				if p > bp {
					best = &t
				}
				continue
			}
			// Same priority tier but an unlike type: fall back to raw tag.
			if t.Raw > best.Raw {
				best = &t
			}
			continue
		}
		if c, err := tag.Compare(t, *best); err == nil && c > 0 {
			best = &t
		}
	}
	if best != nil {
		img.PrimaryTag = best.Raw
		img.DisplayName = best.DisplayName
	}
}
