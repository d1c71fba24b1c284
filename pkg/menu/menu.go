// Package menu selects the bounded, ordered image menu offered to users at
// spawn time from an inventory snapshot.
package menu

import (
	"sort"

	"github.com/sqre-io/labcontroller/pkg/inventory"
	"github.com/sqre-io/labcontroller/pkg/tag"
)

// Config is the subset of prepuller configuration the selector needs.
type Config struct {
	RecommendedTag string
	NumReleases    int
	NumWeeklies    int
	NumDailies     int
}

// Entry is one ordered menu slot.
type Entry struct {
	Tag   string
	Image *inventory.NodeImage
}

// Menu is the ordered, capped selection: recommended first, then up to the
// configured count of releases, weeklies, and dailies in that priority
// order.
type Menu struct {
	Entries []Entry
}

// Select builds the menu and the full "all" map from a snapshot. The
// returned menu contains only prepulled images (present on every eligible
// node); All contains every known tag, prepulled or not, for the dropdown.
func Select(snap *inventory.Snapshot, cfg Config) (menu *Menu, all map[string]*inventory.NodeImage) {
	eligible := snap.EligibleNodeNames()
	candidates := selectCandidates(snap, cfg)

	all = make(map[string]*inventory.NodeImage)
	for _, img := range snap.Images {
		for raw := range img.Tags {
			all[raw] = img
		}
	}

	var visible []Entry
	for _, e := range candidates {
		if e.Image.Prepulled(eligible) {
			visible = append(visible, e)
		}
	}
	return &Menu{Entries: visible}, all
}

// SelectAll behaves like Select but returns every candidate (prepulled or
// not) in menu order, for reconciler use: the reconciler needs to know
// about desired-but-not-yet-prepulled images, which the public menu omits.
func SelectAll(snap *inventory.Snapshot, cfg Config) []Entry {
	return selectCandidates(snap, cfg)
}

func selectCandidates(snap *inventory.Snapshot, cfg Config) []Entry {
	var candidates []Entry
	usedDigests := make(map[string]bool)

	if cfg.RecommendedTag != "" {
		for _, img := range snap.Images {
			if _, ok := img.Tags[cfg.RecommendedTag]; ok {
				candidates = append(candidates, Entry{Tag: cfg.RecommendedTag, Image: img})
				usedDigests[img.Digest] = true
				break
			}
		}
	}

	typeCaps := []struct {
		typ tag.Type
		cap int
	}{
		{tag.TypeRelease, cfg.NumReleases},
		{tag.TypeWeekly, cfg.NumWeeklies},
		{tag.TypeDaily, cfg.NumDailies},
	}

	parser := tag.NewParser(nil)
	for _, tc := range typeCaps {
		bucket := imagesOfPrimaryType(snap, tc.typ, usedDigests)
		sort.SliceStable(bucket, func(i, j int) bool {
			ti := parser.Parse(bucket[i].PrimaryTag)
			tj := parser.Parse(bucket[j].PrimaryTag)
			c, err := tag.Compare(ti, tj)
			if err != nil || c == 0 {
				return bucket[i].PrimaryTag > bucket[j].PrimaryTag
			}
			return c > 0
		})
		// The cap is checked before a candidate is admitted, not after:
		// count never exceeds tc.cap even when ties would otherwise let
		// one more through.
		count := 0
		for _, img := range bucket {
			if count >= tc.cap {
				break
			}
			candidates = append(candidates, Entry{Tag: img.PrimaryTag, Image: img})
			usedDigests[img.Digest] = true
			count++
		}
	}
	return candidates
}

func imagesOfPrimaryType(snap *inventory.Snapshot, typ tag.Type, excludeDigests map[string]bool) []*inventory.NodeImage {
	p := tag.NewParser(nil)
	var out []*inventory.NodeImage
	for _, img := range snap.Images {
		if excludeDigests[img.Digest] || img.PrimaryTag == "" {
			continue
		}
		if p.Parse(img.PrimaryTag).Type == typ {
			out = append(out, img)
		}
	}
	return out
}

// Get returns the menu entry for a tag, if present.
func (m *Menu) Get(t string) (*inventory.NodeImage, bool) {
	for _, e := range m.Entries {
		if e.Tag == t {
			return e.Image, true
		}
	}
	return nil, false
}
