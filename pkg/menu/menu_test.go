package menu

import (
	"testing"

	"github.com/sqre-io/labcontroller/pkg/inventory"
	"github.com/sqre-io/labcontroller/pkg/tag"
)

func mkImage(digest, primaryTag string, rawTags []string, nodes ...string) *inventory.NodeImage {
	p := tag.NewParser(nil)
	tags := make(map[string]tag.Tag, len(rawTags))
	for _, rt := range rawTags {
		tags[rt] = p.Parse(rt)
	}
	nodeSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		nodeSet[n] = true
	}
	return &inventory.NodeImage{Digest: digest, Tags: tags, Nodes: nodeSet, PrimaryTag: primaryTag}
}

func TestSelectRecommendedFirst(t *testing.T) {
	snap := &inventory.Snapshot{
		Images: map[string]*inventory.NodeImage{
			"sha256:rec": mkImage("sha256:rec", "recommended", []string{"recommended"}, "n1", "n2"),
			"sha256:r1":  mkImage("sha256:r1", "r23_0_0", []string{"r23_0_0"}, "n1", "n2"),
		},
		Nodes: []inventory.Node{{Name: "n1", Eligible: true}, {Name: "n2", Eligible: true}},
	}
	m, _ := Select(snap, Config{RecommendedTag: "recommended", NumReleases: 1})
	if len(m.Entries) == 0 || m.Entries[0].Tag != "recommended" {
		t.Fatalf("Entries = %+v, want recommended first", m.Entries)
	}
}

func TestSelectOnlyEmitsPrepulled(t *testing.T) {
	snap := &inventory.Snapshot{
		Images: map[string]*inventory.NodeImage{
			"sha256:abc": mkImage("sha256:abc", "recommended", []string{"recommended"}, "n1"),
		},
		Nodes: []inventory.Node{{Name: "n1", Eligible: true}, {Name: "n2", Eligible: true}},
	}
	m, all := Select(snap, Config{RecommendedTag: "recommended"})
	if len(m.Entries) != 0 {
		t.Fatalf("Entries = %+v, want empty since image is not prepulled on n2", m.Entries)
	}
	if _, ok := all["recommended"]; !ok {
		t.Fatal("expected unprepulled image to still appear in the all map")
	}
}

func TestSelectCapsPerType(t *testing.T) {
	images := map[string]*inventory.NodeImage{}
	for i, rawTag := range []string{"r23_0_0", "r23_1_0", "r23_2_0"} {
		d := "sha256:r" + string(rune('a'+i))
		images[d] = mkImage(d, rawTag, []string{rawTag}, "n1")
	}
	snap := &inventory.Snapshot{Images: images, Nodes: []inventory.Node{{Name: "n1", Eligible: true}}}
	m, _ := Select(snap, Config{NumReleases: 2})
	if len(m.Entries) != 2 {
		t.Fatalf("Entries = %d, want capped to 2", len(m.Entries))
	}
	if m.Entries[0].Tag != "r23_2_0" || m.Entries[1].Tag != "r23_1_0" {
		t.Fatalf("Entries = %+v, want descending semver order", m.Entries)
	}
}

func TestSelectAllIncludesUnprepulled(t *testing.T) {
	snap := &inventory.Snapshot{
		Images: map[string]*inventory.NodeImage{
			"sha256:abc": mkImage("sha256:abc", "r23_0_0", []string{"r23_0_0"}),
		},
		Nodes: []inventory.Node{{Name: "n1", Eligible: true}},
	}
	all := SelectAll(snap, Config{NumReleases: 1})
	if len(all) != 1 {
		t.Fatalf("SelectAll returned %d, want 1 candidate regardless of prepull state", len(all))
	}
}
