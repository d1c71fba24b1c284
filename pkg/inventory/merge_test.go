package inventory

import (
	"testing"

	"github.com/go-kit/log"

	"github.com/sqre-io/labcontroller/pkg/tag"
)

func TestBuilderMergesAcrossNodes(t *testing.T) {
	cfg := Config{DockerRepository: "nublado/lab"}
	b := newBuilder(cfg, tag.NewParser(nil), log.NewNopLogger())

	b.addSighting("n1", []string{"registry/nublado/lab@sha256:abc", "registry/nublado/lab:r23_0_0"}, 100)
	b.addSighting("n2", []string{"registry/nublado/lab@sha256:abc", "registry/nublado/lab:w_2023_14"}, 100)

	images := b.finish()
	img, ok := images["sha256:abc"]
	if !ok {
		t.Fatal("expected merged digest sha256:abc")
	}
	if !img.Nodes["n1"] || !img.Nodes["n2"] {
		t.Fatalf("expected both nodes present, got %+v", img.Nodes)
	}
	if len(img.Tags) != 2 {
		t.Fatalf("expected tag union of size 2, got %v", img.Tags)
	}
}

func TestBuilderInitializesEntryOnSecondSighting(t *testing.T) {
	// Regression: a digest-image entry must exist fully (Nodes map
	// included) before the second sighting mutates it, or the first
	// node's membership is silently lost.
	cfg := Config{DockerRepository: "nublado/lab"}
	b := newBuilder(cfg, tag.NewParser(nil), log.NewNopLogger())

	b.addSighting("n1", []string{"registry/nublado/lab@sha256:abc"}, 1)
	b.addSighting("n2", []string{"registry/nublado/lab@sha256:abc"}, 1)
	b.addSighting("n3", []string{"registry/nublado/lab@sha256:abc"}, 1)

	images := b.finish()
	img := images["sha256:abc"]
	for _, n := range []string{"n1", "n2", "n3"} {
		if !img.Nodes[n] {
			t.Errorf("node %s missing from merged image, nodes=%v", n, img.Nodes)
		}
	}
}

func TestBuilderDiscardsConflictingPath(t *testing.T) {
	cfg := Config{DockerRepository: "lab"}
	b := newBuilder(cfg, tag.NewParser(nil), log.NewNopLogger())
	b.addSighting("n1", []string{"registry/a/lab@sha256:abc", "registry/a/lab:r23_0_0"}, 1)
	b.addSighting("n2", []string{"registry/b/lab@sha256:abc", "registry/b/lab:r23_0_0"}, 1)
	images := b.finish()
	img := images["sha256:abc"]
	if img.Path != "registry/a/lab" {
		t.Fatalf("Path = %q, want first-seen path kept", img.Path)
	}
}

func TestConsolidateTagsPrefersRecommended(t *testing.T) {
	p := tag.NewParser(nil)
	img := &NodeImage{
		Tags: map[string]tag.Tag{
			"recommended": p.Parse("recommended"),
			"r23_0_0":     p.Parse("r23_0_0"),
		},
	}
	consolidateTags(img, "recommended")
	if img.PrimaryTag != "recommended" {
		t.Fatalf("PrimaryTag = %q, want recommended", img.PrimaryTag)
	}
}

func TestConsolidateTagsPicksBestSemver(t *testing.T) {
	p := tag.NewParser(nil)
	img := &NodeImage{
		Tags: map[string]tag.Tag{
			"r23_0_0": p.Parse("r23_0_0"),
			"r23_1_0": p.Parse("r23_1_0"),
		},
	}
	consolidateTags(img, "")
	if img.PrimaryTag != "r23_1_0" {
		t.Fatalf("PrimaryTag = %q, want r23_1_0 (highest semver)", img.PrimaryTag)
	}
}

func TestConsolidateTagsPrefersReleaseOverExperimental(t *testing.T) {
	p := tag.NewParser(nil)
	img := &NodeImage{
		Tags: map[string]tag.Tag{
			"r23_0_0":       p.Parse("r23_0_0"),
			"exp_zzzscratch": p.Parse("exp_zzzscratch"),
		},
	}
	consolidateTags(img, "")
	if img.PrimaryTag != "r23_0_0" {
		t.Fatalf("PrimaryTag = %q, want r23_0_0 (release outranks experimental regardless of raw-string order)", img.PrimaryTag)
	}
}

func TestCycleFilterDropsMismatchedTags(t *testing.T) {
	cfg := Config{DockerRepository: "lab", Cycle: intPtr(20)}
	b := newBuilder(cfg, tag.NewParser(nil), log.NewNopLogger())
	b.addSighting("n1", []string{"registry/lab@sha256:abc", "registry/lab:r23_0_0_c0020.001"}, 1)
	b.addSighting("n1", []string{"registry/lab@sha256:def", "registry/lab:r23_0_0_c0030.001"}, 1)
	images := b.finish()
	if _, ok := images["sha256:abc"]; !ok {
		t.Error("expected cycle-20 image to survive filtering")
	}
	if _, ok := images["sha256:def"]; ok {
		t.Error("expected cycle-30 image to be filtered out")
	}
}

func TestCycleFilterDropsNoCycleTagsToo(t *testing.T) {
	cfg := Config{DockerRepository: "lab", Cycle: intPtr(20)}
	b := newBuilder(cfg, tag.NewParser(nil), log.NewNopLogger())
	b.addSighting("n1", []string{"registry/lab@sha256:abc", "registry/lab:w_2023_14"}, 1)
	images := b.finish()
	if _, ok := images["sha256:abc"]; ok {
		t.Error("expected image with only no-cycle tags to be filtered out entirely when a cycle is configured")
	}
}

func intPtr(i int) *int { return &i }
