package tag

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestParseWeekly(t *testing.T) {
	p := NewParser(nil)
	got := p.Parse("w_2023_14")
	want := Tag{
		Raw: "w_2023_14", Type: TypeWeekly, DisplayName: "Weekly 2023_14",
		SemVer: SemVer{Major: 2023, Minor: 14}, HasSemVer: true,
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReleaseCandidateWithCycle(t *testing.T) {
	p := NewParser(nil)
	got := p.Parse("r23_0_0_rc1_c0020.001_20230513")
	if got.Type != TypeReleaseCandidate {
		t.Fatalf("Type = %v, want release_candidate", got.Type)
	}
	if got.SemVer.Major != 23 || got.SemVer.Minor != 0 || got.SemVer.Patch != 0 {
		t.Fatalf("SemVer = %+v, want 23.0.0", got.SemVer)
	}
	if got.SemVer.PreRelease != "rc1" {
		t.Fatalf("PreRelease = %q, want rc1", got.SemVer.PreRelease)
	}
	if got.SemVer.Build != "c0020.001.20230513" {
		t.Fatalf("Build = %q, want c0020.001.20230513", got.SemVer.Build)
	}
	wantDisplay := "Release r23.0.0-rc1 (SAL Cycle 0020, Build 001) [20230513]"
	if got.DisplayName != wantDisplay {
		t.Fatalf("DisplayName = %q, want %q", got.DisplayName, wantDisplay)
	}
	if !got.HasCycle || got.Cycle != 20 {
		t.Fatalf("Cycle = %v/%v, want 20/true", got.Cycle, got.HasCycle)
	}
}

func TestParseAliasOverridesGrammar(t *testing.T) {
	p := NewParser([]string{"recommended"})
	for _, raw := range []string{"latest", "latest_weekly", "recommended"} {
		got := p.Parse(raw)
		if got.Type != TypeAlias {
			t.Errorf("Parse(%q).Type = %v, want alias", raw, got.Type)
		}
	}
}

func TestParseUnknown(t *testing.T) {
	p := NewParser(nil)
	got := p.Parse("not-a-tag")
	if got.Type != TypeUnknown {
		t.Fatalf("Type = %v, want unknown", got.Type)
	}
	if got.DisplayName != "not-a-tag" {
		t.Fatalf("DisplayName = %q, want raw tag", got.DisplayName)
	}
}

func TestParseDisplayNameNeverEmpty(t *testing.T) {
	p := NewParser(nil)
	inputs := []string{"w_2023_14", "d_2023_05_01", "r23_0_0", "exp_foo", "garbage", "latest"}
	for _, raw := range inputs {
		if p.Parse(raw).DisplayName == "" {
			t.Errorf("Parse(%q).DisplayName is empty", raw)
		}
	}
}

func TestCompareRequiresSameType(t *testing.T) {
	p := NewParser(nil)
	a := p.Parse("w_2023_14")
	b := p.Parse("d_2023_05_01")
	if _, err := Compare(a, b); err == nil {
		t.Fatal("Compare across types should error")
	}
}

func TestCompareTotalOrderWithinType(t *testing.T) {
	p := NewParser(nil)
	tags := []Tag{p.Parse("w_2023_14"), p.Parse("w_2023_02"), p.Parse("w_2022_50")}
	for i := range tags {
		for j := range tags {
			c1, err := Compare(tags[i], tags[j])
			if err != nil {
				t.Fatal(err)
			}
			c2, _ := Compare(tags[j], tags[i])
			if c1 != -c2 {
				t.Errorf("Compare not antisymmetric for %d,%d: %d vs %d", i, j, c1, c2)
			}
		}
	}
}

func TestSortByTypeDescending(t *testing.T) {
	p := NewParser(nil)
	l := NewList([]Tag{p.Parse("w_2023_02"), p.Parse("w_2023_14"), p.Parse("w_2022_50")})
	l.SortByType()
	got := l.Type(TypeWeekly)
	if len(got) != 3 || got[0].Raw != "w_2023_14" || got[2].Raw != "w_2022_50" {
		t.Fatalf("SortByType() = %v, want descending by weekly semver", got)
	}
}

func TestSortByTypeIsolatesBuckets(t *testing.T) {
	p := NewParser(nil)
	l := NewList([]Tag{p.Parse("w_2023_01"), p.Parse("d_2023_01_01"), p.Parse("w_2023_05")})
	l.SortByType()
	weekly := l.Type(TypeWeekly)
	daily := l.Type(TypeDaily)
	if len(weekly) != 2 || len(daily) != 1 {
		t.Fatalf("bucket sizes = weekly:%d daily:%d, want 2/1", len(weekly), len(daily))
	}
	if weekly[0].Raw != "w_2023_05" {
		t.Fatalf("weekly bucket not sorted against itself: %v", weekly)
	}
}
