package tag

import (
	"regexp"
	"strconv"
	"strings"
)

// cycleSuffixRE matches a cycle marker (optionally SAL-flavoured) followed by
// a build number, e.g. "_c0020.001" or "_csal0020.001". Whatever trails is a
// free-form suffix.
var cycleSuffixRE = regexp.MustCompile(`^_c(?:sal)?(\d+)\.(\d+)(.*)$`)

// Ordered regexp grammar. Order matters: release-candidate precedes release
// because an RC tag is a superset of the release grammar; cycle-bearing
// forms are handled uniformly as trailing remainder, not as distinct
// patterns, so the base grammars only need to describe the non-cycle part.
var (
	releaseCandidateRE = regexp.MustCompile(`^r(\d+)_(\d+)_(\d+)_rc(\d+)(.*)$`)
	releaseRE          = regexp.MustCompile(`^r(\d+)_(\d+)_(\d+)(.*)$`)
	releaseLegacyRE    = regexp.MustCompile(`^r(\d{2})(\d)(.*)$`)
	weeklyRE           = regexp.MustCompile(`^w_(\d+)_(\d+)(.*)$`)
	dailyRE            = regexp.MustCompile(`^d_(\d+)_(\d+)_(\d+)(.*)$`)
	experimentalRE     = regexp.MustCompile(`^exp_(.+)$`)

	suffixCleanRE = regexp.MustCompile(`[^a-zA-Z0-9.]`)
)

// Parser classifies raw tags. Its Aliases set names the additional raw tags
// that override the parsed type to alias, beyond the built-in
// "latest"/"latest_*" rule.
type Parser struct {
	Aliases map[string]bool
}

// NewParser builds a Parser from a configured alias list.
func NewParser(aliases []string) *Parser {
	m := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		m[a] = true
	}
	return &Parser{Aliases: m}
}

// Parse classifies and decorates a raw tag string.
func (p *Parser) Parse(raw string) Tag {
	t := parseGrammar(raw)
	if p.isAlias(raw) {
		t.Type = TypeAlias
		t.DisplayName = titleCase(raw)
		t.HasSemVer = false
		t.HasCycle = false
	}
	return t
}

func (p *Parser) isAlias(raw string) bool {
	if p == nil {
		return raw == "latest" || strings.HasPrefix(raw, "latest_")
	}
	if raw == "latest" || strings.HasPrefix(raw, "latest_") {
		return true
	}
	return p.Aliases[raw]
}

func parseGrammar(raw string) Tag {
	if m := releaseCandidateRE.FindStringSubmatch(raw); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		patch, _ := strconv.Atoi(m[3])
		rc, _ := strconv.Atoi(m[4])
		cycle, build, suffix, hasCycle, buildMeta := splitTrailer(m[5])
		disp := "Release r" + m[1] + "." + m[2] + "." + m[3] + "-rc" + m[4]
		disp += trailerDisplay(cycle, build, suffix, hasCycle)
		return Tag{
			Raw: raw, Type: TypeReleaseCandidate, DisplayName: disp,
			SemVer: SemVer{Major: major, Minor: minor, Patch: patch,
				PreRelease: "rc" + strconv.Itoa(rc), Build: buildMeta},
			HasSemVer: true, Cycle: cycle, HasCycle: hasCycle,
		}
	}
	if m := releaseRE.FindStringSubmatch(raw); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		patch, _ := strconv.Atoi(m[3])
		cycle, build, suffix, hasCycle, buildMeta := splitTrailer(m[4])
		disp := "Release r" + m[1] + "." + m[2] + "." + m[3]
		disp += trailerDisplay(cycle, build, suffix, hasCycle)
		return Tag{
			Raw: raw, Type: TypeRelease, DisplayName: disp,
			SemVer:    SemVer{Major: major, Minor: minor, Patch: patch, Build: buildMeta},
			HasSemVer: true, Cycle: cycle, HasCycle: hasCycle,
		}
	}
	if m := releaseLegacyRE.FindStringSubmatch(raw); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		cycle, build, suffix, hasCycle, buildMeta := splitTrailer(m[3])
		disp := "Release r" + m[1] + "." + m[2] + ".0"
		disp += trailerDisplay(cycle, build, suffix, hasCycle)
		return Tag{
			Raw: raw, Type: TypeRelease, DisplayName: disp,
			SemVer:    SemVer{Major: major, Minor: minor, Build: buildMeta},
			HasSemVer: true, Cycle: cycle, HasCycle: hasCycle,
		}
	}
	if m := weeklyRE.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		week, _ := strconv.Atoi(m[2])
		cycle, build, suffix, hasCycle, buildMeta := splitTrailer(m[3])
		disp := "Weekly " + m[1] + "_" + m[2]
		disp += trailerDisplay(cycle, build, suffix, hasCycle)
		return Tag{
			Raw: raw, Type: TypeWeekly, DisplayName: disp,
			SemVer:    SemVer{Major: year, Minor: week, Build: buildMeta},
			HasSemVer: true, Cycle: cycle, HasCycle: hasCycle,
		}
	}
	if m := dailyRE.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		cycle, build, suffix, hasCycle, buildMeta := splitTrailer(m[4])
		disp := "Daily " + m[1] + "_" + m[2] + "_" + m[3]
		disp += trailerDisplay(cycle, build, suffix, hasCycle)
		return Tag{
			Raw: raw, Type: TypeDaily, DisplayName: disp,
			SemVer:    SemVer{Major: year, Minor: month, Patch: day, Build: buildMeta},
			HasSemVer: true, Cycle: cycle, HasCycle: hasCycle,
		}
	}
	if m := experimentalRE.FindStringSubmatch(raw); m != nil {
		inner := parseGrammar(m[1])
		return Tag{
			Raw: raw, Type: TypeExperimental,
			DisplayName: "Experimental " + inner.DisplayName,
			SemVer:      inner.SemVer, HasSemVer: inner.HasSemVer,
			Cycle: inner.Cycle, HasCycle: inner.HasCycle,
		}
	}
	return Tag{Raw: raw, Type: TypeUnknown, DisplayName: raw}
}

// splitTrailer parses the remainder after a base grammar match into an
// optional cycle/build marker and a free-form suffix, and folds the whole
// remainder into dotted semver build metadata.
func splitTrailer(trailer string) (cycle int, build string, suffix string, hasCycle bool, buildMeta string) {
	if trailer == "" {
		return 0, "", "", false, ""
	}
	meta := strings.TrimPrefix(trailer, "_")
	meta = strings.ReplaceAll(meta, "_", ".")
	meta = suffixCleanRE.ReplaceAllString(meta, "")
	buildMeta = meta

	if m := cycleSuffixRE.FindStringSubmatch(trailer); m != nil {
		cycle, _ = strconv.Atoi(m[1])
		build = m[2]
		suffix = strings.TrimPrefix(m[3], "_")
		hasCycle = true
		return
	}
	suffix = strings.TrimPrefix(trailer, "_")
	return
}

func trailerDisplay(cycle int, build, suffix string, hasCycle bool) string {
	var sb strings.Builder
	if hasCycle {
		sb.WriteString(" (SAL Cycle ")
		sb.WriteString(padCycle(cycle))
		sb.WriteString(", Build ")
		sb.WriteString(build)
		sb.WriteString(")")
	}
	if suffix != "" {
		sb.WriteString(" [")
		sb.WriteString(suffix)
		sb.WriteString("]")
	}
	return sb.String()
}

// padCycle keeps the original four-digit zero padding used throughout the
// source's cycle numbers (e.g. 20 -> "0020").
func padCycle(cycle int) string {
	s := strconv.Itoa(cycle)
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}

func titleCase(raw string) string {
	words := strings.FieldsFunc(raw, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
