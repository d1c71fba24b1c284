package tag

import "sort"

// List is a collection of tags grouped and sorted per type. Grouping by type
// before sorting is required because Compare is undefined across types.
type List struct {
	byType map[Type][]Tag
}

// NewList buckets tags by type.
func NewList(tags []Tag) *List {
	l := &List{byType: make(map[Type][]Tag)}
	for _, t := range tags {
		l.byType[t.Type] = append(l.byType[t.Type], t)
	}
	return l
}

// SortByType sorts every per-type bucket in descending order, each bucket
// sorted against its own type's tags. (An earlier revision sorted every
// bucket against whichever type variable the loop last bound; each bucket
// must be sorted against itself.)
func (l *List) SortByType() {
	for typ, tags := range l.byType {
		bucket := tags
		sort.SliceStable(bucket, func(i, j int) bool {
			c, err := Compare(bucket[i], bucket[j])
			if err != nil {
				return false
			}
			return c > 0
		})
		l.byType[typ] = bucket
	}
}

// Type returns the sorted bucket for a type, descending.
func (l *List) Type(t Type) []Tag {
	return l.byType[t]
}

// SortedImages returns every tag across all types, each type's bucket sorted
// descending, concatenated in a stable type order for display purposes.
func (l *List) SortedImages() []Tag {
	l.SortByType()
	order := []Type{TypeRelease, TypeReleaseCandidate, TypeWeekly, TypeDaily, TypeExperimental, TypeAlias, TypeUnknown}
	var out []Tag
	for _, t := range order {
		out = append(out, l.byType[t]...)
	}
	return out
}
