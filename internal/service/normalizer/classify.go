package normalizer

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pageNamePattern matches "<prefix>page-<N>" with an optional "-<seq>" or
// "_<seq>" sub-variant suffix.
var pageNamePattern = regexp.MustCompile(`^(.*?page-(\d+))(?:[-_](\d+))?$`)

// Classification describes one rasterizer output file.
type Classification struct {
	Name      string
	Group     string
	Page      int
	Principal bool
	Sequence  int
}

// Classify decides whether name is the principal image of its page or a
// numbered sub-variant. Files without a page token form their own group.
func Classify(name string) Classification {
	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	m := pageNamePattern.FindStringSubmatch(stem)
	if m == nil {
		return Classification{Name: base, Group: stem, Principal: true}
	}

	page, _ := strconv.Atoi(m[2])
	c := Classification{
		Name:      base,
		Group:     strings.ToLower(m[1][:len(m[1])-len(m[2])]) + strconv.Itoa(page),
		Page:      page,
		Principal: m[3] == "",
	}
	if !c.Principal {
		c.Sequence, _ = strconv.Atoi(m[3])
	}
	return c
}

// SelectPrincipal keeps exactly one file per page group: the principal image
// when present, otherwise the variant with the lowest sequence number.
// The result is ordered by page then group.
func SelectPrincipal(names []string) []Classification {
	best := make(map[string]Classification)
	for _, n := range names {
		c := Classify(n)
		cur, ok := best[c.Group]
		if !ok || better(c, cur) {
			best[c.Group] = c
		}
	}

	out := make([]Classification, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Group < out[j].Group
	})
	return out
}

func better(a, b Classification) bool {
	if a.Principal != b.Principal {
		return a.Principal
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.Name < b.Name
}
