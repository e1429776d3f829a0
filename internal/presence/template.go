package presence

import (
	"slices"
	"strings"
)

// MatchTemplate reports whether a group name matches a template.
//
// A template is a glob: '*' matches any run of characters (including none)
// and '?' matches exactly one character. Characters are runes, not bytes.
// Every other character matches itself. A template without wildcards only matches the identical name.
// Unlike path.Match there is no separator and no malformed pattern.
func MatchTemplate(template, name string) bool {
	if !strings.ContainsAny(template, "*?") {
		return template == name
	}

	tmpl, runes := []rune(template), []rune(name)
	t, n := 0, 0
	starT, starN := -1, 0
	for n < len(runes) {
		switch {
		case t < len(tmpl) && (tmpl[t] == '?' || tmpl[t] == runes[n]):
			t++
			n++
		case t < len(tmpl) && tmpl[t] == '*':
			starT, starN = t, n
			t++
		case starT >= 0:
			// Let the last '*' swallow one more character and retry.
			starN++
			t, n = starT+1, starN
		default:
			return false
		}
	}
	for t < len(tmpl) && tmpl[t] == '*' {
		t++
	}
	return t == len(tmpl)
}

func matchAny(templates []string, name string) bool {
	for _, tpl := range templates {
		if MatchTemplate(tpl, name) {
			return true
		}
	}
	return false
}

func sortConnections(conns []Connection) {
	slices.SortFunc(conns, func(a, b Connection) int {
		return strings.Compare(a.ConnectionID, b.ConnectionID)
	})
}

func sortIDs(ids []int64) {
	slices.Sort(ids)
}

func sortStrings(s []string) {
	slices.Sort(s)
}
