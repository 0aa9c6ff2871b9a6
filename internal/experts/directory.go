// Package experts is the read-only directory of professionals that can
// receive invites.
package experts

import (
	"sort"
	"strings"
)

const (
	UnknownExpert = "unknown expert"
	NoLicense     = "no license"
)

type Expert struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	License string   `json:"license,omitempty"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags,omitempty"`
	Price   string   `json:"price"`
	Online  bool     `json:"online"`
	Rating  float64  `json:"rating"`
	Reviews int      `json:"reviews"`
}

// Directory resolves expert ids. The zero value is an empty directory.
type Directory struct {
	byID map[string]Expert
}

func New(list []Expert) *Directory {
	d := &Directory{byID: make(map[string]Expert, len(list))}
	for _, e := range list {
		d.byID[e.ID] = e
	}
	return d
}

// Default returns the built-in directory.
func Default() *Directory {
	return New(builtin)
}

func (d *Directory) Lookup(id string) (Expert, bool) {
	if d == nil {
		return Expert{}, false
	}
	e, ok := d.byID[id]
	return e, ok
}

// DisplayName renders "name（license）", falling back to placeholders for a
// missing license or an unknown id.
func (d *Directory) DisplayName(id string) string {
	e, ok := d.Lookup(id)
	if !ok {
		return UnknownExpert
	}
	license := e.License
	if license == "" {
		license = NoLicense
	}
	return e.Name + "（" + license + "）"
}

// List returns experts sorted by id. A non-empty category keeps only experts
// whose inferred category matches.
func (d *Directory) List(category string) []Expert {
	if d == nil {
		return nil
	}
	out := make([]Expert, 0, len(d.byID))
	for _, e := range d.byID {
		if category != "" && Category(e) != category {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var categoryRules = []struct {
	key   string
	words []string
}{
	{"tax", []string{"tax accountant", "inheritance tax", "gift tax", "corporate tax", "tax saving"}},
	{"labor", []string{"labor and social security", "work rules", "payroll", "subsidies", "labor"}},
	{"patent", []string{"patent attorney", "patent", "trademark"}},
	{"legal", []string{"attorney", "lawyer", "corporate law", "retainer"}},
	{"judicial", []string{"judicial scrivener", "registration", "inheritance", "real estate"}},
	{"gyosei", []string{"administrative scrivener", "permits", "licensing", "contracts"}},
	{"accounting", []string{"certified public accountant", "audit", "internal control", "ipo"}},
	{"funeral", []string{"funeral", "end-of-life", "memorial"}},
	{"fp", []string{"financial planner", "life plan", "asset management", "household budget"}},
}

// Category infers the closest practice area from license, title and tags.
// Experts that match nothing are filed under "tax".
func Category(e Expert) string {
	text := strings.ToLower(strings.Join(append([]string{e.License, e.Title}, e.Tags...), " "))
	for _, rule := range categoryRules {
		for _, w := range rule.words {
			if strings.Contains(text, w) {
				return rule.key
			}
		}
	}
	return "tax"
}
