package experts

import "testing"

func TestDisplayName(t *testing.T) {
	d := New([]Expert{
		{ID: "1", Name: "Haruto", License: "Tax Accountant"},
		{ID: "2", Name: "Hina"},
	})

	if got := d.DisplayName("1"); got != "Haruto（Tax Accountant）" {
		t.Fatalf("unexpected display name: %q", got)
	}
	if got := d.DisplayName("2"); got != "Hina（no license）" {
		t.Fatalf("unexpected display name without license: %q", got)
	}
	if got := d.DisplayName("999"); got != UnknownExpert {
		t.Fatalf("expected unknown placeholder, got %q", got)
	}

	var empty *Directory
	if got := empty.DisplayName("1"); got != UnknownExpert {
		t.Fatalf("nil directory should resolve nothing, got %q", got)
	}
}

func TestListSortedByNumericID(t *testing.T) {
	list := Default().List("")
	if len(list) != len(builtin) {
		t.Fatalf("expected %d experts, got %d", len(builtin), len(list))
	}
	if list[0].ID != "1" || list[len(list)-1].ID != "10" {
		t.Fatalf("unexpected order: first %s last %s", list[0].ID, list[len(list)-1].ID)
	}
}

func TestCategory(t *testing.T) {
	cases := map[string]string{
		"1": "tax",
		"2": "labor",
		"3": "legal",
		"6": "patent",
		"7": "accounting",
		"8": "funeral",
		"9": "fp",
	}
	d := Default()
	for id, want := range cases {
		e, ok := d.Lookup(id)
		if !ok {
			t.Fatalf("expert %s missing", id)
		}
		if got := Category(e); got != want {
			t.Errorf("expert %s: category %q, want %q", id, got, want)
		}
	}

	if got := Category(Expert{Title: "General advice"}); got != "tax" {
		t.Fatalf("expected tax fallback, got %q", got)
	}
	for _, e := range d.List("patent") {
		if e.ID != "6" {
			t.Fatalf("unexpected expert %s in patent list", e.ID)
		}
	}
}
