package matching

import (
	"testing"

	"repomap/criteria"
)

func TestMatchesNilExpression(t *testing.T) {
	if !Matches(map[string]any{"a": 1}, nil) {
		t.Error("nil expression should match everything")
	}
}

func TestMatchesComparisons(t *testing.T) {
	rec := map[string]any{"age": int64(30), "name": "Alice", "score": 7.5}

	cases := []struct {
		name string
		expr *criteria.Expression
		want bool
	}{
		{"eq number", criteria.Eq("age", 30), true},
		{"eq cross-type", criteria.Eq("age", "30"), true},
		{"eq float vs int", criteria.Eq("score", 7.5), true},
		{"eq mismatch", criteria.Eq("age", 31), false},
		{"neq", criteria.Leaf("age", criteria.OpNeq, 31), true},
		{"gt", criteria.Leaf("age", criteria.OpGt, 29), true},
		{"gt equal boundary", criteria.Leaf("age", criteria.OpGt, 30), false},
		{"gte boundary", criteria.Leaf("age", criteria.OpGte, 30), true},
		{"lt", criteria.Leaf("age", criteria.OpLt, 31), true},
		{"lte boundary", criteria.Leaf("age", criteria.OpLte, 30), true},
		{"string gt lexical", criteria.Leaf("name", criteria.OpGt, "Aaron"), true},
		{"in", criteria.In("age", []any{10, 30}), true},
		{"in miss", criteria.In("age", []any{10, 20}), false},
		{"nin", criteria.Leaf("age", criteria.OpNin, []any{10, 20}), true},
		{"like substring", criteria.Leaf("name", criteria.OpLike, "lic"), true},
		{"like case-insensitive", criteria.Leaf("name", criteria.OpLike, "ALICE"), true},
		{"like prefix", criteria.Leaf("name", criteria.OpLike, "Al%"), true},
		{"like suffix", criteria.Leaf("name", criteria.OpLike, "%ce"), true},
		{"like sandwich", criteria.Leaf("name", criteria.OpLike, "A%i%e"), true},
		{"like miss", criteria.Leaf("name", criteria.OpLike, "Bob%"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(rec, tc.expr); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchesMissingField(t *testing.T) {
	rec := map[string]any{"a": 1}

	if !Matches(rec, criteria.Eq("missing", nil)) {
		t.Error("missing field should equal nil")
	}
	if Matches(rec, criteria.Leaf("missing", criteria.OpGt, 1)) {
		t.Error("nil is unordered, comparisons against it must not match")
	}
}

func TestMatchesLogic(t *testing.T) {
	rec := map[string]any{"age": 19, "country": "PL"}

	expr := criteria.And(
		criteria.Leaf("age", criteria.OpGte, 18),
		criteria.Or(criteria.Eq("country", "PL"), criteria.Eq("country", "UK")),
	)
	if !Matches(rec, expr) {
		t.Error("expected match")
	}

	rec["country"] = "DE"
	if Matches(rec, expr) {
		t.Error("expected no match once neither OR branch holds")
	}
}

func TestFilter(t *testing.T) {
	records := []map[string]any{
		{"id": 1, "status": "active"},
		{"id": 2, "status": "archived"},
		{"id": 3, "status": "active"},
	}
	got := Filter(records, criteria.Eq("status", "active"))
	if len(got) != 2 || got[0]["id"] != 1 || got[1]["id"] != 3 {
		t.Errorf("Filter broke order or selection: %v", got)
	}
}

func TestSort(t *testing.T) {
	records := []map[string]any{
		{"name": "carol", "age": 30},
		{"name": "alice", "age": 25},
		{"name": "bob", "age": 30},
	}
	Sort(records, []criteria.Order{
		{Field: "age", Descending: true},
		{Field: "name"},
	})

	want := []string{"bob", "carol", "alice"}
	for i, name := range want {
		if records[i]["name"] != name {
			t.Fatalf("position %d: got %v, want %s (full: %v)", i, records[i]["name"], name, records)
		}
	}
}

func TestSortStableOnTies(t *testing.T) {
	records := []map[string]any{
		{"id": 1, "rank": 5},
		{"id": 2, "rank": 5},
		{"id": 3, "rank": 5},
	}
	Sort(records, []criteria.Order{{Field: "rank"}})
	for i, rec := range records {
		if rec["id"] != i+1 {
			t.Fatalf("tie broke insertion order: %v", records)
		}
	}
}

func TestPage(t *testing.T) {
	records := []map[string]any{{"id": 1}, {"id": 2}, {"id": 3}, {"id": 4}}

	t.Run("limit", func(t *testing.T) {
		got := Page(records, 2, 0)
		if len(got) != 2 || got[0]["id"] != 1 {
			t.Errorf("got %v", got)
		}
	})
	t.Run("offset", func(t *testing.T) {
		got := Page(records, 0, 3)
		if len(got) != 1 || got[0]["id"] != 4 {
			t.Errorf("got %v", got)
		}
	})
	t.Run("limit and offset", func(t *testing.T) {
		got := Page(records, 2, 1)
		if len(got) != 2 || got[0]["id"] != 2 {
			t.Errorf("got %v", got)
		}
	})
	t.Run("offset past end", func(t *testing.T) {
		if got := Page(records, 0, 10); len(got) != 0 {
			t.Errorf("got %v", got)
		}
	})
	t.Run("no limit", func(t *testing.T) {
		if got := Page(records, 0, 0); len(got) != 4 {
			t.Errorf("got %v", got)
		}
	})
}
