package repomap_test

import (
	"errors"
	"strings"
	"testing"

	"repomap"
	"repomap/criteria"
	"repomap/schema"
	"repomap/stores/memory"
)

// registry is a minimal Resolver backed by a name-to-repository map.
type registry map[string]*repomap.Repository

func (r registry) RepositoryFor(entityType string) (*repomap.Repository, error) {
	repo, ok := r[entityType]
	if !ok {
		return nil, nil
	}
	return repo, nil
}

func joinFixture(t *testing.T) (*repomap.Repository, *repomap.Repository, *repomap.Repository) {
	t.Helper()
	store := memory.New()
	reg := registry{}

	users, err := repomap.New(store, repomap.Config{
		Collection: "users",
		Structure: schema.Structure{
			"id":   {Type: "int"},
			"name": {Type: "string"},
		},
		Resolver: reg,
	})
	if err != nil {
		t.Fatalf("users repository: %v", err)
	}
	profiles, err := repomap.New(store, repomap.Config{
		Collection: "profiles",
		Structure: schema.Structure{
			"id":     {Type: "int"},
			"userId": {Type: "int"},
			"bio":    {Type: "string"},
		},
		Resolver: reg,
	})
	if err != nil {
		t.Fatalf("profiles repository: %v", err)
	}
	posts, err := repomap.New(store, repomap.Config{
		Collection: "posts",
		Structure: schema.Structure{
			"id":       {Type: "int"},
			"authorId": {Type: "int"},
			"title":    {Type: "string"},
			"rank":     {Type: "int"},
		},
		Resolver: reg,
	})
	if err != nil {
		t.Fatalf("posts repository: %v", err)
	}
	reg["users"] = users
	reg["profiles"] = profiles
	reg["posts"] = posts

	fixtures := `
users:
  - {id: 1, name: Ann}
  - {id: 2, name: Ben}
  - {id: 3, name: Cid}
profiles:
  - {id: 10, userId: 1, bio: first}
  - {id: 11, userId: 3, bio: third}
posts:
  - {id: 100, authorId: 1, title: older, rank: 2}
  - {id: 101, authorId: 1, title: newer, rank: 1}
  - {id: 102, authorId: 2, title: only, rank: 5}
`
	if err := store.LoadFixtures(strings.NewReader(fixtures)); err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	return users, profiles, posts
}

func TestJoinOne(t *testing.T) {
	users, profiles, _ := joinFixture(t)

	all, err := users.Find(nil, repomap.Params{OrderBy: []criteria.Order{{Field: "id"}}})
	if err != nil {
		t.Fatalf("find users: %v", err)
	}

	t.Run("keep unmatched", func(t *testing.T) {
		joined, err := users.JoinOne(all, profiles, "userId", "id", "profile", nil, false)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		if len(joined) != 3 {
			t.Fatalf("expected all users kept, got %d", len(joined))
		}

		ann := joined[0]
		profile, ok := ann.Property("profile").(*repomap.Entity)
		if !ok {
			t.Fatalf("profile not attached: %#v", ann.Property("profile"))
		}
		if profile.Property("bio") != "first" {
			t.Errorf("wrong profile joined: %v", profile.Properties())
		}

		ben := joined[1]
		if !ben.HasProperty("profile") {
			t.Error("unmatched entity must carry the empty marker")
		}
		if ben.Property("profile") != nil {
			t.Errorf("empty marker must be nil, got %#v", ben.Property("profile"))
		}
	})

	t.Run("exclude unmatched", func(t *testing.T) {
		joined, err := users.JoinOne(all, profiles, "userId", "id", "profile", nil, true)
		if err != nil {
			t.Fatalf("join: %v", err)
		}
		if len(joined) != 2 {
			t.Fatalf("expected unmatched users dropped, got %d", len(joined))
		}
		if joined[0].Property("name") != "Ann" || joined[1].Property("name") != "Cid" {
			t.Errorf("wrong survivors: %v, %v", joined[0].Properties(), joined[1].Properties())
		}
	})
}

func TestJoinOneByEntityType(t *testing.T) {
	users, _, _ := joinFixture(t)

	all, err := users.Find(nil, repomap.Params{})
	if err != nil {
		t.Fatalf("find users: %v", err)
	}

	joined, err := users.JoinOne(all, "profiles", "userId", "id", "profile", nil, true)
	if err != nil {
		t.Fatalf("join by type: %v", err)
	}
	if len(joined) != 2 {
		t.Errorf("expected 2 matched users, got %d", len(joined))
	}
}

func TestJoinUnknownEntityType(t *testing.T) {
	users, _, _ := joinFixture(t)
	all, _ := users.Find(nil, repomap.Params{})

	_, err := users.JoinOne(all, "ghosts", "userId", "id", "x", nil, false)
	if !errors.Is(err, repomap.ErrUnknownEntityType) {
		t.Errorf("expected ErrUnknownEntityType, got %v", err)
	}
}

func TestJoinMany(t *testing.T) {
	users, _, posts := joinFixture(t)

	all, err := users.Find(nil, repomap.Params{OrderBy: []criteria.Order{{Field: "id"}}})
	if err != nil {
		t.Fatalf("find users: %v", err)
	}

	joined, err := users.JoinMany(all, posts, "authorId", "id", "posts", nil,
		repomap.Params{OrderBy: []criteria.Order{{Field: "rank"}}}, false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	ann := joined[0]
	group, ok := ann.Property("posts").([]*repomap.Entity)
	if !ok {
		t.Fatalf("posts not attached: %#v", ann.Property("posts"))
	}
	if len(group) != 2 {
		t.Fatalf("expected 2 posts for Ann, got %d", len(group))
	}
	// OrderBy on the related side shapes group order.
	if group[0].Property("title") != "newer" || group[1].Property("title") != "older" {
		t.Errorf("group order not preserved: %v, %v", group[0].Properties(), group[1].Properties())
	}

	cid := joined[2]
	empty, ok := cid.Property("posts").([]*repomap.Entity)
	if !ok || len(empty) != 0 {
		t.Errorf("unmatched entity should carry an empty list, got %#v", cid.Property("posts"))
	}
}

func TestJoinManyExcludeUnmatched(t *testing.T) {
	users, _, posts := joinFixture(t)

	all, _ := users.Find(nil, repomap.Params{OrderBy: []criteria.Order{{Field: "id"}}})
	joined, err := users.JoinMany(all, posts, "authorId", "id", "posts", nil, repomap.Params{}, true)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(joined) != 2 {
		t.Errorf("expected users without posts dropped, got %d", len(joined))
	}
}

func TestJoinManyExtraCriteria(t *testing.T) {
	users, _, posts := joinFixture(t)

	all, _ := users.Find(nil, repomap.Params{OrderBy: []criteria.Order{{Field: "id"}}})
	joined, err := users.JoinMany(all, posts, "authorId", "id", "posts",
		map[string]any{"rank:lte": 2}, repomap.Params{}, false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	ben := joined[1]
	group := ben.Property("posts").([]*repomap.Entity)
	if len(group) != 0 {
		t.Errorf("extra criteria should filter Ben's high-rank post, got %v", group)
	}
}

func TestJoinEmptyInput(t *testing.T) {
	users, profiles, _ := joinFixture(t)

	joined, err := users.JoinOne(nil, profiles, "userId", "id", "profile", nil, false)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if len(joined) != 0 {
		t.Errorf("joining nothing yields nothing, got %v", joined)
	}
}
