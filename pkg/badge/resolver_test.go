package badge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phpci/buildstatus/pkg/ci"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingStore struct {
	projectErr error
	buildErr   error
	project    *ci.Project
}

func (f failingStore) GetByID(context.Context, int) (*ci.Project, error) {
	return f.project, f.projectErr
}

func (f failingStore) GetWhere(context.Context, ci.BuildQuery) (ci.BuildList, error) {
	return ci.BuildList{}, f.buildErr
}

type memCache struct {
	items  map[string]Key
	getErr error
	sets   int
}

func (c *memCache) Get(_ context.Context, key string) (Key, bool, error) {
	if c.getErr != nil {
		return NoStatus, false, c.getErr
	}
	k, ok := c.items[key]
	return k, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value Key, _ time.Duration) error {
	c.sets++
	c.items[key] = value
	return nil
}

func newStore() *ci.MemStore {
	s := ci.NewMemStore()
	s.PutProject(ci.Project{ID: 1, AllowPublicStatus: true})
	s.PutProject(ci.Project{ID: 2, AllowPublicStatus: false})
	s.PutProject(ci.Project{ID: 3, AllowPublicStatus: true})
	return s
}

func TestResolveMapsLatestBuildStatus(t *testing.T) {
	cases := []struct {
		status ci.BuildStatus
		want   Key
	}{
		{ci.StatusPending, KeyPending},
		{ci.StatusRunning, KeyRunning},
		{ci.StatusSuccess, KeyPassing},
		{ci.StatusFailed, KeyFailed},
		{ci.BuildStatus(7), KeyError},
	}
	for _, tc := range cases {
		s := newStore()
		s.PutBuild(ci.Build{ID: 1, ProjectID: 1, Branch: "master", Status: ci.StatusFailed})
		s.PutBuild(ci.Build{ID: 2, ProjectID: 1, Branch: "master", Status: tc.status})
		r := NewResolver(s, s, discardLogger())

		key, ok := r.Resolve(context.Background(), Request{ProjectID: 1})
		if !ok || key != tc.want {
			t.Fatalf("status %d: got (%q, %v), want %q", tc.status, key, ok, tc.want)
		}
	}
}

func TestResolveBranchAndCommit(t *testing.T) {
	s := newStore()
	s.PutBuild(ci.Build{ID: 1, ProjectID: 1, Branch: "master", CommitID: "aaa", Status: ci.StatusSuccess})
	s.PutBuild(ci.Build{ID: 2, ProjectID: 1, Branch: "master", CommitID: "bbb", Status: ci.StatusFailed})
	s.PutBuild(ci.Build{ID: 3, ProjectID: 1, Branch: "develop", CommitID: "ccc", Status: ci.StatusRunning})
	r := NewResolver(s, s, discardLogger())
	ctx := context.Background()

	if key, _ := r.Resolve(ctx, Request{ProjectID: 1}); key != KeyFailed {
		t.Fatalf("default branch: got %q", key)
	}
	if key, _ := r.Resolve(ctx, Request{ProjectID: 1, CommitID: "aaa"}); key != KeyPassing {
		t.Fatalf("commit filter: got %q", key)
	}
	if key, _ := r.Resolve(ctx, Request{ProjectID: 1, Branch: "develop"}); key != KeyRunning {
		t.Fatalf("branch filter: got %q", key)
	}
	if key, _ := r.Resolve(ctx, Request{ProjectID: 1, Branch: "develop", CommitID: "aaa"}); key != KeyNew {
		t.Fatalf("mismatched commit: got %q", key)
	}

	custom := NewResolver(s, s, discardLogger(), WithDefaultBranch("develop"))
	if key, _ := custom.Resolve(ctx, Request{ProjectID: 1}); key != KeyRunning {
		t.Fatalf("custom default branch: got %q", key)
	}
}

func TestResolveNoBuilds(t *testing.T) {
	s := newStore()
	r := NewResolver(s, s, discardLogger())

	key, ok := r.Resolve(context.Background(), Request{ProjectID: 3})
	if !ok || key != KeyNew {
		t.Fatalf("expected new-lightgrey, got (%q, %v)", key, ok)
	}
}

func TestResolveHiddenProjects(t *testing.T) {
	s := newStore()
	s.PutBuild(ci.Build{ID: 1, ProjectID: 2, Branch: "master", Status: ci.StatusSuccess})
	r := NewResolver(s, s, discardLogger())

	for _, id := range []int{2, 404} {
		key, ok := r.Resolve(context.Background(), Request{ProjectID: id})
		if ok || key != NoStatus {
			t.Fatalf("project %d: expected no status, got (%q, %v)", id, key, ok)
		}
	}
}

func TestResolveSwallowsErrors(t *testing.T) {
	boom := errors.New("connection reset")
	stores := []failingStore{
		{projectErr: boom},
		{project: &ci.Project{ID: 1, AllowPublicStatus: true}, buildErr: boom},
	}
	for i, st := range stores {
		r := NewResolver(st, st, discardLogger())
		key, ok := r.Resolve(context.Background(), Request{ProjectID: 1})
		if !ok || key != KeyError {
			t.Fatalf("case %d: expected error-red, got (%q, %v)", i, key, ok)
		}
	}

	nilProject := failingStore{}
	r := NewResolver(nilProject, nilProject, discardLogger())
	if _, ok := r.Resolve(context.Background(), Request{ProjectID: 1}); ok {
		t.Fatalf("nil project should resolve to no status")
	}
}

func TestResolveUsesCache(t *testing.T) {
	s := newStore()
	s.PutBuild(ci.Build{ID: 1, ProjectID: 1, Branch: "master", Status: ci.StatusSuccess})
	cache := &memCache{items: map[string]Key{}}
	r := NewResolver(s, s, discardLogger(), WithCache(cache, time.Minute))
	ctx := context.Background()

	if key, _ := r.Resolve(ctx, Request{ProjectID: 1}); key != KeyPassing {
		t.Fatalf("first resolve: got %q", key)
	}
	if cache.items[cacheKey(Request{ProjectID: 1, Branch: "master"})] != KeyPassing {
		t.Fatalf("expected cached key, got %#v", cache.items)
	}

	s.PutBuild(ci.Build{ID: 2, ProjectID: 1, Branch: "master", Status: ci.StatusFailed})
	if key, _ := r.Resolve(ctx, Request{ProjectID: 1}); key != KeyPassing {
		t.Fatalf("expected cached passing key, got %q", key)
	}

	if _, ok := r.Resolve(ctx, Request{ProjectID: 2}); ok {
		t.Fatalf("hidden project should not resolve")
	}
	if _, found := cache.items[cacheKey(Request{ProjectID: 2, Branch: "master"})]; found {
		t.Fatalf("no status must not be cached")
	}
	if cache.sets != 1 {
		t.Fatalf("expected a single cache write, got %d", cache.sets)
	}
}

func TestResolveCacheFailureFallsBack(t *testing.T) {
	s := newStore()
	s.PutBuild(ci.Build{ID: 1, ProjectID: 1, Branch: "master", Status: ci.StatusRunning})
	cache := &memCache{items: map[string]Key{}, getErr: errors.New("redis down")}
	r := NewResolver(s, s, discardLogger(), WithCache(cache, time.Minute))

	if key, ok := r.Resolve(context.Background(), Request{ProjectID: 1}); !ok || key != KeyRunning {
		t.Fatalf("expected direct lookup, got (%q, %v)", key, ok)
	}
}

func TestResolveDoesNotCacheErrors(t *testing.T) {
	st := failingStore{project: &ci.Project{ID: 1, AllowPublicStatus: true}, buildErr: errors.New("timeout")}
	cache := &memCache{items: map[string]Key{}}
	r := NewResolver(st, st, discardLogger(), WithCache(cache, time.Minute))

	if key, _ := r.Resolve(context.Background(), Request{ProjectID: 1}); key != KeyError {
		t.Fatalf("expected error-red, got %q", key)
	}
	if cache.sets != 0 {
		t.Fatalf("error-red must not be cached")
	}
}

func TestResolveCacheHitRechecksVisibility(t *testing.T) {
	s := newStore()
	s.PutBuild(ci.Build{ID: 1, ProjectID: 1, Branch: "master", Status: ci.StatusSuccess})
	cache := &memCache{items: map[string]Key{}}
	r := NewResolver(s, s, discardLogger(), WithCache(cache, time.Minute))
	ctx := context.Background()

	if key, ok := r.Resolve(ctx, Request{ProjectID: 1}); !ok || key != KeyPassing {
		t.Fatalf("first resolve: got (%q, %v)", key, ok)
	}

	s.PutProject(ci.Project{ID: 1, AllowPublicStatus: false})
	if key, ok := r.Resolve(ctx, Request{ProjectID: 1}); ok || key != NoStatus {
		t.Fatalf("project made private must not be served from cache, got (%q, %v)", key, ok)
	}
}

func TestCacheKeyIsUnambiguous(t *testing.T) {
	a := cacheKey(Request{ProjectID: 1, Branch: "a:b", CommitID: "c"})
	b := cacheKey(Request{ProjectID: 1, Branch: "a", CommitID: "b:c"})
	if a == b {
		t.Fatalf("distinct requests share cache key %q", a)
	}

	s := newStore()
	s.PutBuild(ci.Build{ID: 1, ProjectID: 1, Branch: "a:b", CommitID: "c", Status: ci.StatusSuccess})
	s.PutBuild(ci.Build{ID: 2, ProjectID: 1, Branch: "a", CommitID: "b:c", Status: ci.StatusFailed})
	cache := &memCache{items: map[string]Key{}}
	r := NewResolver(s, s, discardLogger(), WithCache(cache, time.Minute))
	ctx := context.Background()

	if key, _ := r.Resolve(ctx, Request{ProjectID: 1, Branch: "a:b", CommitID: "c"}); key != KeyPassing {
		t.Fatalf("first branch: got %q", key)
	}
	if key, _ := r.Resolve(ctx, Request{ProjectID: 1, Branch: "a", CommitID: "b:c"}); key != KeyFailed {
		t.Fatalf("second branch must not reuse the first entry, got %q", key)
	}
}

func TestResolveProjectZeroIgnoresOtherProjects(t *testing.T) {
	s := ci.NewMemStore()
	s.PutProject(ci.Project{ID: 0, AllowPublicStatus: true})
	s.PutProject(ci.Project{ID: 5, AllowPublicStatus: false})
	s.PutBuild(ci.Build{ID: 1, ProjectID: 5, Branch: "master", Status: ci.StatusFailed})
	r := NewResolver(s, s, discardLogger())

	key, ok := r.Resolve(context.Background(), Request{ProjectID: 0})
	if !ok || key != KeyNew {
		t.Fatalf("expected new-lightgrey for project 0, got (%q, %v)", key, ok)
	}
}
