package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func fixture() *MemorySource {
	return NewMemorySource(
		Puzzle{ID: "a1", Rating: 900, Themes: []string{"fork", "short"}},
		Puzzle{ID: "a2", Rating: 1200, Themes: []string{"mateIn2", "mate"}},
		Puzzle{ID: "a3", Rating: 1450, Themes: []string{"mate", "mateIn1"}},
		Puzzle{ID: "a4", Rating: 1800, Themes: []string{"endgame"}},
		Puzzle{ID: "a5", Rating: 2300, Themes: []string{"mate"}},
	)
}

func TestQueryResolution(t *testing.T) {
	s := NewSelector(fixture(), Window{})
	if q := s.Query(Filter{ID: " a3 "}); q.ID != "a3" {
		t.Fatalf("id: %+v", q)
	}
	if q := s.Query(Filter{HasRange: true, Min: 1500, Max: 1000}); q.Min != 1000 || q.Max != 1500 {
		t.Fatalf("reversed bounds not swapped: %+v", q)
	}
	if q := s.Query(Filter{Rating: 1500}); q.Min != 1400 || q.Max != 1700 {
		t.Fatalf("default window: %+v", q)
	}
	if q := s.Query(Filter{Theme: "mate", Rating: 1500}); !q.HasRange || q.Min != 1350 || q.Max != 1800 {
		t.Fatalf("theme window: %+v", q)
	}
	if q := s.Query(Filter{Theme: "mate", Rating: 1500, IgnoreRating: true}); q.HasRange {
		t.Fatalf("ignore rating: %+v", q)
	}
	if q := s.Query(Filter{}); q != (Query{}) {
		t.Fatalf("unfiltered: %+v", q)
	}
}

func TestPickUsesCountThenOffset(t *testing.T) {
	s := NewSelector(fixture(), Window{})
	var asked int
	s.intn = func(n int) int {
		asked = n
		return n - 1
	}

	p, err := s.Pick(context.Background(), Filter{Theme: "mate", IgnoreRating: true})
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if asked != 3 || p.ID != "a5" {
		t.Fatalf("count=%d id=%s", asked, p.ID)
	}

	p, err = s.Pick(context.Background(), Filter{HasRange: true, Min: 1000, Max: 1500})
	if err != nil || (p.ID != "a2" && p.ID != "a3") {
		t.Fatalf("range pick: %v %v", p, err)
	}
}

func TestRepeatedPicksStayInRatingWindow(t *testing.T) {
	var ps []Puzzle
	for r := 600; r <= 2600; r += 25 {
		ps = append(ps, Puzzle{ID: fmt.Sprintf("p%d", r), Rating: r})
	}
	s := NewSelector(NewMemorySource(ps...), Window{})
	seen := map[string]bool{}
	for i := 0; i < 300; i++ {
		p, err := s.Pick(context.Background(), Filter{Rating: 1500})
		if err != nil {
			t.Fatalf("Pick: %v", err)
		}
		if p.Rating < 1400 || p.Rating > 1700 {
			t.Fatalf("pick %s rated %d outside [1400,1700]", p.ID, p.Rating)
		}
		seen[p.ID] = true
	}
	if len(seen) < 2 {
		t.Fatalf("picks never varied: %v", seen)
	}
}

func TestPickEmptyIsNotFound(t *testing.T) {
	s := NewSelector(fixture(), Window{})
	if _, err := s.Pick(context.Background(), Filter{HasRange: true, Min: 3000, Max: 3100}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := s.Pick(context.Background(), Filter{ID: "zz"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for id, got %v", err)
	}
}

type countingSource struct {
	Source
	counts int
}

func (c *countingSource) Count(ctx context.Context, q Query) (int, error) {
	c.counts++
	return c.Source.Count(ctx, q)
}

func TestCachedSourceCount(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := &countingSource{Source: fixture()}
	c := NewCachedSource(inner, rdb, 0)
	ctx := context.Background()
	q := Query{Theme: "mate"}
	for i := 0; i < 3; i++ {
		n, err := c.Count(ctx, q)
		if err != nil || n != 3 {
			t.Fatalf("Count: %d %v", n, err)
		}
	}
	if inner.counts != 1 {
		t.Fatalf("expected one backend count, got %d", inner.counts)
	}
	if ttl := mr.TTL(countKey(q)); ttl != CountTTL {
		t.Fatalf("ttl=%v", ttl)
	}

	// a stale count pointing past the set clears the entry
	if _, err := c.At(ctx, q, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if mr.Exists(countKey(q)) {
		t.Fatalf("cache entry should be dropped")
	}
}

func TestHumanizeAndThemeTag(t *testing.T) {
	cases := map[string]string{"mateIn2": "Mate in 2", "hangingPiece": "Hanging piece", "fork": "Fork"}
	for in, want := range cases {
		if got := Humanize(in); got != want {
			t.Fatalf("Humanize(%q)=%q want %q", in, got, want)
		}
	}
	if tag, ok := ThemeTag("Mate in two"); !ok || tag != "mateIn2" {
		t.Fatalf("ThemeTag display: %q %v", tag, ok)
	}
	if tag, ok := ThemeTag("ROOKENDGAME"); !ok || tag != "rookEndgame" {
		t.Fatalf("ThemeTag tag: %q %v", tag, ok)
	}
	if _, ok := ThemeTag("nonsense"); ok {
		t.Fatalf("unknown theme accepted")
	}
}

func TestWhereClause(t *testing.T) {
	w, args := where(Query{Theme: "mate", HasRange: true, Min: 1, Max: 2})
	want := " WHERE rating BETWEEN $1 AND $2 AND themes @> $3"
	if w != want || len(args) != 3 {
		t.Fatalf("where=%q args=%d", w, len(args))
	}
	if w, args := where(Query{}); w != "" || args != nil {
		t.Fatalf("empty where: %q %v", w, args)
	}
}
