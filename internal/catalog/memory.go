package catalog

import (
	"context"
	"sort"
	"strings"
)

// MemorySource serves a fixed slice of puzzles ordered by ID.
type MemorySource struct {
	puzzles []Puzzle
}

func NewMemorySource(ps ...Puzzle) *MemorySource {
	cp := append([]Puzzle(nil), ps...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID < cp[j].ID })
	return &MemorySource{puzzles: cp}
}

func (m *MemorySource) match(q Query, p *Puzzle) bool {
	if q.ID != "" && p.ID != q.ID {
		return false
	}
	if q.HasRange && (p.Rating < q.Min || p.Rating > q.Max) {
		return false
	}
	if q.Theme != "" {
		found := false
		for _, t := range p.Themes {
			if strings.EqualFold(t, q.Theme) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *MemorySource) Count(_ context.Context, q Query) (int, error) {
	n := 0
	for i := range m.puzzles {
		if m.match(q, &m.puzzles[i]) {
			n++
		}
	}
	return n, nil
}

func (m *MemorySource) At(_ context.Context, q Query, offset int) (*Puzzle, error) {
	if offset < 0 {
		return nil, ErrNotFound
	}
	for i := range m.puzzles {
		if !m.match(q, &m.puzzles[i]) {
			continue
		}
		if offset == 0 {
			p := m.puzzles[i]
			p.Moves = append([]string(nil), p.Moves...)
			return &p, nil
		}
		offset--
	}
	return nil, ErrNotFound
}

func (m *MemorySource) Get(ctx context.Context, id string) (*Puzzle, error) {
	return m.At(ctx, Query{ID: strings.TrimSpace(id)}, 0)
}
