// Package diff classifies a proposed question set against the persisted one.
// The classification decides whether previously submitted forms survive a
// template edit: content changes invalidate the answers given against the
// old questions, pure reordering does not.
package diff

import "formhub/api/internal/store"

// Change is the outcome of comparing a proposed question set with the
// persisted set.
type Change int

const (
	// Unchanged: same questions, same content, same sequence.
	Unchanged Change = iota
	// Reordered: same questions with identical content, different sequence.
	// Safe to apply in place.
	Reordered
	// ContentChanged: questions were added, removed, or edited. Dependent
	// forms and answers must be purged.
	ContentChanged
)

func (c Change) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Reordered:
		return "reordered"
	default:
		return "contentChanged"
	}
}

// Classify compares the proposed questions against the existing set.
// Proposed questions without an ID are new, which always counts as a content
// change, as does any existing question missing from the proposal. Matching
// consumes IDs, so a proposal that repeats one ID cannot mask the deletion
// of another.
func Classify(proposed, existing []store.Question) Change {
	if len(proposed) != len(existing) {
		return ContentChanged
	}

	byID := make(map[string]store.Question, len(existing))
	for _, q := range existing {
		byID[q.ID] = q
	}

	for _, p := range proposed {
		if p.ID == "" {
			return ContentChanged
		}
		current, ok := byID[p.ID]
		if !ok {
			return ContentChanged
		}
		delete(byID, p.ID)
		if p.Type != current.Type ||
			p.Title != current.Title ||
			p.Description != current.Description ||
			p.Required != current.Required ||
			p.ShowInResults != current.ShowInResults {
			return ContentChanged
		}
	}

	for i, p := range proposed {
		if p.ID != existing[i].ID {
			return Reordered
		}
	}
	return Unchanged
}
