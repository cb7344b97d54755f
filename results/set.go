// Package results holds the working set of documents returned by one search.
package results

// Set is the ordered, id-unique list of documents from one search response,
// plus the stack id the backend issued for it.
type Set struct {
	stackID string
	docs    []Document
}

// NewSet drops duplicate ids, keeping the first occurrence and its position.
func NewSet(stackID string, docs []Document) *Set {
	seen := make(map[string]struct{}, len(docs))
	kept := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if _, ok := seen[doc.ID]; ok {
			continue
		}
		seen[doc.ID] = struct{}{}
		kept = append(kept, doc)
	}
	return &Set{stackID: stackID, docs: kept}
}

func (s *Set) StackID() string {
	if s == nil {
		return ""
	}
	return s.stackID
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.docs)
}

// Documents returns a copy of the current documents in display order.
func (s *Set) Documents() []Document {
	if s == nil {
		return nil
	}
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, len(s.docs))
	for i, d := range s.docs {
		ids[i] = d.ID
	}
	return ids
}

func (s *Set) Get(id string) (Document, bool) {
	if s == nil {
		return Document{}, false
	}
	for _, d := range s.docs {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

// Remove deletes id from the set and returns the removed document.
func (s *Set) Remove(id string) (Document, bool) {
	if s == nil {
		return Document{}, false
	}
	for i, d := range s.docs {
		if d.ID == id {
			s.docs = append(s.docs[:i], s.docs[i+1:]...)
			return d, true
		}
	}
	return Document{}, false
}

// Manager owns the current set. It is not safe for concurrent use; the
// recall session serialises access to it.
type Manager struct {
	current *Set
}

func NewManager() *Manager {
	return &Manager{current: NewSet("", nil)}
}

// Replace discards the previous set and installs a fresh one built from docs.
func (m *Manager) Replace(stackID string, docs []Document) *Set {
	m.current = NewSet(stackID, docs)
	return m.current
}

func (m *Manager) Remove(id string) (Document, bool) {
	return m.current.Remove(id)
}

func (m *Manager) Current() *Set {
	return m.current
}

// Clear drops the current set, leaving an empty one with no stack id.
func (m *Manager) Clear() {
	m.current = NewSet("", nil)
}
