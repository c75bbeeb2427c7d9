package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxTemplates = "formhub_templates"

// Meili implements Searcher and indexing via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the template index.
// The caller proceeds with the PG fallback if Meilisearch is unreachable;
// the health loop picks it up when it comes back.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTemplates,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxTemplates, err)
	}

	index := m.client.Index(idxTemplates)
	filterable := []interface{}{"public", "authorId", "accessUserIds"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxTemplates, err)
	}
	searchable := []string{"title", "description", "questionText", "commentText", "topic", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxTemplates, err)
	}
	sortable := []string{"createdAt"}
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		log.Printf("search: update sortable attrs for %s: %v", idxTemplates, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// scopeFilter renders the visibility branch as a Meilisearch filter. The
// admin scope gets no filter at all.
func scopeFilter(q Query) []string {
	switch q.Scope {
	case ScopeAnonymous:
		return []string{"public = true"}
	case ScopeUser:
		return []string{fmt.Sprintf("public = true OR authorId = %q OR accessUserIds = %q", q.UserID, q.UserID)}
	default:
		return nil
	}
}

// Search queries the template index. Relevance ranking replaces the
// created-at ordering of the PG fallback.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := int64(q.Limit)
	if limit <= 0 {
		limit = 10
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filter := scopeFilter(q); filter != nil {
		sr.Filter = filter
	}

	resp, err := m.client.Index(idxTemplates).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

// IndexTemplate upserts one template record.
func (m *Meili) IndexTemplate(rec TemplateRecord) error {
	if _, err := m.client.Index(idxTemplates).AddDocuments([]TemplateRecord{rec}, nil); err != nil {
		return fmt.Errorf("index template %s: %w", rec.ID, err)
	}
	return nil
}

// IndexTemplates upserts records in bulk, used by reindexing.
func (m *Meili) IndexTemplates(records []TemplateRecord) error {
	if len(records) == 0 {
		return nil
	}
	if _, err := m.client.Index(idxTemplates).AddDocuments(records, nil); err != nil {
		return fmt.Errorf("index templates: %w", err)
	}
	return nil
}

// DeleteTemplates removes template records from the index.
func (m *Meili) DeleteTemplates(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := m.client.Index(idxTemplates).DeleteDocuments(ids, nil); err != nil {
		return fmt.Errorf("delete templates from index: %w", err)
	}
	return nil
}

func hitToResult(hit meili.Hit) Result {
	r := Result{}
	r.TemplateID = decodeString(hit, "id")
	r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	r.OwnerID = decodeString(hit, "authorId")
	if raw, ok := hit["public"]; ok {
		_ = json.Unmarshal(raw, &r.Public)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func decodeStringList(raw string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
