// Package exportimport implements the JSON export/import round-trip: a
// full database dump and a restore path that preserves tag sets,
// relations, and counters modulo ids and embedding recomputation. YAML is
// offered as an additional export-only format.
package exportimport

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agenr/memory/internal/storage/sqlite"
	"github.com/agenr/memory/internal/types"
)

const documentVersion = 1

// SourceDoc mirrors the wire format's "source" object.
type SourceDoc struct {
	File    string `json:"file,omitempty" yaml:"file,omitempty"`
	Context string `json:"context,omitempty" yaml:"context,omitempty"`
}

// EntryDoc is the on-disk representation of one entry, the wire format
// extended with the stored-entry fields.
type EntryDoc struct {
	ID           string   `json:"id" yaml:"id"`
	Type         string   `json:"type" yaml:"type"`
	Subject      string   `json:"subject" yaml:"subject"`
	Content      string   `json:"content" yaml:"content"`
	CanonicalKey *string  `json:"canonical_key,omitempty" yaml:"canonical_key,omitempty"`
	SubjectKey   *string  `json:"subject_key,omitempty" yaml:"subject_key,omitempty"`
	Importance   int      `json:"importance" yaml:"importance"`
	Expiry       string   `json:"expiry" yaml:"expiry"`
	Scope        string   `json:"scope,omitempty" yaml:"scope,omitempty"`
	Platform     *string  `json:"platform,omitempty" yaml:"platform,omitempty"`
	Project      *string  `json:"project,omitempty" yaml:"project,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Source       *SourceDoc `json:"source,omitempty" yaml:"source,omitempty"`
	ContentHash  string   `json:"content_hash" yaml:"content_hash"`

	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"updated_at"`
	LastRecalledAt *time.Time `json:"last_recalled_at,omitempty" yaml:"last_recalled_at,omitempty"`

	RecallCount     int     `json:"recall_count" yaml:"recall_count"`
	Confirmations   int     `json:"confirmations" yaml:"confirmations"`
	Contradictions  int     `json:"contradictions" yaml:"contradictions"`
	RecallIntervals []int64 `json:"recall_intervals,omitempty" yaml:"recall_intervals,omitempty"`

	SupersededBy       *string  `json:"superseded_by,omitempty" yaml:"superseded_by,omitempty"`
	Retired            bool     `json:"retired" yaml:"retired"`
	RetiredAt          *time.Time `json:"retired_at,omitempty" yaml:"retired_at,omitempty"`
	RetiredReason      *string  `json:"retired_reason,omitempty" yaml:"retired_reason,omitempty"`
	SuppressedContexts []string `json:"suppressed_contexts,omitempty" yaml:"suppressed_contexts,omitempty"`
}

// RelationDoc is one directed edge between two entries, referenced by id.
type RelationDoc struct {
	SourceID     string    `json:"source_id" yaml:"source_id"`
	TargetID     string    `json:"target_id" yaml:"target_id"`
	RelationType string    `json:"relation_type" yaml:"relation_type"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// Document is the full export payload.
type Document struct {
	Version    int           `json:"version" yaml:"version"`
	ExportedAt time.Time     `json:"exported_at" yaml:"exported_at"`
	Entries    []EntryDoc    `json:"entries" yaml:"entries"`
	Relations  []RelationDoc `json:"relations" yaml:"relations"`
}

// Build reads every entry and relation out of db and assembles a Document
// with ids intact. Embeddings are not part of the Document, and Import
// leaves them nil.
func Build(ctx context.Context, db *sqlite.DB, now time.Time) (Document, error) {
	entries, err := db.AllEntries(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("exportimport: load entries: %w", err)
	}
	relations, err := db.AllRelations(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("exportimport: load relations: %w", err)
	}

	doc := Document{Version: documentVersion, ExportedAt: now.UTC()}
	for _, e := range entries {
		tags, err := db.GetTags(ctx, e.ID)
		if err != nil {
			return Document{}, fmt.Errorf("exportimport: load tags for %s: %w", e.ID, err)
		}
		doc.Entries = append(doc.Entries, toEntryDoc(e, tags))
	}
	for _, r := range relations {
		doc.Relations = append(doc.Relations, RelationDoc{
			SourceID: r.SourceID, TargetID: r.TargetID,
			RelationType: string(r.RelationType), CreatedAt: r.CreatedAt,
		})
	}
	return doc, nil
}

func toEntryDoc(e *types.Entry, tags []string) EntryDoc {
	d := EntryDoc{
		ID: e.ID, Type: string(e.Type), Subject: e.Subject, Content: e.Content,
		CanonicalKey: e.CanonicalKey, SubjectKey: e.SubjectKey,
		Importance: e.Importance, Expiry: string(e.Expiry), Scope: string(e.Scope),
		Platform: e.Platform, Project: e.Project, Tags: tags, ContentHash: e.ContentHash,
		CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt, LastRecalledAt: e.LastRecalledAt,
		RecallCount: e.RecallCount, Confirmations: e.Confirmations, Contradictions: e.Contradictions,
		RecallIntervals: e.RecallIntervals,
		SupersededBy:    e.SupersededBy, Retired: e.Retired, RetiredAt: e.RetiredAt,
		RetiredReason: e.RetiredReason, SuppressedContexts: e.SuppressedContexts,
	}
	if e.SourceFile != nil || e.SourceContext != nil {
		src := &SourceDoc{}
		if e.SourceFile != nil {
			src.File = *e.SourceFile
		}
		if e.SourceContext != nil {
			src.Context = *e.SourceContext
		}
		d.Source = src
	}
	return d
}

func (d EntryDoc) toEntry() *types.Entry {
	e := &types.Entry{
		ID: d.ID, Type: types.EntryType(d.Type), Subject: d.Subject, Content: d.Content,
		CanonicalKey: d.CanonicalKey, SubjectKey: d.SubjectKey,
		Importance: d.Importance, Expiry: types.Expiry(d.Expiry), Scope: types.Scope(d.Scope),
		Platform: d.Platform, Project: d.Project, Tags: d.Tags, ContentHash: d.ContentHash,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt, LastRecalledAt: d.LastRecalledAt,
		RecallCount: d.RecallCount, Confirmations: d.Confirmations, Contradictions: d.Contradictions,
		RecallIntervals: d.RecallIntervals,
		SupersededBy:    d.SupersededBy, Retired: d.Retired, RetiredAt: d.RetiredAt,
		RetiredReason: d.RetiredReason, SuppressedContexts: d.SuppressedContexts,
	}
	if d.Source != nil {
		if d.Source.File != "" {
			f := d.Source.File
			e.SourceFile = &f
		}
		if d.Source.Context != "" {
			c := d.Source.Context
			e.SourceContext = &c
		}
	}
	return e
}

// ToEntries converts the document's entries back into domain objects, in
// export order (oldest created_at first), so re-insertion via
// InsertEntry/InsertRelation preserves relation referential order.
func (d Document) ToEntries() []*types.Entry {
	out := make([]*types.Entry, 0, len(d.Entries))
	for _, ed := range d.Entries {
		out = append(out, ed.toEntry())
	}
	return out
}

// ExportJSON marshals doc as indented JSON.
func ExportJSON(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// ExportYAML marshals doc as YAML, an additional export format alongside
// JSON (JSON remains the round-trip source of truth).
func ExportYAML(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// Import restores doc into db within a single transaction: every entry is
// inserted with its original id, tags, lifecycle flags, and counters
// intact (embeddings are left nil; a caller re-embeds separately), then
// every relation is re-created. Entries are inserted in the document's
// order so a relation's endpoints already exist by the time it's created.
func Import(ctx context.Context, db *sqlite.DB, doc Document) (int, error) {
	entries := doc.ToEntries()
	relations := doc.ToRelations()

	n := 0
	err := db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		for i, e := range entries {
			if err := sqlite.InsertEntry(ctx, conn, e, e.UpdatedAt); err != nil {
				return fmt.Errorf("exportimport: insert entry %s: %w", e.ID, err)
			}
			if err := sqlite.InsertTags(ctx, conn, e.ID, doc.Entries[i].Tags); err != nil {
				return fmt.Errorf("exportimport: insert tags for %s: %w", e.ID, err)
			}
			n++
		}
		for _, r := range relations {
			if err := sqlite.InsertRelation(ctx, conn, r); err != nil {
				return fmt.Errorf("exportimport: insert relation %s->%s: %w", r.SourceID, r.TargetID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ParseJSON decodes a JSON export document.
func ParseJSON(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("exportimport: decode json: %w", err)
	}
	return doc, nil
}

// ToRelations converts the document's relations back into domain objects.
func (d Document) ToRelations() []types.Relation {
	out := make([]types.Relation, 0, len(d.Relations))
	for _, rd := range d.Relations {
		out = append(out, types.Relation{
			SourceID: rd.SourceID, TargetID: rd.TargetID,
			RelationType: types.RelationType(rd.RelationType), CreatedAt: rd.CreatedAt,
		})
	}
	return out
}
