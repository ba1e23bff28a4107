// Package types defines the domain model shared by every memory engine
// component: knowledge entries, tags, relations, and the small set of
// enums that gate their behavior.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// EntryType classifies the kind of knowledge an Entry holds.
type EntryType string

const (
	TypeFact       EntryType = "fact"
	TypeDecision   EntryType = "decision"
	TypePreference EntryType = "preference"
	TypeTodo       EntryType = "todo"
	TypeLesson     EntryType = "lesson"
	TypeEvent      EntryType = "event"
)

// Valid reports whether t is one of the recognized entry types.
func (t EntryType) Valid() bool {
	switch t {
	case TypeFact, TypeDecision, TypePreference, TypeTodo, TypeLesson, TypeEvent:
		return true
	}
	return false
}

// Expiry describes how long an Entry remains relevant.
type Expiry string

const (
	ExpiryCore        Expiry = "core"
	ExpiryPermanent    Expiry = "permanent"
	ExpiryTemporary    Expiry = "temporary"
	ExpirySessionOnly  Expiry = "session-only"
)

func (e Expiry) Valid() bool {
	switch e {
	case ExpiryCore, ExpiryPermanent, ExpiryTemporary, ExpirySessionOnly:
		return true
	}
	return false
}

// Scope describes the visibility/sharing boundary of an Entry.
type Scope string

const (
	ScopePrivate  Scope = "private"
	ScopePersonal Scope = "personal"
	ScopePublic   Scope = "public"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopePrivate, ScopePersonal, ScopePublic:
		return true
	}
	return false
}

// RelationType classifies a directed edge between two entries.
type RelationType string

const (
	RelationSupersedes RelationType = "supersedes"
	RelationContradicts RelationType = "contradicts"
	RelationElaborates  RelationType = "elaborates"
	RelationRelated     RelationType = "related"
)

func (r RelationType) Valid() bool {
	switch r {
	case RelationSupersedes, RelationContradicts, RelationElaborates, RelationRelated:
		return true
	}
	return false
}

// Resolution is the terminal state of a conflict_log row.
type Resolution string

const (
	ResolutionPending        Resolution = "pending"
	ResolutionAutoSuperseded Resolution = "auto-superseded"
	ResolutionCoexist        Resolution = "coexist"
	ResolutionKeepNew        Resolution = "keep-new"
	ResolutionKeepOld        Resolution = "keep-old"
	ResolutionKeepBoth       Resolution = "keep-both"
)

// Entry is a single unit of durable knowledge.
type Entry struct {
	ID           string
	Type         EntryType
	Subject      string
	Content      string
	CanonicalKey *string
	SubjectKey   *string

	Importance int
	Expiry     Expiry
	Scope      Scope

	Platform      *string
	Project       *string
	Tags          []string
	SourceFile    *string
	SourceContext *string

	Embedding   []float32
	ContentHash string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastRecalledAt *time.Time

	RecallCount    int
	Confirmations  int
	Contradictions int

	// RecallIntervals is an append-only sequence of unix-second timestamps
	// at which the entry was returned by a recall query.
	RecallIntervals []int64

	SupersededBy       *string
	Retired            bool
	RetiredAt          *time.Time
	RetiredReason      *string
	SuppressedContexts []string
}

// Active reports whether the entry is visible to default recall.
func (e *Entry) Active() bool {
	return e.SupersededBy == nil && !e.Retired
}

// NormalizedSubject returns the subject lowercased and trimmed, used for
// within-batch dedup keys and (subject, type, source_file) comparisons.
func (e *Entry) NormalizedSubject() string {
	return strings.ToLower(strings.TrimSpace(e.Subject))
}

// EmbedText composes the canonical string passed to the embedding provider:
// subject, type, and content concatenated with a stable separator so that
// an entry's embed text changes if and only if one of its three inputs does.
func (e *Entry) EmbedText() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(e.Subject))
	b.WriteString("\n")
	b.WriteString(string(e.Type))
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(e.Content))
	return b.String()
}

// ComputeContentHash derives the idempotency key from (source_file,
// content). Entries without a source file still hash consistently against
// the empty string so two sourceless entries with identical content still
// collide, matching the content-hash guard in the dedup classifier.
func (e *Entry) ComputeContentHash() string {
	h := sha256.New()
	if e.SourceFile != nil {
		h.Write([]byte(*e.SourceFile))
	}
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(e.Content)))
	return hex.EncodeToString(h.Sum(nil))
}

// CleanTags lowercases, trims, and dedupes a tag set, preserving first-seen
// order.
func CleanTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Tag is a denormalized (entry_id, tag) pair, as stored.
type Tag struct {
	EntryID string
	Tag     string
}

// Relation is a directed edge between two entries.
type Relation struct {
	SourceID     string
	TargetID     string
	RelationType RelationType
	CreatedAt    time.Time
}

// IngestLog is one row per batch ingestion.
type IngestLog struct {
	ID          string
	FilePath    string
	ContentHash string
	IngestedAt  time.Time
	Added       int
	Updated     int
	Skipped     int
	DurationMS  int64
}

// ConflictLogEntry records one LLM conflict classification outcome.
type ConflictLogEntry struct {
	ID         string
	EntryA     string
	EntryB     string
	Relation   RelationType
	Confidence float64
	Resolution Resolution
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// SignalWatermark tracks the last entries.rowid surfaced to a consumer.
type SignalWatermark struct {
	Consumer string
	Rowid    int64
}

// TranscriptMessage is one parsed line of a transcript, produced by an
// adapter layer outside the engine's scope.
type TranscriptMessage struct {
	Index      int
	Role       string
	Content    string
	Timestamp  time.Time
	SourceFile string
}
