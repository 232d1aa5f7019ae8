package types

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies where a conversation originated
type Source string

const (
	SourceIntercom Source = "intercom"
	SourceCoda     Source = "coda"
)

// IsValid checks if the source value is valid
func (s Source) IsValid() bool {
	switch s {
	case SourceIntercom, SourceCoda:
		return true
	}
	return false
}

// ClassifiedConversation is a customer conversation that has already been
// fetched and classified upstream. The pipeline consumes these as-is; it never
// talks to the Intercom/Coda wire formats directly.
type ClassifiedConversation struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	ProductArea string    `json:"product_area"`
	Component   string    `json:"component"`
	BodyExcerpt string    `json:"body_excerpt"`
	Source      Source    `json:"source"`
}

// Validate checks if the conversation has valid field values
func (c *ClassifiedConversation) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("conversation id is required")
	}
	if !c.Source.IsValid() {
		return fmt.Errorf("invalid conversation source: %s", c.Source)
	}
	return nil
}

// ExtractedTheme is the per-conversation theme extraction produced upstream.
// It feeds the signature registry.
type ExtractedTheme struct {
	ConversationID  string `json:"conversation_id"`
	ProductArea     string `json:"product_area"`
	Component       string `json:"component"`
	IssueDescriptor string `json:"issue_descriptor"`
}

// Validate checks if the theme has valid field values
func (t *ExtractedTheme) Validate() error {
	if strings.TrimSpace(t.ConversationID) == "" {
		return fmt.Errorf("conversation_id is required")
	}
	return nil
}

// Orphan is an issue cluster that has not yet accumulated enough evidence to
// become a Story. The row persists after graduation (graduated_at and story_id
// set) and acts as a forwarding pointer for signature reuse.
type Orphan struct {
	ID                int64          `json:"id"`
	Signature         string         `json:"signature"`
	OriginalSignature string         `json:"original_signature,omitempty"`
	ProductArea       string         `json:"product_area"`
	Component         string         `json:"component"`
	Title             string         `json:"title"`
	FirstSeenAt       time.Time      `json:"first_seen_at"`
	LastSeenAt        time.Time      `json:"last_seen_at"`
	ConversationIDs   []string       `json:"conversation_ids"`
	SourceStats       map[string]int `json:"source_stats"`
	GraduatedAt       *time.Time     `json:"graduated_at,omitempty"`
	StoryID           *string        `json:"story_id,omitempty"`
}

// Graduated reports whether the orphan has been promoted into a Story.
func (o *Orphan) Graduated() bool {
	return o.GraduatedAt != nil
}

// HasConversation reports whether the conversation id is already in the
// orphan's evidence set.
func (o *Orphan) HasConversation(conversationID string) bool {
	for _, id := range o.ConversationIDs {
		if id == conversationID {
			return true
		}
	}
	return false
}

// ConversationCount returns the number of distinct conversations attached.
func (o *Orphan) ConversationCount() int {
	return len(o.ConversationIDs)
}

// DistinctSources returns the number of distinct sources that contributed
// evidence to this orphan.
func (o *Orphan) DistinctSources() int {
	n := 0
	for _, count := range o.SourceStats {
		if count > 0 {
			n++
		}
	}
	return n
}

// OrphanDraft carries the fields needed to create a new orphan row.
// Timestamps and the id are assigned by storage.
type OrphanDraft struct {
	Signature   string
	ProductArea string
	Component   string
	Title       string
}

// Validate checks if the draft has valid field values
func (d *OrphanDraft) Validate() error {
	if strings.TrimSpace(d.Signature) == "" {
		return fmt.Errorf("signature is required")
	}
	if len(d.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(d.Title))
	}
	return nil
}

// StoryStatus represents the tracker-facing state of a story
type StoryStatus string

const (
	StoryStatusOpen       StoryStatus = "open"
	StoryStatusInProgress StoryStatus = "in_progress"
	StoryStatusClosed     StoryStatus = "closed"
)

// IsValid checks if the story status value is valid
func (s StoryStatus) IsValid() bool {
	switch s {
	case StoryStatusOpen, StoryStatusInProgress, StoryStatusClosed:
		return true
	}
	return false
}

// Story is a durable, user-facing unit of work created at graduation time.
// Its evidence only ever grows here; removals happen in the external tracker.
type Story struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	ProductArea string      `json:"product_area"`
	Status      StoryStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks if the story has valid field values
func (s *Story) Validate() error {
	if len(s.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(s.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(s.Title))
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid story status: %s", s.Status)
	}
	return nil
}

// Excerpt is one conversation's contribution to a story's evidence.
type Excerpt struct {
	ConversationID string `json:"conversation_id"`
	Source         Source `json:"source"`
	Text           string `json:"text"`
}

// EvidenceSnapshot is the accumulated evidence attached to a story.
// A conversation id appears at most once.
type EvidenceSnapshot struct {
	StoryID         string         `json:"story_id"`
	ConversationIDs []string       `json:"conversation_ids"`
	SourceStats     map[string]int `json:"source_stats"`
	Excerpts        []Excerpt      `json:"excerpts"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// EvidenceCount returns the number of distinct conversations in the snapshot.
func (e *EvidenceSnapshot) EvidenceCount() int {
	return len(e.ConversationIDs)
}

// HasConversation reports whether the conversation id is already present.
func (e *EvidenceSnapshot) HasConversation(conversationID string) bool {
	for _, id := range e.ConversationIDs {
		if id == conversationID {
			return true
		}
	}
	return false
}
