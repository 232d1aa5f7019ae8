package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/feedforward/feedforward/internal/types"
)

// fileRecord is one line of a JSONL conversation export. Pre-classified
// exports may carry the theme descriptor inline, which lets the file source
// double as classifier and theme extractor for offline runs.
type fileRecord struct {
	types.ClassifiedConversation
	IssueDescriptor string `json:"issue_descriptor,omitempty"`
}

// FileSource reads conversations from a JSONL export file. It implements
// ConversationSource, and for pre-classified exports also Classifier and
// ThemeExtractor, so a run can execute without any upstream API.
type FileSource struct {
	path     string
	pageSize int

	mu      sync.Mutex
	loaded  bool
	records []fileRecord
	themes  map[string]string
}

// NewFileSource creates a source reading from a JSONL file. Each line is one
// conversation object; blank lines are skipped.
func NewFileSource(path string, pageSize int) *FileSource {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &FileSource{path: path, pageSize: pageSize}
}

func (f *FileSource) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loaded {
		return nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	f.themes = make(map[string]string)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return fmt.Errorf("invalid conversation on line %d: %w", line, err)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("invalid conversation on line %d: %w", line, err)
		}
		f.records = append(f.records, rec)
		if rec.IssueDescriptor != "" {
			f.themes[rec.ID] = rec.IssueDescriptor
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read conversation file: %w", err)
	}

	f.loaded = true
	return nil
}

// FetchPage returns the next page of conversations created at or after since.
// Conversations without a created_at timestamp always pass the filter.
func (f *FileSource) FetchPage(_ context.Context, since time.Time, page int) ([]*types.ClassifiedConversation, bool, error) {
	if err := f.load(); err != nil {
		return nil, false, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var matching []*types.ClassifiedConversation
	for i := range f.records {
		conv := f.records[i].ClassifiedConversation
		if !conv.CreatedAt.IsZero() && conv.CreatedAt.Before(since) {
			continue
		}
		c := conv
		matching = append(matching, &c)
	}

	start := page * f.pageSize
	if start >= len(matching) {
		return nil, false, nil
	}
	end := start + f.pageSize
	if end > len(matching) {
		end = len(matching)
	}
	return matching[start:end], end < len(matching), nil
}

// Classify passes a pre-classified conversation through unchanged. Records
// with no product area are treated as irrelevant and skipped.
func (f *FileSource) Classify(_ context.Context, conv *types.ClassifiedConversation) (*types.ClassifiedConversation, error) {
	if conv.ProductArea == "" {
		return nil, nil
	}
	return conv, nil
}

// ExtractTheme returns the inline theme descriptor for a conversation,
// falling back to the component name when the export carried none.
func (f *FileSource) ExtractTheme(_ context.Context, conv *types.ClassifiedConversation) (*types.ExtractedTheme, error) {
	f.mu.Lock()
	descriptor := f.themes[conv.ID]
	f.mu.Unlock()
	if descriptor == "" {
		descriptor = conv.Component
	}
	return &types.ExtractedTheme{
		ConversationID:  conv.ID,
		ProductArea:     conv.ProductArea,
		Component:       conv.Component,
		IssueDescriptor: descriptor,
	}, nil
}
