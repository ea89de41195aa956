package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/Veraticus/milo/internal/llm"
	"github.com/Veraticus/milo/internal/model"
)

// MockExtractor is a test implementation of the Extractor interface.
// Outcomes are looked up by attachment URL; unknown URLs fail.
type MockExtractor struct {
	Outcomes map[string]llm.Extraction
	Comment  string
	calls    []llm.ImageRef
	mu       sync.Mutex
}

// NewMockExtractor creates a mock extractor with no scripted outcomes.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{Outcomes: make(map[string]llm.Extraction), Comment: "Not a receipt."}
}

// ExtractAmount returns the scripted outcome for ref.URL.
func (m *MockExtractor) ExtractAmount(_ context.Context, ref llm.ImageRef) llm.Extraction {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, ref)
	if outcome, ok := m.Outcomes[ref.URL]; ok {
		return outcome
	}
	return llm.Failed("no scripted outcome")
}

// ExtractComment returns the fixed comment.
func (m *MockExtractor) ExtractComment(_ context.Context, _ llm.ImageRef) string {
	return m.Comment
}

// Calls returns how many extractions were requested.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockAnalyzer is a test implementation of the Analyzer interface.
// Intents are looked up by message text; unknown text is silent chat.
type MockAnalyzer struct {
	Intents   map[string]llm.Intent
	Requests  []string
	Histories [][]model.Message
	mu        sync.Mutex
}

// NewMockAnalyzer creates a mock analyzer with no scripted intents.
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{Intents: make(map[string]llm.Intent)}
}

// Analyze returns the scripted intent for text.
func (m *MockAnalyzer) Analyze(_ context.Context, text string, history []model.Message) llm.Intent {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, text)
	m.Histories = append(m.Histories, history)
	if intent, ok := m.Intents[text]; ok {
		return intent
	}
	return llm.Intent{Kind: llm.IntentChat}
}

// RecordingSink captures emitted events. Set Err to make every call fail.
type RecordingSink struct {
	Err      error
	Recorded []ReceiptRecorded
	Replies  []Reply
	Notices  []ReconcileResult
	mu       sync.Mutex
}

// ReceiptRecorded implements EventSink.
func (s *RecordingSink) ReceiptRecorded(_ context.Context, event ReceiptRecorded) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Recorded = append(s.Recorded, event)
	return nil
}

// Reply implements EventSink.
func (s *RecordingSink) Reply(_ context.Context, reply Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Replies = append(s.Replies, reply)
	return nil
}

// BacklogCompleted implements EventSink.
func (s *RecordingSink) BacklogCompleted(_ context.Context, _ string, result ReconcileResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Notices = append(s.Notices, result)
	return nil
}

// MockMessageSource serves messages from memory.
type MockMessageSource struct {
	Err      error
	messages map[string][]model.Message
	Fetches  int
	mu       sync.Mutex
}

// NewMockMessageSource creates an empty source.
func NewMockMessageSource() *MockMessageSource {
	return &MockMessageSource{messages: make(map[string][]model.Message)}
}

// Add stores messages for their channels.
func (s *MockMessageSource) Add(messages ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		s.messages[m.ChannelID] = append(s.messages[m.ChannelID], m)
	}
	for channel := range s.messages {
		list := s.messages[channel]
		sort.SliceStable(list, func(i, j int) bool { return list[i].ID.Compare(list[j].ID) < 0 })
	}
}

// FetchMessagesAfter returns up to limit messages newer than after. With no
// marker it returns the newest limit messages.
func (s *MockMessageSource) FetchMessagesAfter(_ context.Context, channelID string, after model.Marker, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fetches++
	if s.Err != nil {
		return nil, s.Err
	}

	all := s.messages[channelID]
	if after.IsZero() {
		if len(all) > limit {
			all = all[len(all)-limit:]
		}
		return append([]model.Message(nil), all...), nil
	}

	var out []model.Message
	for _, m := range all {
		if m.ID.After(after) {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// FetchMessagesBefore returns up to limit messages older than before.
func (s *MockMessageSource) FetchMessagesBefore(_ context.Context, channelID string, before model.Marker, limit int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}

	var out []model.Message
	for _, m := range s.messages[channelID] {
		if before.After(m.ID) {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
