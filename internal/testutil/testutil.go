// Package testutil provides common test utilities and helpers for TourneyPipe tests:
// a scriptable chat platform, a manually advanced timer and HTTP assertions.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TourneyPipe/internal/models"
)

// Sent records one outgoing call made to a FakePlatform.
type Sent struct {
	Kind      string // "message", "choices", "private", "respond"
	ChannelID string
	UserID    string
	Message   models.OutgoingMessage
	Choices   *models.ChoicePrompt
	Ephemeral bool
}

// Text returns the visible text of the recorded call.
func (s Sent) Text() string {
	var parts []string
	msg := s.Message
	if s.Choices != nil {
		msg = s.Choices.Message
	}
	if msg.Content != "" {
		parts = append(parts, msg.Content)
	}
	if msg.Embed != nil {
		parts = append(parts, msg.Embed.Title, msg.Embed.Description)
	}
	return strings.Join(parts, " ")
}

var channelMention = regexp.MustCompile(`<#(\d+)>`)

// FakePlatform is an in-memory messaging platform. Outgoing calls are recorded and
// inbound events are injected by the test.
type FakePlatform struct {
	name       string
	components bool

	mu       sync.Mutex
	sent     []Sent
	channels map[string]models.Channel
	failSend error
	events   chan models.Event
}

// NewFakePlatform creates a platform that renders interactive components.
func NewFakePlatform() *FakePlatform {
	return &FakePlatform{
		name:       "fake",
		components: true,
		channels:   make(map[string]models.Channel),
		events:     make(chan models.Event, 64),
	}
}

// NewTextOnlyPlatform creates a platform that answers choices with text.
func NewTextOnlyPlatform() *FakePlatform {
	p := NewFakePlatform()
	p.components = false
	return p
}

// AddChannel makes a channel resolvable through mentions and lookups.
func (p *FakePlatform) AddChannel(ch models.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[ch.ID] = ch
}

// FailSends makes every outgoing call return err until reset with nil.
func (p *FakePlatform) FailSends(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failSend = err
}

// Sent returns a copy of the recorded outgoing calls.
func (p *FakePlatform) Sent() []Sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Sent(nil), p.sent...)
}

// LastChoices returns the most recent choice prompt.
func (p *FakePlatform) LastChoices() (models.ChoicePrompt, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.sent) - 1; i >= 0; i-- {
		if p.sent[i].Choices != nil {
			return *p.sent[i].Choices, true
		}
	}
	return models.ChoicePrompt{}, false
}

// Contains reports whether any recorded call shows text containing substr.
func (p *FakePlatform) Contains(substr string) bool {
	for _, s := range p.Sent() {
		if strings.Contains(s.Text(), substr) {
			return true
		}
	}
	return false
}

// Count returns the number of recorded calls whose text contains substr.
func (p *FakePlatform) Count(substr string) int {
	n := 0
	for _, s := range p.Sent() {
		if strings.Contains(s.Text(), substr) {
			n++
		}
	}
	return n
}

// Reset drops the recorded calls.
func (p *FakePlatform) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

func (p *FakePlatform) record(s Sent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend != nil {
		return p.failSend
	}
	p.sent = append(p.sent, s)
	return nil
}

// Emit queues an inbound event for a router started on this platform.
func (p *FakePlatform) Emit(evt models.Event) {
	p.events <- evt
}

func (p *FakePlatform) Name() string { return p.name }
func (p *FakePlatform) Start(ctx context.Context) error { return nil }
func (p *FakePlatform) Events() <-chan models.Event { return p.events }
func (p *FakePlatform) SupportsComponents() bool { return p.components }

func (p *FakePlatform) Stop() error {
	close(p.events)
	return nil
}

func (p *FakePlatform) SendMessage(ctx context.Context, channelID string, msg models.OutgoingMessage) error {
	return p.record(Sent{Kind: "message", ChannelID: channelID, Message: msg})
}

func (p *FakePlatform) SendChoices(ctx context.Context, channelID string, prompt models.ChoicePrompt) error {
	return p.record(Sent{Kind: "choices", ChannelID: channelID, Choices: &prompt})
}

func (p *FakePlatform) SendPrivate(ctx context.Context, userID string, msg models.OutgoingMessage) error {
	return p.record(Sent{Kind: "private", UserID: userID, Message: msg})
}

func (p *FakePlatform) SendTyping(ctx context.Context, channelID string) error { return nil }

func (p *FakePlatform) Respond(ctx context.Context, evt models.Event, msg models.OutgoingMessage, ephemeral bool) error {
	return p.record(Sent{Kind: "respond", ChannelID: evt.ChannelID, UserID: evt.UserID, Message: msg, Ephemeral: ephemeral})
}

func (p *FakePlatform) ResolveChannelMention(ctx context.Context, evt models.Event, text string) (models.Channel, bool) {
	m := channelMention.FindStringSubmatch(text)
	if m == nil {
		return models.Channel{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[m[1]]
	return ch, ok
}

func (p *FakePlatform) FetchChannel(ctx context.Context, channelID string) (models.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return models.Channel{}, fmt.Errorf("unknown channel %s", channelID)
	}
	return ch, nil
}

// ManualTimer implements models.Timer with a clock advanced by the test.
type ManualTimer struct {
	mu     sync.Mutex
	now    time.Duration
	nextID int
	timers map[string]manualEntry
}

type manualEntry struct {
	at  time.Duration
	seq int
	fn  func()
}

// NewManualTimer creates a timer at virtual time zero.
func NewManualTimer() *ManualTimer {
	return &ManualTimer{timers: make(map[string]manualEntry)}
}

// ScheduleAfter registers fn to run once Advance passes delay.
func (t *ManualTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("manual_%d", t.nextID)
	t.timers[id] = manualEntry{at: t.now + delay, seq: t.nextID, fn: fn}
	return id, nil
}

// Cancel removes a scheduled callback.
func (t *ManualTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.timers, id)
	return nil
}

// Pending returns the number of scheduled callbacks.
func (t *ManualTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// Advance moves the clock forward by d and runs every callback that became due,
// in deadline order, without holding the timer lock.
func (t *ManualTimer) Advance(d time.Duration) {
	t.mu.Lock()
	t.now += d
	now := t.now
	t.mu.Unlock()

	for {
		t.mu.Lock()
		var (
			dueID string
			due   manualEntry
		)
		ids := make([]string, 0, len(t.timers))
		for id := range t.timers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			e := t.timers[id]
			if e.at > now {
				continue
			}
			if dueID == "" || e.at < due.at || (e.at == due.at && e.seq < due.seq) {
				dueID, due = id, e
			}
		}
		if dueID != "" {
			delete(t.timers, dueID)
		}
		t.mu.Unlock()
		if dueID == "" {
			return
		}
		due.fn()
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}
