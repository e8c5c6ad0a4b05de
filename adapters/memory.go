package adapters

import (
	"context"
	"sync"

	"github.com/myelnet/clipmesh/clip"
	"github.com/myelnet/clipmesh/ports"
)

// MemoryClipboard is an in-memory ports.ClipboardPort for demos and tests:
// Start/Stop are no-ops (there is no OS clipboard to poll), and local clips
// are only ever produced by calling Produce directly. Grounded on the
// teacher's small in-memory stand-ins for external systems (node/popn.go's
// own sQuote/lastRef cache fields) rather than any one file.
type MemoryClipboard struct {
	mu      sync.Mutex
	text    string
	subsMu  sync.Mutex
	subs    []func(clip.Clip)
	started bool
}

// NewMemoryClipboard builds an empty MemoryClipboard.
func NewMemoryClipboard() *MemoryClipboard { return &MemoryClipboard{} }

func (m *MemoryClipboard) ReadText(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *MemoryClipboard) WriteText(_ context.Context, text string) error {
	m.mu.Lock()
	m.text = text
	m.mu.Unlock()
	return nil
}

func (m *MemoryClipboard) OnLocalClip(cb func(clip.Clip)) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subs = append(m.subs, cb)
}

func (m *MemoryClipboard) Start(_ context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryClipboard) Stop() error {
	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	return nil
}

// Produce simulates a local clipboard change, writing text and notifying
// subscribers the way a real OS clipboard watcher would on a change event.
// If c.ID is empty, one is minted (a real OS clipboard watcher has no ID
// of its own to carry over).
func (m *MemoryClipboard) Produce(c clip.Clip) {
	if c.ID == "" {
		c.ID = clip.NewID()
	}

	m.mu.Lock()
	m.text = c.Content
	m.mu.Unlock()

	m.subsMu.Lock()
	subs := append([]func(clip.Clip){}, m.subs...)
	m.subsMu.Unlock()
	for _, cb := range subs {
		cb(c)
	}
}

var _ ports.ClipboardPort = (*MemoryClipboard)(nil)

// MemoryHistory is an in-memory ports.HistoryPort for demos and tests.
type MemoryHistory struct {
	mu     sync.Mutex
	clips  []clip.Clip
	byID   map[string]int
	subsMu sync.Mutex
	subs   []func(clip.Clip)
}

// NewMemoryHistory builds an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{byID: make(map[string]int)}
}

func (h *MemoryHistory) Add(_ context.Context, c clip.Clip, _ string, _ bool) error {
	h.mu.Lock()
	if idx, ok := h.byID[c.ID]; ok {
		h.clips[idx] = c
	} else {
		h.byID[c.ID] = len(h.clips)
		h.clips = append(h.clips, c)
	}
	h.mu.Unlock()

	h.subsMu.Lock()
	subs := append([]func(clip.Clip){}, h.subs...)
	h.subsMu.Unlock()
	for _, cb := range subs {
		cb(c)
	}
	return nil
}

func (h *MemoryHistory) Remove(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.byID[id]
	if !ok {
		return nil
	}
	h.clips = append(h.clips[:idx], h.clips[idx+1:]...)
	delete(h.byID, id)
	for id2, i := range h.byID {
		if i > idx {
			h.byID[id2] = i - 1
		}
	}
	return nil
}

func (h *MemoryHistory) ExportAll(_ context.Context) ([]clip.Clip, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]clip.Clip, len(h.clips))
	copy(out, h.clips)
	return out, nil
}

func (h *MemoryHistory) OnNew(cb func(clip.Clip)) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	h.subs = append(h.subs, cb)
}

var _ ports.HistoryPort = (*MemoryHistory)(nil)
