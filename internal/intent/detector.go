package intent

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/clock"
)

// DetectorConfig holds the detection pipeline's dependencies.
type DetectorConfig struct {
	Clock         clock.Clock
	Logger        *slog.Logger
	MinConfidence float64 // candidates below this are rejected; default 0.55
}

// DefaultMinConfidence is the detection threshold applied when the config
// leaves it zero.
const DefaultMinConfidence = 0.55

// Detector runs every registered matcher over a chunk and resolves the
// results into a non-overlapping, ordered set of intents.
type Detector struct {
	clock    clock.Clock
	logger   *slog.Logger
	matchers []Matcher

	// minConfidence is hot-reloadable and read by concurrent Detect calls.
	mu            sync.RWMutex
	minConfidence float64
}

// NewDetector builds the standard pipeline: reminder, note, notification,
// clipboard and shell-command matchers.
func NewDetector(cfg DetectorConfig) *Detector {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	ck := cfg.Clock
	if ck == nil {
		ck = clock.System{}
	}
	return &Detector{
		clock:         ck,
		logger:        logger,
		minConfidence: minConf,
		matchers: []Matcher{
			reminderMatcher{},
			noteMatcher{},
			notificationMatcher{},
			clipboardMatcher{},
			shellMatcher{},
		},
	}
}

// SetMinConfidence adjusts the detection threshold (hot reload path).
// Values outside (0, 1] are ignored.
func (d *Detector) SetMinConfidence(v float64) {
	if v > 0 && v <= 1 {
		d.mu.Lock()
		d.minConfidence = v
		d.mu.Unlock()
	}
}

// MinConfidence returns the current detection threshold.
func (d *Detector) MinConfidence() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.minConfidence
}

// Detect extracts intents from a UTF-8 text chunk. The result is ordered
// by the anchor span position in the input. Detection is deterministic
// given a fixed clock: the same chunk and metadata produce the same ids.
func (d *Detector) Detect(text string, meta Metadata) []Intent {
	if text == "" {
		return nil
	}
	now := d.clock.NowWall()

	var candidates []candidate
	for _, m := range d.matchers {
		candidates = append(candidates, d.runMatcher(m, text, meta, now)...)
	}

	accepted := resolveOverlaps(candidates)
	threshold := d.MinConfidence()

	var out []Intent
	for _, c := range accepted {
		if c.confidence < threshold {
			d.logger.Debug("intent below confidence threshold",
				"kind", c.kind, "confidence", c.confidence, "threshold", threshold)
			continue
		}
		out = append(out, Intent{
			ID:         intentID(c.kind, c.text, c.span),
			Kind:       c.kind,
			Text:       c.text,
			FireAt:     c.fireAt,
			Span:       c.span,
			Source:     meta.Source,
			Confidence: c.confidence,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out
}

// runMatcher isolates a single matcher: a panic is logged and the matcher
// is skipped for this chunk only.
func (d *Detector) runMatcher(m Matcher, text string, meta Metadata, now time.Time) (out []candidate) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("intent matcher panicked; skipping for this chunk",
				"matcher", m.Name(), "panic", r)
			out = nil
		}
	}()
	return m.Match(text, meta, now)
}

// resolveOverlaps picks a non-overlapping subset of candidates: highest
// confidence wins, ties broken by earlier span start, then kind priority.
func resolveOverlaps(cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].confidence != cands[j].confidence {
			return cands[i].confidence > cands[j].confidence
		}
		if cands[i].span.Start != cands[j].span.Start {
			return cands[i].span.Start < cands[j].span.Start
		}
		return kindPriority[cands[i].kind] < kindPriority[cands[j].kind]
	})

	var accepted []candidate
	for _, c := range cands {
		conflict := false
		for _, a := range accepted {
			if c.span.overlaps(a.span) {
				conflict = true
				break
			}
		}
		if !conflict {
			accepted = append(accepted, c)
		}
	}
	return accepted
}
