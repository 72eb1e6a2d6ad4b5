package intent_test

import (
	"sync"
	"testing"
	"time"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/clock"
	"github.com/peter-hollis-orkastrate/engram-sub001/internal/intent"
)

var detectNow = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.Local)

func newTestDetector(t *testing.T) *intent.Detector {
	t.Helper()
	return intent.NewDetector(intent.DetectorConfig{
		Clock: clock.NewFake(detectNow),
	})
}

func detectOne(t *testing.T, text string, want intent.Kind) intent.Intent {
	t.Helper()
	d := newTestDetector(t)
	got := d.Detect(text, intent.Metadata{Source: "test", CapturedAt: detectNow})
	if len(got) != 1 {
		t.Fatalf("Detect(%q) = %d intents, want 1", text, len(got))
	}
	if got[0].Kind != want {
		t.Fatalf("Detect(%q) kind = %s, want %s", text, got[0].Kind, want)
	}
	return got[0]
}

func TestDetectReminderWithTime(t *testing.T) {
	in := detectOne(t, "remind me to call mum at 5pm", intent.KindReminder)
	if in.FireAt == nil {
		t.Fatal("FireAt = nil, want parsed time")
	}
	want := time.Date(2026, time.March, 10, 17, 0, 0, 0, time.Local)
	if !in.FireAt.Equal(want) {
		t.Errorf("FireAt = %v, want %v", in.FireAt, want)
	}
	if in.Text != "call mum" {
		t.Errorf("Text = %q, want %q", in.Text, "call mum")
	}
}

func TestDetectReminderWithoutTime(t *testing.T) {
	in := detectOne(t, "don't forget to water the plants", intent.KindReminder)
	if in.FireAt != nil {
		t.Errorf("FireAt = %v, want nil", in.FireAt)
	}
	if in.Text != "water the plants" {
		t.Errorf("Text = %q", in.Text)
	}
}

func TestDetectNote(t *testing.T) {
	in := detectOne(t, "todo: refill the coffee order", intent.KindNote)
	if in.Text != "refill the coffee order" {
		t.Errorf("Text = %q", in.Text)
	}
}

func TestDetectNotification(t *testing.T) {
	detectOne(t, "notify me when the build finishes", intent.KindNotification)
}

func TestDetectClipboard(t *testing.T) {
	in := detectOne(t, "copy the staging URL to the clipboard", intent.KindClipboard)
	if in.Text != "the staging URL" {
		t.Errorf("Text = %q", in.Text)
	}
}

func TestDetectShellCommandConfidenceCapped(t *testing.T) {
	in := detectOne(t, "$ git push origin main", intent.KindShellCommand)
	if in.Confidence > 0.7 {
		t.Errorf("shell confidence = %v, want <= 0.7", in.Confidence)
	}
	if in.Text != "git push origin main" {
		t.Errorf("Text = %q", in.Text)
	}
}

func TestDetectShellIgnoresProseBackticks(t *testing.T) {
	d := newTestDetector(t)
	got := d.Detect("the word `maybe` is doing heavy lifting here", intent.Metadata{})
	for _, in := range got {
		if in.Kind == intent.KindShellCommand {
			t.Errorf("prose backticks detected as shell: %q", in.Text)
		}
	}
}

func TestDetectNothingInPlainText(t *testing.T) {
	d := newTestDetector(t)
	got := d.Detect("the weather was nice this morning", intent.Metadata{})
	if len(got) != 0 {
		t.Fatalf("Detect = %v, want none", got)
	}
}

func TestDetectThresholdFilters(t *testing.T) {
	d := intent.NewDetector(intent.DetectorConfig{
		Clock:         clock.NewFake(detectNow),
		MinConfidence: 0.99,
	})
	got := d.Detect("remind me to call mum at 5pm", intent.Metadata{})
	if len(got) != 0 {
		t.Fatalf("Detect above 0.99 threshold = %d intents, want 0", len(got))
	}

	d.SetMinConfidence(0.5)
	got = d.Detect("remind me to call mum at 5pm", intent.Metadata{})
	if len(got) != 1 {
		t.Fatalf("Detect after lowering threshold = %d intents, want 1", len(got))
	}
}

func TestDetectDeterministicIDs(t *testing.T) {
	d := newTestDetector(t)
	meta := intent.Metadata{Source: "ocr", CapturedAt: detectNow}
	a := d.Detect("remind me to submit the report tomorrow", meta)
	b := d.Detect("remind me to submit the report tomorrow", meta)
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("detections = %d/%d, want 1/1", len(a), len(b))
	}
	if a[0].ID != b[0].ID {
		t.Errorf("ids differ across runs: %s vs %s", a[0].ID, b[0].ID)
	}
}

func TestDetectMultipleNonOverlapping(t *testing.T) {
	d := newTestDetector(t)
	text := "todo: send invoices\nremind me to call mum at 5pm"
	got := d.Detect(text, intent.Metadata{})
	if len(got) != 2 {
		t.Fatalf("Detect = %d intents, want 2", len(got))
	}
	// Ordered by span position in the input.
	if got[0].Span.Start > got[1].Span.Start {
		t.Error("intents not ordered by span start")
	}
}

func TestDetectOverlapPicksHigherConfidence(t *testing.T) {
	// The explicit copy cue and the inline-code shell rule both hit this
	// chunk with overlapping spans; the stronger clipboard match survives.
	in := detectOne(t, "copy this: `ls -la`", intent.KindClipboard)
	if in.Text != "`ls -la`" {
		t.Errorf("Text = %q", in.Text)
	}
}

func TestDetectAppHintRaisesConfidence(t *testing.T) {
	d := newTestDetector(t)
	plain := d.Detect("$ rm -rf ./build", intent.Metadata{})
	hinted := d.Detect("$ rm -rf ./build", intent.Metadata{AppHint: "Terminal"})
	if len(plain) != 1 || len(hinted) != 1 {
		t.Fatalf("detections = %d/%d, want 1/1", len(plain), len(hinted))
	}
	if hinted[0].Confidence < plain[0].Confidence {
		t.Errorf("hinted confidence %v < plain %v", hinted[0].Confidence, plain[0].Confidence)
	}
	if hinted[0].Confidence > 0.7 {
		t.Errorf("shell confidence %v exceeds cap even with hint", hinted[0].Confidence)
	}
}

func TestDetectEmptyChunk(t *testing.T) {
	d := newTestDetector(t)
	if got := d.Detect("", intent.Metadata{}); got != nil {
		t.Fatalf("Detect(\"\") = %v, want nil", got)
	}
}

func TestSetMinConfidenceWhileDetecting(t *testing.T) {
	d := newTestDetector(t)
	meta := intent.Metadata{Source: "test", CapturedAt: detectNow}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.Detect("remind me to call mum at 5pm", meta)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			d.SetMinConfidence(0.5 + float64(i%5)/10)
		}
	}()
	wg.Wait()

	if got := d.MinConfidence(); got < 0.5 || got > 0.9 {
		t.Errorf("MinConfidence = %v after reloads", got)
	}
}

func TestSetMinConfidenceIgnoresOutOfRange(t *testing.T) {
	d := newTestDetector(t)
	before := d.MinConfidence()
	for _, v := range []float64{0, -1, 1.5} {
		d.SetMinConfidence(v)
	}
	if got := d.MinConfidence(); got != before {
		t.Errorf("MinConfidence = %v, want %v", got, before)
	}
}
