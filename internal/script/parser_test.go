package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseSpeakerLines(t *testing.T) {
	p := NewParser(nil)
	elements, warnings := p.ParseString("A: Hello there\nB: How are you?\n")
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if len(elements) != 2 {
		t.Fatalf("len(elements) = %d, want 2", len(elements))
	}
	if elements[0].Kind != KindSpeech || elements[0].Speaker != "A" || elements[0].Text != "Hello there" {
		t.Fatalf("elements[0] = %+v", elements[0])
	}
	if elements[1].Speaker != "B" || elements[1].Text != "How are you?" {
		t.Fatalf("elements[1] = %+v", elements[1])
	}
	if elements[0].Line != 1 || elements[1].Line != 2 {
		t.Fatalf("line numbers = %d, %d, want 1, 2", elements[0].Line, elements[1].Line)
	}
}

func TestParseFullWidthColon(t *testing.T) {
	p := NewParser(nil)
	elements, _ := p.ParseString("A： 안녕하세요\nB: 반갑습니다\n")
	if len(elements) != 2 {
		t.Fatalf("len(elements) = %d, want 2", len(elements))
	}
	if elements[0].Speaker != "A" || elements[0].Text != "안녕하세요" {
		t.Fatalf("elements[0] = %+v", elements[0])
	}
}

func TestParseHangulSpeakerName(t *testing.T) {
	p := NewParser(nil)
	elements, _ := p.ParseString("상담원: 무엇을 도와드릴까요?\n")
	if len(elements) != 1 {
		t.Fatalf("len(elements) = %d, want 1", len(elements))
	}
	if elements[0].Speaker != "상담원" {
		t.Fatalf("speaker = %q, want %q", elements[0].Speaker, "상담원")
	}
}

func TestParseSilenceDirective(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"400", 400 * time.Millisecond},
		{"400ms", 400 * time.Millisecond},
		{"1s", time.Second},
		{"1.5s", 1500 * time.Millisecond},
	}
	p := NewParser(nil)
	for _, tt := range tests {
		elements, warnings := p.ParseString("[silence=" + tt.value + "]\n")
		if len(warnings) != 0 {
			t.Fatalf("silence=%s: warnings = %v", tt.value, warnings)
		}
		if len(elements) != 1 || elements[0].Kind != KindSilence {
			t.Fatalf("silence=%s: elements = %+v", tt.value, elements)
		}
		if elements[0].Duration != tt.want {
			t.Fatalf("silence=%s: duration = %v, want %v", tt.value, elements[0].Duration, tt.want)
		}
	}
}

func TestParseInvalidSilenceFallsBack(t *testing.T) {
	p := NewParser(nil)
	elements, warnings := p.ParseString("[silence=soon]\n")
	if len(elements) != 1 {
		t.Fatalf("len(elements) = %d, want 1", len(elements))
	}
	if elements[0].Duration != 500*time.Millisecond {
		t.Fatalf("duration = %v, want 500ms fallback", elements[0].Duration)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one", warnings)
	}
}

func TestParseSFXDirective(t *testing.T) {
	p := NewParser(nil)
	elements, warnings := p.ParseString("[sfx=samples/ring.wav vol=-6 pan=+0.2]\n")
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if len(elements) != 1 {
		t.Fatalf("len(elements) = %d, want 1", len(elements))
	}
	el := elements[0]
	if el.Kind != KindSoundEffect || el.SFXPath != "samples/ring.wav" {
		t.Fatalf("element = %+v", el)
	}
	if el.SFXGainDB != -6 {
		t.Fatalf("gain = %v, want -6", el.SFXGainDB)
	}
	if el.SFXPan != 0.2 {
		t.Fatalf("pan = %v, want 0.2", el.SFXPan)
	}
}

func TestParseSFXPanClamped(t *testing.T) {
	p := NewParser(nil)
	elements, _ := p.ParseString("[sfx=ring.wav pan=-3.5]\n")
	if len(elements) != 1 {
		t.Fatalf("len(elements) = %d, want 1", len(elements))
	}
	if elements[0].SFXPan != -1 {
		t.Fatalf("pan = %v, want -1", elements[0].SFXPan)
	}
}

func TestParseSkipsCommentsAndBlankLines(t *testing.T) {
	p := NewParser(nil)
	in := "# This is a comment\n\nA: Hello\n  \n# Another comment\nB: Hi\n"
	elements, warnings := p.ParseString(in)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none", warnings)
	}
	if len(elements) != 2 {
		t.Fatalf("len(elements) = %d, want 2", len(elements))
	}
}

func TestParseSpeakerAliases(t *testing.T) {
	p := NewParser(map[string][]string{
		"A": {"화자A", "Agent"},
		"B": {"화자B", "Customer"},
	})
	in := "화자A: 안녕하세요\nAgent: How are you?\nCustomer: Fine, thanks\n화자B: 감사합니다\n"
	elements, _ := p.ParseString(in)
	if len(elements) != 4 {
		t.Fatalf("len(elements) = %d, want 4", len(elements))
	}
	want := []string{"A", "A", "B", "B"}
	for i, el := range elements {
		if el.Speaker != want[i] {
			t.Fatalf("elements[%d].Speaker = %q, want %q", i, el.Speaker, want[i])
		}
	}
}

func TestParseUnknownDirectiveWarns(t *testing.T) {
	p := NewParser(nil)
	elements, warnings := p.ParseString("[fade=300ms]\nA: Hello\n")
	if len(elements) != 1 {
		t.Fatalf("len(elements) = %d, want 1", len(elements))
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one", warnings)
	}
}

func TestParseUnrecognizedLineWarns(t *testing.T) {
	p := NewParser(nil)
	elements, warnings := p.ParseString("just some prose without a label\n")
	if len(elements) != 0 {
		t.Fatalf("elements = %+v, want none", elements)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want one", warnings)
	}
}

func TestSpeakers(t *testing.T) {
	p := NewParser(nil)
	elements, _ := p.ParseString("A: Hello\nB: Hi\nA: How are you?\n[silence=400]\nC: Great!\n")
	got := Speakers(elements)
	for _, s := range []string{"A", "B", "C"} {
		if _, ok := got[s]; !ok {
			t.Fatalf("Speakers() missing %q: %v", s, got)
		}
	}
	if len(got) != 3 {
		t.Fatalf("len(Speakers()) = %d, want 3", len(got))
	}
}

func TestParseFileWithBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dialog.txt")
	if err := os.WriteFile(path, []byte("\uFEFFA: Hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewParser(nil)
	elements, _, err := p.ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile() error: %v", err)
	}
	if len(elements) != 1 || elements[0].Speaker != "A" {
		t.Fatalf("elements = %+v", elements)
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Hello. How are you? I'm fine!", []string{"Hello.", "How are you?", "I'm fine!"}},
		{"안녕하세요. 어떻게 지내세요？ 저는 잘 지냅니다！", []string{"안녕하세요.", "어떻게 지내세요？", "저는 잘 지냅니다！"}},
		{"Well… I don't know. Maybe?", []string{"Well…", "I don't know.", "Maybe?"}},
		{"No terminal punctuation", []string{"No terminal punctuation"}},
		{"Wait...! Really?", []string{"Wait...!", "Really?"}},
	}
	for _, tt := range tests {
		got := SplitSentences(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("SplitSentences(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("SplitSentences(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  Hello   there\n\tworld  ")
	if got != "Hello there world" {
		t.Fatalf("NormalizeText() = %q, want %q", got, "Hello there world")
	}
}
