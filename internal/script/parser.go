// Package script parses dialog scripts: "Speaker: text" speech lines mixed
// with bracketed control directives like [silence=400ms] and [sfx=door.wav].
// Directives are timeline instructions and are never sent to speech synthesis.
package script

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindSpeech      Kind = "speech"
	KindSilence     Kind = "silence"
	KindSoundEffect Kind = "sfx"
)

// Element is a single entry in the parsed timeline.
type Element struct {
	Line int
	Kind Kind

	// Speech fields.
	Speaker string
	Text    string

	// Silence fields.
	Duration time.Duration

	// Sound effect fields.
	SFXPath   string
	SFXGainDB float64
	SFXPan    float64
}

// Warning records a non-fatal problem found while parsing.
type Warning struct {
	Line    int
	Message string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Message)
}

const defaultSilence = 500 * time.Millisecond

var (
	// Speaker labels allow word characters, hyphens, spaces and Hangul, and
	// accept both the ASCII colon and the full-width colon used in Korean text.
	speakerRe   = regexp.MustCompile(`^([\w\-\s가-힣]+)\s*[:：]\s*(.*)$`)
	directiveRe = regexp.MustCompile(`^\[(.+?)\]$`)
)

// Parser turns script text into timeline elements. Aliases map alternate
// speaker labels to canonical speaker keys.
type Parser struct {
	aliases map[string]string
}

// NewParser builds a parser. aliases maps canonical speaker keys to the
// alternate labels that should resolve to them.
func NewParser(aliases map[string][]string) *Parser {
	lookup := make(map[string]string)
	for canonical, names := range aliases {
		for _, name := range names {
			lookup[strings.TrimSpace(name)] = canonical
		}
	}
	return &Parser{aliases: lookup}
}

// ParseFile reads and parses a script file. A UTF-8 BOM is tolerated.
func (p *Parser) ParseFile(path string) ([]Element, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close()
	return p.Parse(f)
}

// ParseString parses script text held in memory.
func (p *Parser) ParseString(text string) ([]Element, []Warning) {
	elements, warnings, _ := p.Parse(strings.NewReader(text))
	return elements, warnings
}

// Parse reads the script line by line. Unrecognized lines produce warnings,
// never errors; a malformed line must not abort a long synthesis run.
func (p *Parser) Parse(r io.Reader) ([]Element, []Warning, error) {
	var (
		elements []Element
		warnings []Warning
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\uFEFF")
		}
		line = strings.TrimSpace(line)

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := directiveRe.FindStringSubmatch(line); m != nil {
			el, warns := p.parseDirective(lineNo, m[1])
			warnings = append(warnings, warns...)
			if el != nil {
				elements = append(elements, *el)
			}
			continue
		}

		if m := speakerRe.FindStringSubmatch(line); m != nil {
			speaker := strings.TrimSpace(m[1])
			text := strings.TrimSpace(m[2])
			if text == "" {
				continue
			}
			if canonical, ok := p.aliases[speaker]; ok {
				speaker = canonical
			}
			elements = append(elements, Element{
				Line:    lineNo,
				Kind:    KindSpeech,
				Speaker: speaker,
				Text:    text,
			})
			continue
		}

		warnings = append(warnings, Warning{Line: lineNo, Message: fmt.Sprintf("unrecognized line: %s", truncate(line, 50))})
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("read script: %w", err)
	}
	return elements, warnings, nil
}

// parseDirective handles the content between brackets: the first token is
// "type=value", the rest are optional "key=value" parameters.
func (p *Parser) parseDirective(line int, content string) (*Element, []Warning) {
	parts := strings.Fields(strings.TrimSpace(content))
	if len(parts) == 0 {
		return nil, []Warning{{Line: line, Message: "empty directive"}}
	}

	key, value, ok := strings.Cut(parts[0], "=")
	if !ok {
		return nil, []Warning{{Line: line, Message: fmt.Sprintf("directive %q has no value", parts[0])}}
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)

	switch key {
	case "silence":
		d, warn := parseDuration(line, value)
		var warns []Warning
		if warn != nil {
			warns = append(warns, *warn)
		}
		return &Element{Line: line, Kind: KindSilence, Duration: d}, warns
	case "sfx":
		return p.parseSFX(line, value, parts[1:])
	default:
		return nil, []Warning{{Line: line, Message: fmt.Sprintf("unknown directive %q", key)}}
	}
}

func (p *Parser) parseSFX(line int, path string, params []string) (*Element, []Warning) {
	if path == "" {
		return nil, []Warning{{Line: line, Message: "sfx directive without a path"}}
	}

	el := &Element{Line: line, Kind: KindSoundEffect, SFXPath: path}
	var warnings []Warning
	for _, part := range params {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "vol":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				warnings = append(warnings, Warning{Line: line, Message: fmt.Sprintf("invalid sfx volume %q", value)})
				continue
			}
			el.SFXGainDB = v
		case "pan":
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				warnings = append(warnings, Warning{Line: line, Message: fmt.Sprintf("invalid sfx pan %q", value)})
				continue
			}
			el.SFXPan = clampPan(v)
		}
	}
	return el, warnings
}

// parseDuration accepts "400", "400ms" and "1.5s". Invalid values fall back
// to 500ms so a typo pauses the mix instead of killing the job.
func parseDuration(line int, value string) (time.Duration, *Warning) {
	v := strings.ToLower(strings.TrimSpace(value))

	switch {
	case strings.HasSuffix(v, "ms"):
		if n, err := strconv.Atoi(strings.TrimSuffix(v, "ms")); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond, nil
		}
	case strings.HasSuffix(v, "s"):
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "s"), 64); err == nil && f >= 0 {
			return time.Duration(f * float64(time.Second)), nil
		}
	default:
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Millisecond, nil
		}
	}
	return defaultSilence, &Warning{Line: line, Message: fmt.Sprintf("invalid duration %q, using 500ms", value)}
}

// Speakers returns the unique speaker keys referenced by speech elements.
func Speakers(elements []Element) map[string]struct{} {
	out := make(map[string]struct{})
	for _, el := range elements {
		if el.Kind == KindSpeech {
			out[el.Speaker] = struct{}{}
		}
	}
	return out
}

func clampPan(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
