package tts

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jijae92/mactts/internal/audio"
	"github.com/jijae92/mactts/internal/reliability"
)

const (
	edgeWSURL = "wss://speech.platform.bing.com/consumer/speech/synthesize/" +
		"readaloud/edge/v1?TrustedClientToken=6A5AA1D4EAFF4E9FB37E23D68491D6F4"
	edgeOutputFormat = "audio-24khz-48kbitrate-mono-mp3"
	edgeOrigin       = "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold"
)

// Friendly aliases for the Korean neural voices, matching what users type
// on the command line.
var edgeVoiceAliases = map[string]string{
	"sunhi":   "ko-KR-SunHiNeural",
	"sun-hi":  "ko-KR-SunHiNeural",
	"injoon":  "ko-KR-InJoonNeural",
	"in-joon": "ko-KR-InJoonNeural",
	"hyunsu":  "ko-KR-HyunsuMultilingualNeural",
	"bongjin": "ko-KR-BongJinNeural",
	"gookmin": "ko-KR-GookMinNeural",
	"jimin":   "ko-KR-JiMinNeural",
	"seohyun": "ko-KR-SeoHyeonNeural",
	"soonbok": "ko-KR-SoonBokNeural",
	"yujin":   "ko-KR-YuJinNeural",
}

const edgeDefaultVoice = "ko-KR-SunHiNeural"

// EdgeConfig configures the Edge neural adapter.
type EdgeConfig struct {
	// WSURL overrides the service endpoint, mainly for tests.
	WSURL string
	// Timeout bounds one synthesis call. Zero means 30s.
	Timeout time.Duration
	// FFmpeg converts the service's MP3 output to WAV.
	FFmpeg *audio.FFmpeg
}

// EdgeSynthesizer speaks the Edge read-aloud websocket protocol: one
// speech.config message, one SSML message, then binary audio frames until
// turn.end.
type EdgeSynthesizer struct {
	cfg EdgeConfig
}

func NewEdgeSynthesizer(cfg EdgeConfig) (*EdgeSynthesizer, error) {
	if cfg.FFmpeg == nil {
		return nil, fmt.Errorf("edge synthesizer requires ffmpeg for MP3 decoding")
	}
	if strings.TrimSpace(cfg.WSURL) == "" {
		cfg.WSURL = edgeWSURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &EdgeSynthesizer{cfg: cfg}, nil
}

func (s *EdgeSynthesizer) Name() string { return "edge" }

func (s *EdgeSynthesizer) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, reliability.Permanent(fmt.Errorf("empty text"))
	}
	voice := ResolveEdgeVoice(req.Voice)
	rate := edgeRatePercent(req.RateWPM)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Origin", edgeOrigin)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.WSURL, headers)
	if err != nil {
		return nil, fmt.Errorf("dial edge websocket: %w", err)
	}
	defer conn.Close()

	requestID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := conn.WriteMessage(websocket.TextMessage, edgeSpeechConfig()); err != nil {
		return nil, fmt.Errorf("send speech.config: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, edgeSSMLMessage(requestID, voice, rate, text)); err != nil {
		return nil, fmt.Errorf("send ssml: %w", err)
	}

	mp3, err := collectEdgeAudio(ctx, conn)
	if err != nil {
		return nil, err
	}
	if len(mp3) == 0 {
		return nil, fmt.Errorf("edge returned no audio for %q", truncateText(text))
	}

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	wav, err := s.cfg.FFmpeg.TranscodeToWAV(ctx, mp3, sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("decode edge mp3: %w", err)
	}
	return wav, nil
}

// collectEdgeAudio reads frames until the service signals turn.end. Binary
// frames carry a 2-byte header-length prefix, the headers, then MP3 bytes.
func collectEdgeAudio(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var mp3 bytes.Buffer
	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(deadline)
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read edge frame: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(data) < 2 {
				continue
			}
			headerLen := int(data[0])<<8 | int(data[1])
			if 2+headerLen > len(data) {
				continue
			}
			// "Path:audio\r\n" keeps audio.metadata frames out of the payload.
			if bytes.Contains(data[2:2+headerLen], []byte("Path:audio\r\n")) {
				mp3.Write(data[2+headerLen:])
			}
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				return mp3.Bytes(), nil
			}
		}
	}
}

func edgeSpeechConfig() []byte {
	var b strings.Builder
	b.WriteString("X-Timestamp:" + edgeTimestamp() + "\r\n")
	b.WriteString("Content-Type:application/json; charset=utf-8\r\n")
	b.WriteString("Path:speech.config\r\n\r\n")
	b.WriteString(`{"context":{"synthesis":{"audio":{"metadataoptions":` +
		`{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},` +
		`"outputFormat":"` + edgeOutputFormat + `"}}}}`)
	return []byte(b.String())
}

func edgeSSMLMessage(requestID, voice, rate, text string) []byte {
	ssml := fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='ko-KR'>`+
			`<voice name='%s'><prosody rate='%s'>%s</prosody></voice></speak>`,
		voice, rate, escapeXML(text))

	var b strings.Builder
	b.WriteString("X-RequestId:" + requestID + "\r\n")
	b.WriteString("X-Timestamp:" + edgeTimestamp() + "\r\n")
	b.WriteString("Content-Type:application/ssml+xml\r\n")
	b.WriteString("Path:ssml\r\n\r\n")
	b.WriteString(ssml)
	return []byte(b.String())
}

func edgeTimestamp() string {
	return time.Now().UTC().Format("Mon Jan 02 2006 15:04:05 GMT+0000 (Coordinated Universal Time)")
}

// ResolveEdgeVoice maps a friendly alias to its full neural voice name.
// Full names pass through; empty input gets the Korean default.
func ResolveEdgeVoice(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return edgeDefaultVoice
	}
	if full, ok := edgeVoiceAliases[strings.ToLower(name)]; ok {
		return full
	}
	return name
}

// edgeRatePercent converts a WPM rate to the signed percentage the service
// expects, against a 150 WPM baseline, clamped to [-50%, +100%].
func edgeRatePercent(wpm int) string {
	if wpm <= 0 {
		return "+0%"
	}
	pct := int(float64(wpm-150) / 150 * 100)
	if pct < -50 {
		pct = -50
	}
	if pct > 100 {
		pct = 100
	}
	return fmt.Sprintf("%+d%%", pct)
}

func (s *EdgeSynthesizer) Voices(_ context.Context) ([]Voice, error) {
	names := make([]string, 0, len(edgeVoiceAliases))
	for alias := range edgeVoiceAliases {
		names = append(names, alias)
	}
	sort.Strings(names)

	voices := make([]Voice, 0, len(names))
	for _, alias := range names {
		voices = append(voices, Voice{
			Name:        edgeVoiceAliases[alias],
			Locale:      "ko-KR",
			Description: "alias: " + alias,
		})
	}
	return voices, nil
}

func escapeXML(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

func truncateText(s string) string {
	r := []rune(s)
	if len(r) <= 40 {
		return s
	}
	return string(r[:40]) + "..."
}
