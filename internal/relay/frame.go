package relay

import (
	"encoding/json"
	"fmt"
	"strings"

	"speech-relay-service/internal/models"
)

// Action identifies the kind of an upstream frame.
type Action string

const (
	ActionStarted Action = "started"
	ActionResult  Action = "result"
	ActionEnd     Action = "end"
	ActionError   Action = "error"
)

// Frame is one inbound upstream message. It exists only for the duration of
// one receive/parse cycle.
type Frame struct {
	Action Action `json:"action"`
	// Data carries a stringified nested JSON payload for result frames.
	Data string `json:"data"`
	Code string `json:"code"`
	Desc string `json:"desc"`
}

// ParseFrame decodes a raw upstream message into a Frame.
func ParseFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("relay: malformed upstream frame: %w", err)
	}
	return f, nil
}

// ErrorResult formats an upstream error frame as a terminal result.
func (f Frame) ErrorResult() models.TranscriptionResult {
	return models.TranscriptionResult{
		Success: false,
		Error:   fmt.Sprintf("%s - %s", f.Code, f.Desc),
	}
}

// resultPayload mirrors the nested token structure of a result frame:
// segments (rt) contain word groups (ws) which contain candidate words (cw).
type resultPayload struct {
	Cn struct {
		St struct {
			// Type is "0" for a final segment, "1" for an interim one.
			Type string `json:"type"`
			Rt   []struct {
				Ws []struct {
					Cw []struct {
						W string `json:"w"`
					} `json:"cw"`
				} `json:"ws"`
			} `json:"rt"`
		} `json:"st"`
	} `json:"cn"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

// ExtractTranscript pulls the transcript text out of a result frame payload.
//
// The fallback chain is ordered: the nested token walk, then a flat "text" or
// "transcript" field, then the raw payload passed through as-is. Passing
// malformed payloads through lets the caller observe garbled-but-present
// content instead of silence.
func ExtractTranscript(data string) (text string, final bool) {
	var p resultPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return data, false
	}

	var b strings.Builder
	for _, seg := range p.Cn.St.Rt {
		for _, ws := range seg.Ws {
			for _, cw := range ws.Cw {
				b.WriteString(cw.W)
			}
		}
	}
	if b.Len() > 0 {
		return b.String(), p.Cn.St.Type == "0"
	}

	if p.Text != "" {
		return p.Text, false
	}
	if p.Transcript != "" {
		return p.Transcript, false
	}

	return data, false
}

// noiseRunes are sentence-terminal punctuation characters the upstream emits
// as standalone results. They carry no content and are suppressed.
var noiseRunes = map[rune]bool{
	'.': true, '。': true,
	'!': true, '！': true,
	'?': true, '？': true,
}

// IsNoise reports whether a transcript is protocol noise: empty after
// trimming, or a single sentence-terminal punctuation character.
func IsNoise(transcript string) bool {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return true
	}
	runes := []rune(trimmed)
	return len(runes) == 1 && noiseRunes[runes[0]]
}
