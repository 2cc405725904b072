package gong

import "strings"

// Sentence is a single utterance with millisecond offsets into the call.
type Sentence struct {
	Start int64  `json:"start"`
	End   int64  `json:"end"`
	Text  string `json:"text"`
}

// SpeakerTurn is an ordered run of sentences by one speaker.
type SpeakerTurn struct {
	SpeakerID string     `json:"speakerId"`
	Topic     string     `json:"topic,omitempty"`
	Sentences []Sentence `json:"sentences"`
}

// CallTranscript is one call as returned by the transcript source. CallID is
// externally assigned and unique.
type CallTranscript struct {
	CallID     string        `json:"callId"`
	Transcript []SpeakerTurn `json:"transcript"`
}

// FlattenText renders the structured transcript as plain text, one speaker
// turn per line, for classification prompts.
func (c CallTranscript) FlattenText() string {
	var sb strings.Builder
	for _, turn := range c.Transcript {
		if turn.SpeakerID != "" {
			sb.WriteString(turn.SpeakerID)
			sb.WriteString(": ")
		}
		for i, s := range turn.Sentences {
			if i > 0 {
				sb.WriteString(" ")
			}
			sb.WriteString(s.Text)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Filter restricts which calls a transcript request covers. FromDateTime and
// ToDateTime are ISO-8601 with offset; CallIDs narrows to specific calls.
type Filter struct {
	FromDateTime string   `json:"fromDateTime"`
	ToDateTime   string   `json:"toDateTime"`
	CallIDs      []string `json:"callIds,omitempty"`
}

// transcriptsRequest is the wire shape of one page request.
type transcriptsRequest struct {
	Filter   Filter `json:"filter"`
	Cursor   string `json:"cursor,omitempty"`
	PageSize int    `json:"pageSize"`
}

// transcriptsResponse is the wire shape of one page response. An absent
// records.cursor means this was the final page.
type transcriptsResponse struct {
	CallTranscripts []CallTranscript `json:"callTranscripts"`
	Records         struct {
		Cursor string `json:"cursor"`
	} `json:"records"`
}
