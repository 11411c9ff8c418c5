package wa

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mukisa/paybot/core/chat"
)

// webhookPayload mirrors the Cloud API webhook notification shape, trimmed
// to the fields the bot consumes.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					ID        string `json:"id"`
					From      string `json:"from"`
					Type      string `json:"type"`
					Timestamp string `json:"timestamp"`
					Text      *struct {
						Body string `json:"body"`
					} `json:"text"`
					Interactive *struct {
						Type        string `json:"type"`
						ButtonReply *struct {
							ID    string `json:"id"`
							Title string `json:"title"`
						} `json:"button_reply"`
						NFMReply *struct {
							ResponseJSON string `json:"response_json"`
						} `json:"nfm_reply"`
					} `json:"interactive"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// parseEvents flattens a webhook notification into chat events. Status-only
// notifications produce an empty slice.
func parseEvents(body []byte) ([]chat.Event, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("wa: decode webhook payload: %w", err)
	}

	var events []chat.Event
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			names := make(map[string]string, len(v.Contacts))
			for _, c := range v.Contacts {
				names[c.WaID] = c.Profile.Name
			}
			for _, m := range v.Messages {
				ev := chat.Event{
					ID:          m.ID,
					Identity:    m.From,
					DisplayName: names[m.From],
					ReceivedAt:  parseTimestamp(m.Timestamp),
				}
				switch {
				case m.Type == "text" && m.Text != nil:
					ev.Kind = chat.KindText
					ev.Text = m.Text.Body
				case m.Type == "interactive" && m.Interactive != nil && m.Interactive.ButtonReply != nil:
					ev.Kind = chat.KindButtonReply
					ev.ButtonID = m.Interactive.ButtonReply.ID
					ev.Text = m.Interactive.ButtonReply.Title
				case m.Type == "interactive" && m.Interactive != nil && m.Interactive.NFMReply != nil:
					ev.Kind = chat.KindFormReply
					ev.FormFields = parseFormFields(m.Interactive.NFMReply.ResponseJSON)
				default:
					// Media, reactions and other types are ignored.
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events, nil
}

// parseFormFields decodes a flow submission's response_json into flat string
// pairs. Non-scalar values are dropped.
func parseFormFields(raw string) map[string]string {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil
	}
	fields := make(map[string]string, len(decoded))
	for k, v := range decoded {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case float64:
			fields[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			fields[k] = strconv.FormatBool(val)
		}
	}
	return fields
}

func parseTimestamp(ts string) time.Time {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
