package wa

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mukisa/paybot/core/chat"
)

const textNotification = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "101",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "metadata": {"display_phone_number": "256200710500", "phone_number_id": "555001"},
        "contacts": [{"profile": {"name": "Ritah Nakato"}, "wa_id": "256772123456"}],
        "messages": [{
          "from": "256772123456",
          "id": "wamid.ABC123",
          "timestamp": "1767225600",
          "type": "text",
          "text": {"body": "pay tv"}
        }]
      }
    }]
  }]
}`

const buttonNotification = `{
  "entry": [{
    "changes": [{
      "value": {
        "contacts": [{"profile": {"name": "Okello"}, "wa_id": "256700000002"}],
        "messages": [{
          "from": "256700000002",
          "id": "wamid.BTN1",
          "timestamp": "1767225601",
          "type": "interactive",
          "interactive": {
            "type": "button_reply",
            "button_reply": {"id": "pay water", "title": "Pay Water"}
          }
        }]
      }
    }]
  }]
}`

const formNotification = `{
  "entry": [{
    "changes": [{
      "value": {
        "messages": [{
          "from": "256700000003",
          "id": "wamid.FORM1",
          "timestamp": "1767225602",
          "type": "interactive",
          "interactive": {
            "type": "nfm_reply",
            "nfm_reply": {"response_json": "{\"service\":\"tv\",\"phone_number\":\"0772123456\",\"amount\":500}"}
          }
        }]
      }
    }]
  }]
}`

const statusNotification = `{
  "entry": [{
    "changes": [{
      "value": {
        "statuses": [{"id": "wamid.X", "status": "delivered"}]
      }
    }]
  }]
}`

func TestParseTextMessage(t *testing.T) {
	events, err := parseEvents([]byte(textNotification))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "wamid.ABC123", ev.ID)
	assert.Equal(t, "256772123456", ev.Identity)
	assert.Equal(t, "Ritah Nakato", ev.DisplayName)
	assert.Equal(t, chat.KindText, ev.Kind)
	assert.Equal(t, "pay tv", ev.Text)
	assert.Equal(t, time.Unix(1767225600, 0), ev.ReceivedAt)
}

func TestParseButtonReply(t *testing.T) {
	events, err := parseEvents([]byte(buttonNotification))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, chat.KindButtonReply, ev.Kind)
	assert.Equal(t, "pay water", ev.ButtonID)
	assert.Equal(t, "Pay Water", ev.Text)
	assert.Equal(t, "Okello", ev.DisplayName)
}

func TestParseFormReply(t *testing.T) {
	events, err := parseEvents([]byte(formNotification))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, chat.KindFormReply, ev.Kind)
	assert.Equal(t, "tv", ev.FormFields["service"])
	assert.Equal(t, "0772123456", ev.FormFields["phone_number"])
	assert.Equal(t, "500", ev.FormFields["amount"])
}

func TestParseStatusOnlyNotification(t *testing.T) {
	events, err := parseEvents([]byte(statusNotification))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseMalformedPayload(t *testing.T) {
	_, err := parseEvents([]byte("{not json"))
	assert.Error(t, err)
}
