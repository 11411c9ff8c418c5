package tg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/mukisa/paybot/core/chat"
)

func TestEventFromMessage(t *testing.T) {
	m := &tele.Message{
		ID:       42,
		Unixtime: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC).Unix(),
		Chat:     &tele.Chat{ID: 700123},
		Sender:   &tele.User{FirstName: "Ritah", LastName: "Namono"},
		Text:     "pay tv",
	}

	ev, ok := eventFromMessage(m)
	require.True(t, ok)
	assert.Equal(t, "tg-700123-42", ev.ID)
	assert.Equal(t, "700123", ev.Identity)
	assert.Equal(t, "Ritah Namono", ev.DisplayName)
	assert.Equal(t, chat.KindText, ev.Kind)
	assert.Equal(t, "pay tv", ev.Text)
	assert.Equal(t, int64(1773480413), ev.ReceivedAt.Unix())
}

func TestEventFromMessageSkipsEmpty(t *testing.T) {
	_, ok := eventFromMessage(nil)
	assert.False(t, ok)

	_, ok = eventFromMessage(&tele.Message{Chat: &tele.Chat{ID: 1}, Text: "   "})
	assert.False(t, ok)
}

func TestEventFromCallback(t *testing.T) {
	cb := &tele.Callback{
		ID:      "cbq-77",
		Data:    "\fconfirm",
		Sender:  &tele.User{Username: "ritah256"},
		Message: &tele.Message{Chat: &tele.Chat{ID: 700123}},
	}

	ev, ok := eventFromCallback(cb)
	require.True(t, ok)
	assert.Equal(t, "tgcb-cbq-77", ev.ID)
	assert.Equal(t, "700123", ev.Identity)
	assert.Equal(t, "ritah256", ev.DisplayName)
	assert.Equal(t, chat.KindButtonReply, ev.Kind)
	assert.Equal(t, "confirm", ev.ButtonID)
}

func TestEventFromCallbackSkipsEmptyData(t *testing.T) {
	cb := &tele.Callback{
		ID:      "cbq-78",
		Data:    "\f  ",
		Message: &tele.Message{Chat: &tele.Chat{ID: 700123}},
	}
	_, ok := eventFromCallback(cb)
	assert.False(t, ok)
}

func TestDisplayNameFallsBackToUsername(t *testing.T) {
	assert.Equal(t, "ritah256", displayName(&tele.User{Username: "ritah256"}))
	assert.Equal(t, "", displayName(nil))
}
