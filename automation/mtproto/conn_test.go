package mtproto

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/dialogbot/automation"
)

func TestContentKind(t *testing.T) {
	cases := []struct {
		name  string
		media tg.MessageMediaClass
		want  automation.ContentKind
	}{
		{"none", nil, automation.KindNone},
		{"empty", &tg.MessageMediaEmpty{}, automation.KindNone},
		{"photo", &tg.MessageMediaPhoto{}, automation.KindPhoto},
		{"sticker", &tg.MessageMediaDocument{Document: &tg.Document{
			Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeSticker{}},
		}}, automation.KindSticker},
		{"voice", &tg.MessageMediaDocument{Document: &tg.Document{
			Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}},
		}}, automation.KindVoice},
		{"music", &tg.MessageMediaDocument{Document: &tg.Document{
			Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{}},
		}}, automation.KindMedia},
		{"empty document", &tg.MessageMediaDocument{}, automation.KindMedia},
		{"geo", &tg.MessageMediaGeo{}, automation.KindMedia},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, contentKind(tc.media))
		})
	}
}

func TestInboundFiltersTarget(t *testing.T) {
	e := tg.Entities{Users: map[int64]*tg.User{100: {ID: 100, Username: "anonchat_bot"}}}

	msg, ok := inbound(100, e, &tg.Message{PeerID: &tg.PeerUser{UserID: 100}, Message: "hi"})
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, int64(100), msg.SenderID)
	assert.Equal(t, "anonchat_bot", msg.SenderHandle)
	assert.False(t, msg.ReceivedAt.IsZero())

	_, ok = inbound(100, e, &tg.Message{PeerID: &tg.PeerUser{UserID: 5}, Message: "spam"})
	assert.False(t, ok)

	_, ok = inbound(100, e, &tg.Message{Out: true, PeerID: &tg.PeerUser{UserID: 100}, Message: "/search"})
	assert.False(t, ok)

	_, ok = inbound(0, e, &tg.Message{PeerID: &tg.PeerUser{UserID: 100}})
	assert.False(t, ok)

	_, ok = inbound(100, e, &tg.MessageService{})
	assert.False(t, ok)
}

func TestMapSendError(t *testing.T) {
	assert.NoError(t, mapSendError(nil))

	plain := errors.New("boom")
	assert.Equal(t, plain, mapSendError(plain))

	wait, ok := automation.RetryAfter(mapSendError(tgerr.New(420, "FLOOD_WAIT_7")))
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, wait)
}

func TestDisconnectWithoutConnect(t *testing.T) {
	c := &Conn{timeout: time.Millisecond}
	assert.NoError(t, c.Disconnect())
	assert.Error(t, c.SendMessage(context.Background(), "@x", "hi"))
}
