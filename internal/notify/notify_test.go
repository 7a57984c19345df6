package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	messages []Message
}

func (c *captureSender) Send(_ context.Context, msg Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func TestNotifier_TrialStarted(t *testing.T) {
	sender := &captureSender{}
	n := NewWithSender(sender, "https://app.casedesk.test/")

	expires := time.Date(2026, 4, 9, 10, 0, 0, 0, time.UTC)
	require.NoError(t, n.TrialStarted(context.Background(), "a@example.com", expires, 20))

	require.Len(t, sender.messages, 1)
	msg := sender.messages[0]
	assert.Equal(t, "a@example.com", msg.ToEmail)
	assert.Contains(t, msg.PlainBody, "April 9, 2026")
	assert.Contains(t, msg.PlainBody, "up to 20")
	assert.Contains(t, msg.HTMLBody, `href="https://app.casedesk.test"`)
}

func TestNotifier_SubscriptionActivated(t *testing.T) {
	sender := &captureSender{}
	n := NewWithSender(sender, "https://app.casedesk.test")
	require.NoError(t, n.SubscriptionActivated(context.Background(), "a@example.com", "basic"))
	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0].HTMLBody, "https://app.casedesk.test/settings/billing")
}

func TestNew_WithoutKeyLogsOnly(t *testing.T) {
	n := New("", "noreply@casedesk.test", "CaseDesk", "")
	_, ok := n.sender.(LogSender)
	assert.True(t, ok)
	assert.NoError(t, n.SubscriptionEnded(context.Background(), "a@example.com"))
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.TrialStarted(context.Background(), "a@example.com", time.Now(), 20))
}
