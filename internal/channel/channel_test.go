// ABOUTME: Tests for the durable command channel.
// ABOUTME: Covers ordering, acknowledgment, re-delivery, drain semantics, and purge.

package channel

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestChannel creates a temporary channel database for testing.
func setupTestChannel(t *testing.T) *Channel {
	t.Helper()
	path := filepath.Join(t.TempDir(), "channel.db")

	ch, err := Open(path)
	require.NoError(t, err)

	t.Cleanup(func() {
		ch.Close()
	})

	return ch
}

func TestChannel_SendAndPoll(t *testing.T) {
	ch := setupTestChannel(t)
	ctx := context.Background()

	plan := json.RawMessage(`{"questions":["tell me about yourself"]}`)
	seq, err := ch.Send(ctx, Command{
		Kind:      KindAssignSession,
		SessionID: "session-1",
		Payload: &AssignmentPayload{
			RoomName:      "interview_session-1_1700000000_abcd1234",
			CandidateName: "Ada Lovelace",
			Plan:          plan,
		},
	})
	require.NoError(t, err)
	assert.Greater(t, seq, int64(0))

	cmds, err := ch.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	cmd := cmds[0]
	assert.Equal(t, KindAssignSession, cmd.Kind)
	assert.Equal(t, "session-1", cmd.SessionID)
	assert.NotEmpty(t, cmd.ID)
	require.NotNil(t, cmd.Payload)
	assert.Equal(t, "Ada Lovelace", cmd.Payload.CandidateName)
	assert.JSONEq(t, string(plan), string(cmd.Payload.Plan))
}

func TestChannel_IssuanceOrder(t *testing.T) {
	ch := setupTestChannel(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := ch.Send(ctx, Command{Kind: KindEndSession, SessionID: id})
		require.NoError(t, err)
	}

	cmds, err := ch.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 3)
	assert.Equal(t, "s1", cmds[0].SessionID)
	assert.Equal(t, "s2", cmds[1].SessionID)
	assert.Equal(t, "s3", cmds[2].SessionID)
	assert.Less(t, cmds[0].Seq, cmds[1].Seq)
	assert.Less(t, cmds[1].Seq, cmds[2].Seq)
}

func TestChannel_AcknowledgeStopsRedelivery(t *testing.T) {
	ch := setupTestChannel(t)
	ctx := context.Background()

	_, err := ch.Send(ctx, Command{Kind: KindAssignSession, SessionID: "session-1"})
	require.NoError(t, err)

	cmds, err := ch.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	// Unacknowledged commands are visible again on the next poll.
	again, err := ch.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, again, 1)

	require.NoError(t, ch.Acknowledge(ctx, cmds[0].ID))

	after, err := ch.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, after)

	// Duplicate acknowledgment is harmless.
	require.NoError(t, ch.Acknowledge(ctx, cmds[0].ID))
}

func TestChannel_RedeliveryAfterConsumerRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.db")
	ctx := context.Background()

	ch, err := Open(path)
	require.NoError(t, err)

	_, err = ch.Send(ctx, Command{Kind: KindAssignSession, SessionID: "session-1"})
	require.NoError(t, err)

	// Consumer reads but crashes before acknowledging.
	cmds, err := ch.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	require.NoError(t, ch.Close())

	// A restarted consumer sees the command again.
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	cmds, err = reopened.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, "session-1", cmds[0].SessionID)
}

func TestChannel_DrainConsumesExactlyOnce(t *testing.T) {
	ch := setupTestChannel(t)
	ctx := context.Background()

	_, err := ch.Report(ctx, StatusReport{SessionID: "session-1", State: ReportStarted})
	require.NoError(t, err)
	_, err = ch.Report(ctx, StatusReport{SessionID: "session-1", State: ReportCompleted, Detail: "all questions answered"})
	require.NoError(t, err)

	reports, err := ch.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, ReportStarted, reports[0].State)
	assert.Equal(t, ReportCompleted, reports[1].State)
	assert.Equal(t, "all questions answered", reports[1].Detail)

	// Drained reports never reappear.
	reports, err = ch.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestChannel_PurgeRespectsRetention(t *testing.T) {
	ch := setupTestChannel(t)
	ctx := context.Background()

	_, err := ch.Send(ctx, Command{Kind: KindEndSession, SessionID: "old"})
	require.NoError(t, err)
	cmds, err := ch.Poll(ctx)
	require.NoError(t, err)
	require.NoError(t, ch.Acknowledge(ctx, cmds[0].ID))

	// Fresh archive entries survive a long retention window.
	removed, err := ch.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// A zero retention window removes everything already consumed.
	removed, err = ch.Purge(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// Unconsumed entries are never purged.
	_, err = ch.Send(ctx, Command{Kind: KindAssignSession, SessionID: "pending"})
	require.NoError(t, err)
	removed, err = ch.Purge(ctx, -time.Second)
	require.NoError(t, err)
	assert.Zero(t, removed)

	pending, err := ch.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestChannel_UnavailableAfterClose(t *testing.T) {
	ch := setupTestChannel(t)
	ctx := context.Background()
	require.NoError(t, ch.Close())

	_, err := ch.Poll(ctx)
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	_, err = ch.Drain(ctx)
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	_, err = ch.Send(ctx, Command{Kind: KindShutdown})
	assert.ErrorIs(t, err, ErrChannelUnavailable)
}
