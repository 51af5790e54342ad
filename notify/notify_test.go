package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	wf "github.com/amp-labs/osf-moderation/workflows"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	msg, err := Build(SanctionAdminApproval, Recipient{UserID: "alice"}, map[string]any{
		"sanction":    SanctionName(wf.RegistrationApproval),
		"title":       "My study",
		"initiator":   "Bob",
		"approve_url": "https://osf.io/a",
		"reject_url":  "https://osf.io/r",
	})
	require.NoError(t, err)

	assert.Equal(t, "Registration Approval requested for My study", msg.Subject)
	assert.Contains(t, msg.Body, "Approve: https://osf.io/a")
	assert.Equal(t, "alice", msg.To.UserID)

	_, err = Build("nope", Recipient{}, nil)
	require.ErrorIs(t, err, ErrUnknownTemplate)
}

// Every template renders with an empty data map.
func TestTemplates_Render(t *testing.T) {
	t.Parallel()

	for _, tpl := range Templates() {
		_, err := Build(tpl, Recipient{}, map[string]any{})
		require.NoError(t, err, tpl)
	}
}

func TestSanctionName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "embargo termination", SanctionName(wf.EmbargoTermination))
	assert.Equal(t, "Embargo Termination", Title(SanctionName(wf.EmbargoTermination)))
}

func TestNewPostmarkSender_Validates(t *testing.T) {
	t.Parallel()

	_, err := NewPostmarkSender(PostmarkConfig{})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewPostmarkSender(PostmarkConfig{ServerToken: "s", AccountToken: "a", From: "not an address"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	s, err := NewPostmarkSender(PostmarkConfig{ServerToken: "s", AccountToken: "a", From: "noreply@osf.io"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrNoAddress)
}

type flaky struct {
	failures atomic.Int32
	calls    atomic.Int32
	rec      Recorder
}

func (f *flaky) Send(ctx context.Context, msg Message) error {
	f.calls.Add(1)

	if f.failures.Load() > 0 {
		f.failures.Add(-1)

		return errors.New("temporary")
	}

	return f.rec.Send(ctx, msg)
}

func TestDispatcher_Retries(t *testing.T) {
	t.Parallel()

	sender := &flaky{}
	sender.failures.Store(2)

	d := NewDispatcher(sender, WithMaxRetries(3))
	d.Notify(context.Background(), Message{Template: ReviewsAccepted, To: Recipient{UserID: "alice"}})
	d.Wait()

	assert.Equal(t, int32(3), sender.calls.Load())
	assert.Equal(t, []string{"alice"}, sender.rec.To(ReviewsAccepted))

	inFlight, sent, failed := d.Stats()
	assert.Zero(t, inFlight)
	assert.Equal(t, int64(1), sent)
	assert.Zero(t, failed)
}

func TestDispatcher_GivesUp(t *testing.T) {
	t.Parallel()

	rec := &Recorder{Fail: errors.New("down")}

	d := NewDispatcher(rec, WithMaxRetries(0))
	d.Notify(context.Background(),
		Message{Template: ReviewsRejected, To: Recipient{UserID: "a"}},
		Message{Template: ReviewsRejected, To: Recipient{UserID: "b"}},
	)
	d.Wait()

	_, sent, failed := d.Stats()
	assert.Zero(t, sent)
	assert.Equal(t, int64(2), failed)
	assert.Empty(t, rec.Messages())
}

func TestSync(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	Sync{Sender: rec}.Notify(context.Background(),
		Message{Template: CollectionAccepted, To: Recipient{UserID: "x"}},
		Message{Template: CollectionCancel, To: Recipient{UserID: "y"}},
	)

	assert.Equal(t, []string{"x"}, rec.To(CollectionAccepted))
	assert.Len(t, rec.Messages(), 2)

	rec.Reset()
	assert.Empty(t, rec.Messages())
}
