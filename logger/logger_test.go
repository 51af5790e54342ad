package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}

		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)

		out = append(out, rec)
	}

	return out
}

func TestGet(t *testing.T) { //nolint:paralleltest
	var buf bytes.Buffer

	ConfigureLogging("osfctl", WithJSON(true), WithOutput(&buf), WithLevel(slog.LevelDebug))

	Get().Info("default")

	ctx := WithSubsystem(t.Context(), "approvals")
	ctx = WithActor(ctx, "moderator")
	ctx = WithTarget(ctx, "registration_approval", "abc12")
	ctx = With(ctx, "dry_run", true)
	Get(ctx).Debug("scoped")

	Get(WithMuted(t.Context(), true)).Error("muted")

	log.Println("legacy")

	recs := lines(t, &buf)
	require.Len(t, recs, 3)

	assert.Equal(t, "osfctl", recs[0]["subsystem"])
	assert.Equal(t, GetHostname(), recs[0]["host"])

	assert.Equal(t, "approvals", recs[1]["subsystem"])
	assert.Equal(t, "moderator", recs[1]["actor"])
	assert.Equal(t, "registration_approval", recs[1]["target_kind"])
	assert.Equal(t, "abc12", recs[1]["target_id"])
	assert.Equal(t, true, recs[1]["dry_run"])

	assert.Equal(t, "legacy", recs[2]["msg"])
}

func TestWith_DoesNotShareValues(t *testing.T) {
	t.Parallel()

	base := With(t.Context(), "a", 1)
	left := With(base, "b", 2)
	right := With(base, "c", 3)

	assert.Equal(t, []any{"a", 1, "b", 2}, getValues(left))
	assert.Equal(t, []any{"a", 1, "c", 3}, getValues(right))
	assert.Same(t, base, With(base))
}

func TestAnnotate(t *testing.T) {
	t.Parallel()

	require.NoError(t, Annotate(nil, "k", "v"))

	cause := errors.New("boom")
	err := Annotate(cause, "sanction_id", "s1")
	require.ErrorIs(t, err, cause)

	var buf bytes.Buffer

	l := slog.New(annotationHandler{inner: slog.NewJSONHandler(&buf, nil)})
	l.Error("failed", "error", err, "plain", errors.New("other"))

	recs := lines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "boom", recs[0]["error"])
	assert.Equal(t, "other", recs[0]["plain"])
	assert.Equal(t, "s1", recs[0]["sanction_id"])
}

func TestFanout(t *testing.T) {
	t.Parallel()

	var info, debug bytes.Buffer

	l := slog.New(fanout{
		slog.NewJSONHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}).With("job", "embargoes")

	l.Debug("quiet")
	l.Info("loud")

	assert.Len(t, lines(t, &info), 1)

	recs := lines(t, &debug)
	require.Len(t, recs, 2)
	assert.Equal(t, "embargoes", recs[1]["job"])
}
