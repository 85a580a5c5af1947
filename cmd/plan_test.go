package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tweetgrab/internal/store"
)

type fakeHistory struct {
	texts    []string
	recorded []store.Entry
	err      error
}

func (f *fakeHistory) EnsureSchema(context.Context) error { return f.err }

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]string, error) {
	if len(f.texts) > limit {
		return f.texts[:limit], nil
	}
	return f.texts, nil
}

func (f *fakeHistory) Record(_ context.Context, e store.Entry) (store.Entry, error) {
	e.ID = "id-1"
	f.recorded = append(f.recorded, e)
	return e, nil
}

func useHistory(t *testing.T, h *fakeHistory) {
	t.Helper()
	orig := storeFactory
	storeFactory = func(context.Context, string, *zap.Logger) (historyStore, func(), error) {
		return h, func() {}, nil
	}
	t.Cleanup(func() { storeFactory = orig })
}

func writeArtifact(t *testing.T, path, text string, age time.Duration) {
	t.Helper()
	ts := time.Now().UTC().Add(-age).Format(time.RFC3339)
	payload := `{"text":` + quote(text) + `,"time":"` + ts + `","isPinned":false,"hasVideo":false,"images":[]}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))
}

func quote(s string) string {
	b, _ := planJSON.Marshal(s)
	return string(b)
}

func TestRunPlan(t *testing.T) {
	t.Run("without history", func(t *testing.T) {
		cfg := newTestConfig(t)
		writeArtifact(t, cfg.Output.Artifact, "Event starts #today https://\nexample.com", time.Hour)

		var out bytes.Buffer
		require.NoError(t, runPlan(context.Background(), &out, cfg, false, zap.NewNop()))

		m := decodePayload(t, out.Bytes())
		assert.Equal(t, "Event starts #today https://example.com", m["text"])
		assert.Equal(t, true, m["postable"])
		assert.Equal(t, true, m["fallback"])
		assert.Len(t, m["facets"], 2)
	})

	t.Run("duplicate from history is not recorded", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Database.URL = "postgres://test"
		writeArtifact(t, cfg.Output.Artifact, "Hello", time.Hour)
		h := &fakeHistory{texts: []string{"hello"}}
		useHistory(t, h)

		var out bytes.Buffer
		require.NoError(t, runPlan(context.Background(), &out, cfg, true, zap.NewNop()))

		m := decodePayload(t, out.Bytes())
		assert.Equal(t, true, m["duplicate"])
		assert.Equal(t, "already posted", m["reason"])
		assert.Empty(t, h.recorded)
	})

	t.Run("postable is recorded", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Database.URL = "postgres://test"
		writeArtifact(t, cfg.Output.Artifact, "Fresh news", time.Hour)
		h := &fakeHistory{texts: []string{"old news"}}
		useHistory(t, h)

		require.NoError(t, runPlan(context.Background(), &bytes.Buffer{}, cfg, true, zap.NewNop()))
		require.Len(t, h.recorded, 1)
		assert.Equal(t, "Fresh news", h.recorded[0].Text)
		assert.Equal(t, "example", h.recorded[0].Profile)
	})

	t.Run("record without database", func(t *testing.T) {
		cfg := newTestConfig(t)
		writeArtifact(t, cfg.Output.Artifact, "Hello", time.Hour)
		err := runPlan(context.Background(), &bytes.Buffer{}, cfg, true, zap.NewNop())
		assert.ErrorContains(t, err, "database.url")
	})

	t.Run("schema failure", func(t *testing.T) {
		cfg := newTestConfig(t)
		cfg.Database.URL = "postgres://test"
		writeArtifact(t, cfg.Output.Artifact, "Hello", time.Hour)
		useHistory(t, &fakeHistory{err: errors.New("permission denied")})

		err := runPlan(context.Background(), &bytes.Buffer{}, cfg, false, zap.NewNop())
		assert.ErrorContains(t, err, "permission denied")
	})

	t.Run("error payload", func(t *testing.T) {
		cfg := newTestConfig(t)
		require.NoError(t, os.WriteFile(cfg.Output.Artifact, []byte(`{"error":"deadline exceeded (30s)"}`), 0o644))
		err := runPlan(context.Background(), &bytes.Buffer{}, cfg, false, zap.NewNop())
		assert.ErrorContains(t, err, "deadline exceeded")
	})

	t.Run("missing artifact", func(t *testing.T) {
		cfg := newTestConfig(t)
		err := runPlan(context.Background(), &bytes.Buffer{}, cfg, false, zap.NewNop())
		assert.ErrorContains(t, err, "failed to read artifact")
	})
}
