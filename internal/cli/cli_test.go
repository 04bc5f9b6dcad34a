package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/orgmem/internal/config"
	"github.com/lazypower/orgmem/internal/engine"
	"github.com/lazypower/orgmem/internal/logger"
	"github.com/lazypower/orgmem/internal/memory"
	"github.com/lazypower/orgmem/internal/server"
	"github.com/lazypower/orgmem/internal/similarity"
	"github.com/lazypower/orgmem/internal/store"
)

// run executes the root command in an isolated home and working directory.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ORGMEM_DATABASE_PATH", filepath.Join(home, "orgmem.db"))
	t.Setenv("ORGMEM_EMBEDDING_PROVIDER", "hash")
	t.Chdir(home)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "orgmem dev"), out)
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "orgmem.toml")

	out, err := run(t, "config", "init", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Server.Port, loaded.Server.Port)
	assert.Equal(t, "default", loaded.MCP.Team)

	_, err = run(t, "config", "init", "-o", path)
	assert.Error(t, err, "existing file without --force")
}

func TestDecayCommand(t *testing.T) {
	out, err := run(t, "decay")
	require.NoError(t, err)
	assert.Equal(t, "decayed 0 nodes\n", out)

	_, err = run(t, "decay", "--tenant", "not-a-uuid")
	assert.Error(t, err)
}

func TestReconcileCommand(t *testing.T) {
	_, err := run(t, "reconcile", "--tenant", "")
	assert.Error(t, err)

	out, err := run(t, "reconcile", "--tenant", "6f1c1d3e-8e43-4c52-9a8e-1f6f1a9b2c3d", "--team", "ops")
	require.NoError(t, err)
	assert.Contains(t, out, `"store_count": 0`)
}

func TestEngineConfig(t *testing.T) {
	c := config.Default()
	c.Salience.AccessBoost = 0.2
	c.Salience.DecayInterval = "1h"
	c.Consolidation.MinAgeDays = 7

	ec := engineConfig(c)
	assert.Equal(t, 0.2, ec.AccessBoost)
	assert.Equal(t, "1h0m0s", ec.DecayInterval.String())
	assert.Equal(t, 7, ec.Consolidation.MinAgeDays)
	assert.Equal(t, c.Salience.Floor, ec.Consolidation.Floor)
}

func TestBuildEmbedder(t *testing.T) {
	ctx := context.Background()

	emb, cache, err := buildEmbedder(ctx, config.EmbeddingConfig{Provider: "hash", Dimensions: 32}, logger.Nop())
	require.NoError(t, err)
	assert.Nil(t, cache)
	assert.Equal(t, "hash", emb.Model())
	assert.Equal(t, 32, emb.Dimensions())

	// unreachable ollama falls back to the hash embedder
	emb, _, err = buildEmbedder(ctx, config.EmbeddingConfig{Provider: "ollama", URL: "http://127.0.0.1:1", Model: "m", Dimensions: 16}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "hash", emb.Model())

	_, _, err = buildEmbedder(ctx, config.EmbeddingConfig{Provider: "openai"}, logger.Nop())
	assert.Error(t, err)
}

func TestRemoteCommands(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	idx, err := similarity.NewStore("", similarity.NewHashEmbedder(32), logger.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(server.New(engine.New(db, idx, engine.WithLogger(logger.Nop())), "remote-test"))
	t.Cleanup(ts.Close)

	out, err := run(t, "status", "--url", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "remote-test"`)

	tenant := uuid.New()
	sc, err := engine.New(db, idx, engine.WithLogger(logger.Nop())).Scope(tenant, "ops")
	require.NoError(t, err)
	_, err = sc.Create(context.Background(), memory.Node{Symbol: "event.finding.7", Micro: "crack", Summary: "weld crack"}, engine.CreateOptions{})
	require.NoError(t, err)

	out, err = run(t, "get", "event.finding.7", "--url", ts.URL, "--tenant", tenant.String(), "--team", "ops", "-r", "micro")
	require.NoError(t, err)
	assert.Contains(t, out, `"micro": "crack"`)

	out, err = run(t, "query", "--url", ts.URL, "--tenant", tenant.String(), "--team", "ops", "--pattern", "event.*")
	require.NoError(t, err)
	assert.Contains(t, out, `"strategy": "pattern"`)

	_, err = run(t, "get", "event.finding.8", "--url", ts.URL, "--tenant", tenant.String(), "--team", "ops")
	assert.True(t, memory.IsNotFound(err), "err = %v", err)
}
