package insight

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsight/platform/internal/dqi"
	apperrors "github.com/clinsight/platform/internal/shared/errors"
	"github.com/clinsight/platform/internal/shared/types"
	"github.com/clinsight/platform/internal/signal"
)

func TestNormalizeQuery(t *testing.T) {
	cases := map[string]string{
		"Why is   Site 01 declining?": "why is site 01 declining?",
		"  WHY IS SITE 01 DECLINING? ": "why is site 01 declining?",
		"why\tis\nsite 01 declining?": "why is site 01 declining?",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeQuery(input))
	}
}

func TestFingerprintDeterminism(t *testing.T) {
	scope := types.SiteRef("ST-001", "S01")

	a := Fingerprint("Why is site 01 declining?", scope, 7)
	b := Fingerprint("  why IS site 01   declining?", scope, 7)
	assert.Equal(t, a, b, "case and whitespace do not change the fingerprint")

	assert.NotEqual(t, a, Fingerprint("Why is site 01 declining?", scope, 8),
		"data version is part of the key")
	assert.NotEqual(t, a, Fingerprint("Why is site 01 declining?", types.SiteRef("ST-001", "S02"), 7),
		"scope is part of the key")
}

type countingGenerator struct {
	calls int
	fail  bool
}

func (g *countingGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	g.calls++
	if g.fail {
		return "", fmt.Errorf("upstream unavailable")
	}
	return fmt.Sprintf("insight #%d for %s", g.calls, req.Scope), nil
}

func newGatewayFixture(gen Generator, ttl time.Duration) (*Gateway, *signal.MemoryRepository) {
	repo := signal.NewMemoryRepository(signal.BucketThresholds{AgedDays: 21, OverdueDays: 30})
	return NewGateway(NewMemoryCache(), gen, repo, dqi.NewMemoryHistory(), ttl, zerolog.Nop()), repo
}

func seedEntity(t *testing.T, repo *signal.MemoryRepository) types.EntityRef {
	t.Helper()
	opened := time.Now().UTC().Add(-48 * time.Hour)
	_, err := repo.UpsertRecords(context.Background(), []signal.Record{{
		StudyID: "ST-001", SiteID: "S01", PatientID: "P001",
		Type: signal.RecordTypeOpenQuery, NaturalKey: "Q-1",
		ObservedAt: time.Now().UTC(), OpenedAt: &opened,
	}})
	require.NoError(t, err)
	return types.SiteRef("ST-001", "S01")
}

func TestGeneratorInvokedAtMostOnceWithinTTL(t *testing.T) {
	gen := &countingGenerator{}
	gw, repo := newGatewayFixture(gen, time.Hour)
	scope := seedEntity(t, repo)
	ctx := context.Background()

	first, err := gw.GetOrGenerate(ctx, "Summarize site health", scope)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := gw.GetOrGenerate(ctx, "  summarize SITE health ", scope)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)

	assert.Equal(t, 1, gen.calls)
}

func TestDataVersionChangeForcesRegeneration(t *testing.T) {
	gen := &countingGenerator{}
	gw, repo := newGatewayFixture(gen, time.Hour)
	scope := seedEntity(t, repo)
	ctx := context.Background()

	_, err := gw.GetOrGenerate(ctx, "Summarize site health", scope)
	require.NoError(t, err)

	// New data for the scope bumps its version
	seedEntity(t, repo)

	result, err := gw.GetOrGenerate(ctx, "Summarize site health", scope)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 2, gen.calls)
}

func TestExpiredEntryRegenerates(t *testing.T) {
	gen := &countingGenerator{}
	gw, repo := newGatewayFixture(gen, time.Millisecond)
	scope := seedEntity(t, repo)
	ctx := context.Background()

	_, err := gw.GetOrGenerate(ctx, "Summarize site health", scope)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	result, err := gw.GetOrGenerate(ctx, "Summarize site health", scope)
	require.NoError(t, err)
	assert.False(t, result.Cached, "stale entries are treated as absent")
	assert.Equal(t, 2, gen.calls)
}

func TestGenerationFailureNotCached(t *testing.T) {
	gen := &countingGenerator{fail: true}
	gw, repo := newGatewayFixture(gen, time.Hour)
	scope := seedEntity(t, repo)
	ctx := context.Background()

	_, err := gw.GetOrGenerate(ctx, "Summarize site health", scope)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsight)

	// The failure was not cached: recovery is visible immediately
	gen.fail = false
	result, err := gw.GetOrGenerate(ctx, "Summarize site health", scope)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 2, gen.calls)
}
