package capflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func anySchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema(map[string]any{"type": "object"})
	require.NoError(t, err)
	return s
}

func TestBuilderRequiresNameAndInputSchema(t *testing.T) {
	_, err := NewBuilder("").InputSchema(anySchema(t)).Build()
	require.Error(t, err)

	_, err = NewBuilder("thing").Build()
	require.Error(t, err)
}

func TestBuilderProducesImmutableDefinition(t *testing.T) {
	b := NewBuilder("thing").
		Description("does a thing").
		Tags("a", "b").
		InputSchema(anySchema(t))

	def, err := b.Build()
	require.NoError(t, err)

	// Later builder changes do not leak into the built definition.
	b.Description("changed")
	assert.Equal(t, "does a thing", def.Description())

	tags := def.Tags()
	tags[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, def.Tags())
}

func TestBuilderReattachReplacesHandler(t *testing.T) {
	first := func(ctx context.Context, input any, ec *ExecContext) (any, error) {
		return "first", nil
	}
	second := func(ctx context.Context, input any, ec *ExecContext) (any, error) {
		return "second", nil
	}

	def := NewBuilder("thing").
		InputSchema(anySchema(t)).
		PrivilegedHandler(first).
		PrivilegedHandler(second).
		MustBuild()

	out, err := NewDispatcher(true).Run(context.Background(), def, map[string]any{}, ContextSpec{})
	require.NoError(t, err)
	assert.Equal(t, "second", out)
}

func TestCardExposesOnlyFlagsAndMetadata(t *testing.T) {
	def := NewBuilder("thing").
		Description("does a thing").
		Tags("x").
		InputSchema(anySchema(t)).
		OutputSchema(anySchema(t)).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) { return nil, nil }).
		Cache(time.Second, nil).
		RequireConfirmation(nil).
		MustBuild()

	card := def.Card()
	assert.Equal(t, "thing", card.Name)
	assert.Equal(t, "does a thing", card.Description)
	assert.Equal(t, []string{"x"}, card.Tags)
	assert.True(t, card.HasPrivilegedHandler)
	assert.False(t, card.HasRestrictedHandler)
	assert.False(t, card.HasStream)
	assert.False(t, card.HasView)
	assert.True(t, card.HasCache)
	assert.True(t, card.RequiresConfirmation)
}

func TestConfirmationNeededHonorsExemptPredicate(t *testing.T) {
	def := NewBuilder("deploy").
		InputSchema(anySchema(t)).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) { return nil, nil }).
		RequireConfirmation(func(input any) bool {
			m, _ := input.(map[string]any)
			return m["dry_run"] == true
		}).
		MustBuild()

	assert.True(t, def.ConfirmationNeeded(map[string]any{}))
	assert.False(t, def.ConfirmationNeeded(map[string]any{"dry_run": true}))
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry()
	def := NewBuilder("thing").InputSchema(anySchema(t)).MustBuild()

	require.NoError(t, reg.Register(def))
	err := reg.Register(def)
	require.Error(t, err)

	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "DuplicateCapability", regErr.Type)
}

func TestRegistryCardsSorted(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(
		NewBuilder("zeta").InputSchema(anySchema(t)).MustBuild(),
		NewBuilder("alpha").InputSchema(anySchema(t)).MustBuild(),
	)

	cards := reg.Cards()
	require.Len(t, cards, 2)
	assert.Equal(t, "alpha", cards[0].Name)
	assert.Equal(t, "zeta", cards[1].Name)
	assert.Equal(t, []string{"alpha", "zeta"}, reg.List())
}

func TestRegistryUnknownLookup(t *testing.T) {
	_, err := NewRegistry().Get("missing")
	require.Error(t, err)

	var regErr *RegistryError
	require.ErrorAs(t, err, &regErr)
	assert.Equal(t, "UnknownCapability", regErr.Type)
}
