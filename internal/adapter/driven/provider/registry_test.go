package provider_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/worklog/internal/adapter/driven/provider"
	"github.com/ericfisherdev/worklog/internal/domain/model"
)

func TestNewRegistry_CoversEveryProvider(t *testing.T) {
	reg, err := provider.NewRegistry(provider.Config{CacheTTL: time.Minute, FigmaTeamIDs: []string{"t1"}})
	require.NoError(t, err)

	assert.Len(t, reg, len(model.AllProviders()))
	for _, p := range model.AllProviders() {
		f, ok := reg[p]
		require.True(t, ok, p)
		assert.Equal(t, p, f.Provider())
	}
}
