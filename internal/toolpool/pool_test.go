package toolpool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func contextTODO() context.Context { return context.TODO() }

func TestRoleDefaultsToGeneric(t *testing.T) {
	p := New()
	p.servers["s"] = &server{name: "s"}
	require.Equal(t, RoleGeneric, p.Role("s"))
	require.Equal(t, RoleGeneric, p.Role("unknown"))
}

func TestFallbackMessageUsesDefaultWhenUnconfigured(t *testing.T) {
	p := New()
	p.servers["search"] = &server{name: "search", role: RoleSearch}
	require.Equal(t, DefaultSearchFallbackMessage, p.FallbackMessage("search"))
}

func TestFallbackMessageUsesConfiguredValue(t *testing.T) {
	p := New()
	p.servers["search"] = &server{name: "search", role: RoleSearch, fallbackMessage: "custom message"}
	require.Equal(t, "custom message", p.FallbackMessage("search"))
}

func TestHasAndNames(t *testing.T) {
	p := New()
	require.False(t, p.Has("s"))

	p.servers["a"] = &server{name: "a", role: RoleGeneric}
	p.servers["b"] = &server{name: "b", role: RoleSearch}
	require.True(t, p.Has("a"))
	require.ElementsMatch(t, []string{"a", "b"}, p.Names())
}

func TestCallToolUnregisteredServer(t *testing.T) {
	p := New()
	_, err := p.CallTool(contextTODO(), "missing", "tool", nil)
	require.Error(t, err)
}

func TestListToolsUnregisteredServer(t *testing.T) {
	p := New()
	_, err := p.ListTools(contextTODO(), "missing")
	require.Error(t, err)
}

func TestFindServerForToolNoMatch(t *testing.T) {
	p := New()
	_, err := p.FindServerForTool(contextTODO(), "does-not-exist")
	require.Error(t, err)
}
