package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetShadercoreVersion(t *testing.T) {
	t.Cleanup(func() { version = "" })

	// Test binaries carry no module version.
	require.Equal(t, Default, GetShadercoreVersion())

	version = "v1.2.3"
	require.Equal(t, "v1.2.3", GetShadercoreVersion())
}

func TestVersionMissing(t *testing.T) {
	require.True(t, versionMissing(""))
	require.True(t, versionMissing("(devel)"))
	require.False(t, versionMissing("v0.1.0"))
}
