package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpandConfigEnv(t *testing.T) {
	t.Setenv("MESH_PORT", "8123")
	t.Setenv("MESH_FLAG", "true")

	out, missing, err := expandConfigEnv([]byte(`
plain: ${MESH_PORT}
quoted: "${MESH_PORT}"
flag: ${MESH_FLAG}
fallback: ${MESH_UNSET:-dflt}
absent: x${MESH_ABSENT}y
`))
	require.NoError(t, err)
	require.Equal(t, []string{"MESH_ABSENT"}, missing)
	require.Contains(t, out, "plain: 8123\n")
	require.Contains(t, out, `quoted: "8123"`)
	require.Contains(t, out, "flag: true\n")
	require.Contains(t, out, "fallback: dflt\n")
	require.Contains(t, out, "absent: xy\n")
}

func TestExpandConfigEnvInvalidYAML(t *testing.T) {
	_, _, err := expandConfigEnv([]byte("a: [unterminated"))
	require.Error(t, err)
}
