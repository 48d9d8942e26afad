package paradox

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMacAddress(t *testing.T) {
	t.Run("not an ip", func(t *testing.T) {
		_, err := MacAddress("ip150.local")
		require.Error(t, err)
	})

	t.Run("live", func(t *testing.T) {
		host := os.Getenv("PARADOX_HOST")
		if host == "" || os.Getenv("CI") != "" {
			t.Skip("PARADOX_HOST not set")
		}
		hw, err := MacAddress(host)
		require.NoError(t, err)
		require.NotEmpty(t, hw)
	})
}
