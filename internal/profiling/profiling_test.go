package profiling

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/nsclient/core/log"
)

func TestStart(t *testing.T) {
	b, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	if Enabled {
		t.Setenv("PYROSCOPE_SERVER_ADDRESS", "")
		_, err := Start(b.GetLogger("profiling"))
		require.Error(t, err)
		return
	}
	stop, err := Start(b.GetLogger("profiling"))
	require.NoError(t, err)
	require.NotNil(t, stop)
	stop()
}
