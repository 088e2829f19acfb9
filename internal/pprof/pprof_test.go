package pprof

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/RainStream/rainstream-server/internal/test"
)

func TestPPROF(t *testing.T) {
	pp := &PPROF{
		Address:     "127.0.0.1:0",
		ReadTimeout: 10 * time.Second,
		Parent:      test.NilLogger,
	}
	require.NoError(t, pp.Initialize())
	t.Cleanup(pp.Close)

	res, err := http.Get("http://" + pp.Addr() + "/debug/pprof/cmdline")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NotEmpty(t, data)
}
