package instrument

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	require := require.New(t)

	before := testutil.ToFloat64(framesSent.WithLabelValues("NO_ROUTE"))
	FrameSent("NO_ROUTE")
	FrameSent("NO_ROUTE")
	require.Equal(before+2, testutil.ToFloat64(framesSent.WithLabelValues("NO_ROUTE")))

	before = testutil.ToFloat64(bufferOverflows)
	BufferOverflow()
	require.Equal(before+1, testutil.ToFloat64(bufferOverflows))

	HandshakeAttempt("SYNC_IV")
	HandshakeCompleted("SYNC_IV")
	Registration("SYNC_KEY")
	FrameReceived("default")
}

func TestHandler(t *testing.T) {
	require := require.New(t)

	FrameSent("SUCCESS")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(http.StatusOK, rec.Code)
	require.Contains(rec.Body.String(), "meshcrypt_frames_sent_total")
}
