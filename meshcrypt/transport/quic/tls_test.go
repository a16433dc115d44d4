package quic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLinkTLS(t *testing.T) {
	require := require.New(t)

	now := time.Now()
	lt, err := newLinkTLS(now)
	require.NoError(err)
	require.Equal([]string{ALPN}, lt.listen.NextProtos)
	require.Equal([]string{ALPN}, lt.dial.NextProtos)
	require.Len(lt.listen.Certificates, 1)
	require.Empty(lt.dial.Certificates)

	leaf := lt.listen.Certificates[0].Leaf
	require.NotNil(leaf)
	require.Equal(ALPN, leaf.Subject.CommonName)
	require.True(leaf.NotAfter.After(now.Add(certLifetime - time.Second)))

	raw := lt.listen.Certificates[0].Certificate
	require.NoError(verifyLinkPeer(raw, nil))
	require.ErrorIs(verifyLinkPeer(nil, nil), errPeerCertificate)
	require.ErrorIs(verifyLinkPeer([][]byte{{1, 2, 3}}, nil), errPeerCertificate)

	expired, err := newLinkCertificate(now.Add(-2 * certLifetime))
	require.NoError(err)
	require.ErrorIs(verifyLinkPeer(expired.Certificate, nil), errPeerCertificate)

	other, err := newLinkTLS(now)
	require.NoError(err)
	require.NotEqual(raw, other.listen.Certificates[0].Certificate, "each link gets its own certificate")
}
