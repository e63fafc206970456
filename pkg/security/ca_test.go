package security

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitializeAndIssuePeerCertificate(t *testing.T) {
	ca := NewCertAuthority()
	require.False(t, ca.IsInitialized())
	require.NoError(t, ca.Initialize())
	require.True(t, ca.IsInitialized())

	cert, err := ca.IssuePeerCertificate("peer-1", []string{"peer1.local"}, []net.IP{net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	require.NoError(t, ca.VerifyCertificate(cert.Leaf))
}

func TestVerifyCertificateRejectsUnknownRoot(t *testing.T) {
	ca1 := NewCertAuthority()
	require.NoError(t, ca1.Initialize())
	ca2 := NewCertAuthority()
	require.NoError(t, ca2.Initialize())

	cert, err := ca1.IssuePeerCertificate("peer-1", nil, nil)
	require.NoError(t, err)
	require.Error(t, ca2.VerifyCertificate(cert.Leaf))
}

func TestIssueClientCertificateCachesResult(t *testing.T) {
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())

	_, err := ca.IssueClientCertificate("cli-1")
	require.NoError(t, err)
	cached, ok := ca.GetCachedCert("cli-1")
	require.True(t, ok)
	require.NotNil(t, cached.Cert)
}
