package quic

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"time"
)

const (
	ALPN = "meshcrypt-link/1"

	certLifetime = 24 * time.Hour
)

var errPeerCertificate = errors.New("quic: peer presented no usable link certificate")

// linkTLS holds the TLS settings of one Link. Hops authenticate nothing:
// payloads are encrypted per node before they reach the link, so both ends
// present an ephemeral certificate and the dialer only checks that the peer
// speaks the link protocol with a current certificate.
type linkTLS struct {
	listen *tls.Config
	dial   *tls.Config
}

func newLinkTLS(now time.Time) (*linkTLS, error) {
	cert, err := newLinkCertificate(now)
	if err != nil {
		return nil, err
	}
	return &linkTLS{
		listen: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS13,
			NextProtos:   []string{ALPN},
		},
		dial: &tls.Config{
			MinVersion:            tls.VersionTLS13,
			NextProtos:            []string{ALPN},
			InsecureSkipVerify:    true,
			VerifyPeerCertificate: verifyLinkPeer,
		},
	}, nil
}

func newLinkCertificate(now time.Time) (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return tls.Certificate{}, err
	}
	tpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: ALPN},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certLifetime),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

func verifyLinkPeer(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) != 1 {
		return errPeerCertificate
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return errPeerCertificate
	}
	now := time.Now()
	if cert.Subject.CommonName != ALPN || now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return errPeerCertificate
	}
	return nil
}
