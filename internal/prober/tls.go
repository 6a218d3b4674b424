package prober

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/bissquit/sentinel/internal/domain"
)

// checkTLS independently verifies the certificate of an https target.
//
// The hostname is re-resolved and re-validated here to close the DNS
// rebinding window between the probe request and this check: the
// connection is made to the validated IP while the original hostname
// is presented for SNI and certificate name verification.
func (p *Prober) checkTLS(ctx context.Context, target *url.URL) *domain.TLSSummary {
	hostname := target.Hostname()
	port := target.Port()
	if port == "" {
		port = "443"
	}

	if !p.safeHostname(ctx, hostname) {
		return &domain.TLSSummary{Valid: false, Error: msgForbidden}
	}
	ip, ok := p.firstSafeAddr(ctx, hostname)
	if !ok {
		return &domain.TLSSummary{Valid: false, Error: msgForbidden}
	}

	rawConn, err := p.dial(ctx, "tcp", net.JoinHostPort(ip, port))
	if err != nil {
		return &domain.TLSSummary{Valid: false, Error: fmt.Sprintf(msgTLS, err)}
	}
	defer func() { _ = rawConn.Close() }()

	conn := tls.Client(rawConn, &tls.Config{
		ServerName: hostname,
		RootCAs:    p.rootCAs,
		MinVersion: tls.VersionTLS12,
	})
	if err := conn.HandshakeContext(ctx); err != nil {
		return &domain.TLSSummary{Valid: false, Error: fmt.Sprintf(msgTLS, err)}
	}

	certs := conn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return &domain.TLSSummary{Valid: false, Error: fmt.Sprintf(msgTLS, fmt.Errorf("no peer certificate"))}
	}
	leaf := certs[0]

	issuer := "Unknown"
	if len(leaf.Issuer.Organization) > 0 {
		issuer = leaf.Issuer.Organization[0]
	} else if leaf.Issuer.CommonName != "" {
		issuer = leaf.Issuer.CommonName
	}

	days := int(time.Until(leaf.NotAfter).Hours() / 24)

	return &domain.TLSSummary{
		Valid:           true,
		Issuer:          issuer,
		Expires:         leaf.NotAfter.UTC().Format(time.RFC3339),
		DaysUntilExpiry: days,
		Warning:         days < tlsWarningDays,
	}
}
