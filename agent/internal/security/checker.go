package security

import (
	"context"
	"crypto/tls"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/linekpi/linekpi/agent/internal/config"
)

// expiringDays is the window in which a valid certificate is reported as
// expiring.
const expiringDays = 30

// CertStatus describes the leaf certificate served by a counters endpoint.
type CertStatus struct {
	Line     string `json:"line"`
	Endpoint string `json:"endpoint"`
	AuthType string `json:"auth_type"`
	// Status is one of: valid | expiring | expired | unreachable.
	Status   string `json:"status"`
	NotAfter string `json:"not_after,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
	DaysLeft int    `json:"days_left"`
}

// Check dials the TLS endpoint of line's counters and returns a CertStatus
// describing the leaf certificate.
//
// Returns nil when the line has no counters or the endpoint is not HTTPS.
// Uses a 10-second dial timeout so a slow host does not block evaluation.
func Check(ctx context.Context, line config.Line, now time.Time) *CertStatus {
	c := line.Counters
	if c == nil {
		return nil
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{
		Line:     line.ID,
		Endpoint: c.Endpoint,
		AuthType: c.Auth.Mode,
	}
	if cs.AuthType == "" {
		cs.AuthType = "none"
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: c.TLS.InsecureSkipVerify, //nolint:gosec
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		cs.Status = "unreachable"
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = "unreachable"
		return cs
	}

	leaf := peerCerts[0]
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24

	cs.NotAfter = leaf.NotAfter.UTC().Format(time.RFC3339)
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))
	cs.Status = classify(daysLeft)
	return cs
}

func classify(daysLeft float64) string {
	switch {
	case daysLeft <= 0:
		return "expired"
	case daysLeft <= expiringDays:
		return "expiring"
	default:
		return "valid"
	}
}
