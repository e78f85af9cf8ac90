package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/cuemby/warden/pkg/config"
	"github.com/cuemby/warden/pkg/security"
)

// buildTLSConfig creates the process-wide TLS configuration: server
// certificate, protocol floor, cipher selection and, when a CA bundle is
// configured, mandatory client certificate verification. The returned
// config is immutable after startup.
func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := security.LoadCertFromFile(cfg.ServerCert, cfg.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}

	// Auto-negotiate drops the floor for legacy agents; default is
	// TLS 1.2 only, like the daemon it replaces.
	if cfg.AutoMethod {
		tlsCfg.MinVersion = tls.VersionTLS10
	}

	if suites := parseCipherSuites(cfg.Ciphers); len(suites) > 0 {
		tlsCfg.CipherSuites = suites
	}

	if cfg.AgentCA != "" {
		pool, err := security.LoadCACertPool(cfg.AgentCA)
		if err != nil {
			return nil, fmt.Errorf("failed to load agent CA: %w", err)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsCfg, nil
}

// parseCipherSuites maps a colon- or comma-separated cipher list onto the
// suites this runtime supports. Unknown names are skipped, so an
// OpenSSL-style selector string degrades to the runtime defaults.
func parseCipherSuites(list string) []uint16 {
	if list == "" || list == config.DefaultCiphers {
		return nil
	}

	byName := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		byName[s.Name] = s.ID
	}

	var ids []uint16
	for _, name := range strings.FieldsFunc(list, func(r rune) bool { return r == ':' || r == ',' }) {
		if id, ok := byName[strings.TrimSpace(name)]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// verifyClientHost checks the presented client certificate against the
// remote IP: the leaf must carry the address in its SANs or common name.
// Only called when verify_host is enabled and a CA bundle is configured;
// chain validity was already enforced during the handshake.
func verifyClientHost(state tls.ConnectionState, ip string) error {
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("no client certificate presented")
	}
	leaf := state.PeerCertificates[0]

	remote := net.ParseIP(ip)
	for _, san := range leaf.IPAddresses {
		if san.Equal(remote) {
			return nil
		}
	}
	for _, name := range leaf.DNSNames {
		if resolvesTo(name, remote) {
			return nil
		}
	}
	if leaf.Subject.CommonName == ip {
		return nil
	}
	return fmt.Errorf("certificate does not match source address %s", ip)
}

// resolvesTo reports whether a SAN hostname resolves to the remote IP
func resolvesTo(name string, remote net.IP) bool {
	addrs, err := net.LookupIP(name)
	if err != nil {
		return false
	}
	for _, a := range addrs {
		if a.Equal(remote) {
			return true
		}
	}
	return false
}
