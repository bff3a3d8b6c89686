package transport

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// buildTLSConfig returns a tls.Config that trusts the connection either via
// the normal WebPKI chain (no hashes supplied) or, when certHashes is
// non-empty, by pinning the leaf certificate's digest (the same trust
// model WebTransport uses for self-signed relay certificates).
func buildTLSConfig(serverName string, certHashes []CertificateHash) (*tls.Config, error) {
	if len(certHashes) == 0 {
		return &tls.Config{
			ServerName: serverName,
			NextProtos: []string{"collab-sync"},
		}, nil
	}

	pins := make(map[[sha256.Size]byte]struct{}, len(certHashes))
	for _, h := range certHashes {
		if h.Algorithm != "sha-256" {
			return nil, fmt.Errorf("transport: unsupported certificate hash algorithm %q", h.Algorithm)
		}
		if len(h.Value) != sha256.Size {
			return nil, fmt.Errorf("transport: sha-256 certificate hash must be %d bytes, got %d", sha256.Size, len(h.Value))
		}
		var digest [sha256.Size]byte
		copy(digest[:], h.Value)
		pins[digest] = struct{}{}
	}

	return &tls.Config{
		ServerName:         serverName,
		NextProtos:         []string{"collab-sync"},
		InsecureSkipVerify: true, // trust is established below, not via WebPKI
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			for _, raw := range rawCerts {
				digest := sha256.Sum256(raw)
				if _, ok := pins[digest]; ok {
					return nil
				}
			}
			return fmt.Errorf("transport: server certificate does not match any pinned sha-256 hash")
		},
	}, nil
}
