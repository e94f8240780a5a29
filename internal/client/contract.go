package client

import (
	"fmt"
	"strings"
)

// Contract selects which server endpoints the client talks to.
type Contract int

const (
	// ContractRecord uses create-record, verify-record and verify-proof. Proof
	// results are authoritative.
	ContractRecord Contract = iota
	// ContractCertificates uses the legacy /api/certificates routes. Proofs
	// are compared locally and the outcome is advisory.
	ContractCertificates
	// ContractUpload sends the PDF itself; the server decodes it.
	ContractUpload
)

func (c Contract) String() string {
	switch c {
	case ContractRecord:
		return "record"
	case ContractCertificates:
		return "certificates"
	case ContractUpload:
		return "upload"
	default:
		return fmt.Sprintf("contract(%d)", int(c))
	}
}

// ParseContract parses "record", "certificates" or "upload".
func ParseContract(s string) (Contract, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "record":
		return ContractRecord, nil
	case "certificates", "legacy":
		return ContractCertificates, nil
	case "upload":
		return ContractUpload, nil
	default:
		return 0, fmt.Errorf("unknown contract %q", s)
	}
}

// decodesLocally reports whether the client finds and hashes the payload itself.
func (c Contract) decodesLocally() bool {
	return c != ContractUpload
}
