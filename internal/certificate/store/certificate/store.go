// Package certificate holds the certificate registry stores.
//
// Every store keeps two unique keys, the certificate id and its data hash, and
// reports a duplicate of either as sentinel.ErrConflict. Lookups that find
// nothing return sentinel.ErrNotFound.
package certificate

import (
	"time"

	"certisure/internal/certificate/models"
	"certisure/pkg/canonical"
)

// row mirrors the certificates table.
type row struct {
	ID            string
	Data          []byte
	DataHash      string
	ArrayMode     string
	InstitutionID string
	CreatedAt     time.Time
}

func toRow(c *models.Certificate) row {
	return row{
		ID:            c.ID,
		Data:          c.Data,
		DataHash:      c.DataHash,
		ArrayMode:     c.ArrayMode.String(),
		InstitutionID: c.InstitutionID,
		CreatedAt:     c.CreatedAt.UTC(),
	}
}

func (r row) toModel() (*models.Certificate, error) {
	mode, err := canonical.ParseArrayMode(r.ArrayMode)
	if err != nil {
		return nil, err
	}
	return &models.Certificate{
		ID:            r.ID,
		Data:          append([]byte(nil), r.Data...),
		DataHash:      r.DataHash,
		ArrayMode:     mode,
		InstitutionID: r.InstitutionID,
		CreatedAt:     r.CreatedAt.UTC(),
	}, nil
}

func clone(c *models.Certificate) *models.Certificate {
	cp := *c
	cp.Data = append([]byte(nil), c.Data...)
	return &cp
}
