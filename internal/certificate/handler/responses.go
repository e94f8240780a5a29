package handler

import (
	"certisure/internal/certificate/models"
	"certisure/internal/payload"
	"certisure/pkg/canonical"
)

const (
	msgRegistered        = "Certificate registered successfully."
	msgAlreadyRegistered = "Certificate is already registered."
	msgVerified          = "Certificate is authentic and registered."
	msgNotVerified       = "Certificate not found or has been tampered with."
	msgFound             = "Certificate found."
)

// RecordResponse is returned by create-record and upload-for-creation.
type RecordResponse struct {
	Message     string           `json:"message"`
	Verified    bool             `json:"verified"`
	Certificate canonical.Object `json:"certificate"`
	Proof       payload.Proof    `json:"proof"`
	QRCode      string           `json:"qrCode,omitempty"`
	Upload      *UploadResponse  `json:"upload,omitempty"`
}

// VerifyResponse is returned by verify-record, verify-proof and
// upload-for-verification.
type VerifyResponse struct {
	Message       string           `json:"message"`
	Verified      bool             `json:"verified"`
	Authoritative bool             `json:"authoritative,omitempty"`
	Method        string           `json:"method,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Certificate   canonical.Object `json:"certificate,omitempty"`
	Receipt       string           `json:"receipt,omitempty"`
	Upload        *UploadResponse  `json:"upload,omitempty"`
}

// LegacyCreateResponse is returned by POST /api/certificates.
type LegacyCreateResponse struct {
	Message       string           `json:"message"`
	CertificateID string           `json:"certificateId"`
	QRCode        string           `json:"qrCode,omitempty"`
	Certificate   canonical.Object `json:"certificate"`
}

// CertificateResponse is returned by GET /api/certificates/{id}.
type CertificateResponse struct {
	Message     string           `json:"message"`
	Certificate canonical.Object `json:"certificate"`
}

// UploadResponse describes where the QR payload was found in an upload.
type UploadResponse struct {
	DocumentHash string  `json:"documentHash,omitempty"`
	Page         int     `json:"page"`
	Scale        float64 `json:"scale"`
	Attempts     int     `json:"attempts"`
	Kind         string  `json:"kind"`
}

func toUploadResponse(info *models.UploadInfo) *UploadResponse {
	if info == nil {
		return nil
	}
	return &UploadResponse{
		DocumentHash: info.DocumentHash,
		Page:         info.Page,
		Scale:        info.Scale,
		Attempts:     info.Attempts,
		Kind:         info.Kind,
	}
}

func toRecordResponse(result *models.RegisterResult) (*RecordResponse, error) {
	doc, err := result.Certificate.Document()
	if err != nil {
		return nil, err
	}
	msg := msgRegistered
	if !result.Created {
		msg = msgAlreadyRegistered
	}
	return &RecordResponse{
		Message:     msg,
		Verified:    true,
		Certificate: doc,
		Proof:       payload.Proof{ID: result.Certificate.ID, Hash: result.Certificate.DataHash},
		QRCode:      result.QRCode,
		Upload:      toUploadResponse(result.Upload),
	}, nil
}

func toVerifyResponse(result *models.VerifyResult) (*VerifyResponse, error) {
	resp := &VerifyResponse{
		Message:       msgNotVerified,
		Verified:      result.Verified,
		Authoritative: result.Authoritative,
		Method:        result.Method,
		Reason:        result.Reason,
		Receipt:       result.Receipt,
		Upload:        toUploadResponse(result.Upload),
	}
	if result.Verified {
		resp.Message = msgVerified
	}
	if result.Certificate != nil {
		doc, err := result.Certificate.Document()
		if err != nil {
			return nil, err
		}
		resp.Certificate = doc
	}
	return resp, nil
}
