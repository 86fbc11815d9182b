package models

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

type ProofStatus string

const (
	ProofSigned  ProofStatus = "SIGNED"
	ProofRefused ProofStatus = "REFUSED"
)

const (
	MaxProofPhotos       = 3
	MaxSignerNameLength  = 200
	MaxRefusalReasonSize = 500
)

// ProofPhoto is one geotagged photo attached to a proof.
type ProofPhoto struct {
	PhotoImage string    `json:"photoImage"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"capturedAt"`
}

// ProofRequest is the body of POST /trips/{tripId}/proof.
type ProofRequest struct {
	Status         ProofStatus  `json:"status"`
	SignatureImage string       `json:"signatureImage"`
	SignerName     string       `json:"signerName,omitempty"`
	RefusalReason  string       `json:"refusalReason,omitempty"`
	Latitude       float64      `json:"latitude"`
	Longitude      float64      `json:"longitude"`
	GPSAccuracy    float64      `json:"gpsAccuracy"`
	CapturedAt     time.Time    `json:"capturedAt"`
	Photos         []ProofPhoto `json:"photos,omitempty"`
}

// ProofSubmission is the queued unit: a request bound to its trip.
type ProofSubmission struct {
	TripID  string       `json:"trip_id"`
	Request ProofRequest `json:"request"`
}

// ProofResponse is the resource created by the server.
type ProofResponse struct {
	ID            string      `json:"id"`
	TripID        string      `json:"tripId"`
	Status        ProofStatus `json:"status"`
	SignerName    string      `json:"signerName,omitempty"`
	RefusalReason string      `json:"refusalReason,omitempty"`
	IntegrityHash string      `json:"integrityHash,omitempty"`
	CapturedAt    time.Time   `json:"capturedAt"`
	SyncedAt      time.Time   `json:"syncedAt"`
	PhotoCount    int         `json:"photoCount"`
}

var ErrInvalidProof = errors.New("invalid proof")

// Validate checks the request the same way the submission endpoint does.
func (r *ProofRequest) Validate() error {
	switch r.Status {
	case ProofSigned, ProofRefused:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidProof, r.Status)
	}
	if r.SignatureImage == "" {
		return fmt.Errorf("%w: signature image is required", ErrInvalidProof)
	}
	if utf8.RuneCountInString(r.SignerName) > MaxSignerNameLength {
		return fmt.Errorf("%w: signer name must not exceed %d characters", ErrInvalidProof, MaxSignerNameLength)
	}
	if utf8.RuneCountInString(r.RefusalReason) > MaxRefusalReasonSize {
		return fmt.Errorf("%w: refusal reason must not exceed %d characters", ErrInvalidProof, MaxRefusalReasonSize)
	}
	if r.Status == ProofRefused && r.RefusalReason == "" {
		return fmt.Errorf("%w: refusal reason is required when status is REFUSED", ErrInvalidProof)
	}
	if err := validateCoordinates(r.Latitude, r.Longitude); err != nil {
		return err
	}
	if r.GPSAccuracy <= 0 {
		return fmt.Errorf("%w: gps accuracy must be > 0", ErrInvalidProof)
	}
	if r.CapturedAt.IsZero() {
		return fmt.Errorf("%w: captured at timestamp is required", ErrInvalidProof)
	}
	if len(r.Photos) > MaxProofPhotos {
		return fmt.Errorf("%w: maximum %d photos allowed", ErrInvalidProof, MaxProofPhotos)
	}
	for i, p := range r.Photos {
		if p.PhotoImage == "" {
			return fmt.Errorf("%w: photo %d image is required", ErrInvalidProof, i)
		}
		if err := validateCoordinates(p.Latitude, p.Longitude); err != nil {
			return fmt.Errorf("photo %d: %w", i, err)
		}
		if p.CapturedAt.IsZero() {
			return fmt.Errorf("%w: photo %d captured at timestamp is required", ErrInvalidProof, i)
		}
	}
	return nil
}

func validateCoordinates(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude must be within [-90, 90]", ErrInvalidProof)
	}
	if lng < -180 || lng > 180 {
		return fmt.Errorf("%w: longitude must be within [-180, 180]", ErrInvalidProof)
	}
	return nil
}
