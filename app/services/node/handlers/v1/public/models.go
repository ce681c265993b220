package public

import (
	"github.com/birthmark/provenance/foundation/ledger/authority"
	"github.com/birthmark/provenance/foundation/validate"
)

// submitRequest is the payload for staging an image hash on the ledger.
type submitRequest struct {
	ImageHash         string          `json:"image_hash" validate:"required,len=64,hexadecimal"`
	Timestamp         int64           `json:"timestamp" validate:"required"`
	SubmitterID       string          `json:"submitter_id" validate:"required"`
	ModificationLevel int             `json:"modification_level" validate:"gte=0"`
	ParentImageHash   string          `json:"parent_image_hash" validate:"omitempty,len=64,hexadecimal"`
	GPSHash           string          `json:"gps_hash" validate:"omitempty,len=64,hexadecimal"`
	OwnerHash         string          `json:"owner_hash"`
	AuthorityID       string          `json:"manufacturer_authority_id" validate:"required"`
	Token             authority.Token `json:"camera_token"`
}

// Validate checks the data in the model is considered clean.
func (r submitRequest) Validate() error {
	return validate.Check(r)
}

// submitResponse acknowledges a staged submission.
type submitResponse struct {
	SubmissionID uint64 `json:"submission_id"`
	ImageHash    string `json:"image_hash"`
	Status       string `json:"status"`
}

// verifyResponse reports whether an image hash is on the ledger and, when
// it is, the ledger record details for the hash.
type verifyResponse struct {
	Verified          bool   `json:"verified"`
	ImageHash         string `json:"image_hash"`
	BlockHeight       uint64 `json:"block_height,omitempty"`
	TxID              uint64 `json:"tx_id,omitempty"`
	Timestamp         int64  `json:"timestamp,omitempty"`
	SubmitterID       string `json:"submitter_id,omitempty"`
	ModificationLevel int    `json:"modification_level,omitempty"`
	ParentImageHash   string `json:"parent_image_hash,omitempty"`
	GPSHash           string `json:"gps_hash,omitempty"`
}
