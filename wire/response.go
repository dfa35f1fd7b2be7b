package wire

// Response is the JSON body of every upload and finalize response.
// Success responses set Message; failures set Error.
type Response struct {
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	ArtifactID  string `json:"artifact_id,omitempty"`
	Index       *int64 `json:"index,omitempty"`
	Units       int    `json:"units,omitempty"`
	Bytes       int64  `json:"bytes,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	// Kind classifies finalize failures: no_units, size_mismatch, io.
	Kind string `json:"kind,omitempty"`
}

// Finalize failure kinds reported in Response.Kind.
const (
	KindNoUnits      = "no_units"
	KindSizeMismatch = "size_mismatch"
	KindIO           = "io"
	KindMalformed    = "malformed"
	KindIntegrity    = "integrity"
)

// Summary returns Error when set, otherwise Message.
func (r *Response) Summary() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}
