package validation

import "fmt"

// Stock result messages.
const (
	MessageValid          = "Signature is valid"
	MessageInvalid        = "Signature verification failed"
	MessageNoSignatures   = "No signatures found in document"
	MessageBadSignature   = "Invalid signature"
	MessageExpired        = "Signature has expired"
	MessageSignerNotFound = "Verification failed: signer certificate not found in signature"
	MessageSignerMismatch = "Verification failed: signerDN does not match the signer certificate"
)

// Result is the verdict for one signature entry.
type Result struct {
	Valid    bool    `json:"valid"`
	SignerDN *string `json:"signerDN"`
	Message  string  `json:"message"`
}

// NewResult creates a Result. An empty message is replaced by the stock
// message for the verdict.
func NewResult(valid bool, signerDN *string, message string) Result {
	if message == "" {
		if valid {
			message = MessageValid
		} else {
			message = MessageInvalid
		}
	}
	var dn *string
	if signerDN != nil {
		s := *signerDN
		dn = &s
	}
	return Result{Valid: valid, SignerDN: dn, Message: message}
}

// Signer returns the signer DN or "" when unknown.
func (r Result) Signer() string {
	if r.SignerDN == nil {
		return ""
	}
	return *r.SignerDN
}

func (r Result) String() string {
	status := "INVALID"
	if r.Valid {
		status = "VALID"
	}
	if r.SignerDN == nil {
		return fmt.Sprintf("%s: %s", status, r.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", status, *r.SignerDN, r.Message)
}

// AllValid reports whether results is non-empty and every result is valid.
func AllValid(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Valid {
			return false
		}
	}
	return true
}
