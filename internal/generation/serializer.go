// Package generation turns completed buckets into remittance files and
// delivers them to payer SFTP endpoints.
package generation

import (
	"fmt"
	"time"

	"github.com/remitflow/remitflow/internal/types"
)

// MissingConfigurationError aborts generation when the payer or payee the
// bucket references has no configuration row. The bucket parks in
// MISSING_CONFIGURATION until the row is created.
type MissingConfigurationError struct {
	Kind string // "payer" or "payee"
	ID   string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("missing %s configuration: %s", e.Kind, e.ID)
}

// Serializer renders a bucket's claims into remittance file bytes. The real
// 835 serializer is an external collaborator; X12Stub stands in for dev and
// tests.
type Serializer interface {
	Serialize(bucket *types.Bucket, claims []*types.Claim, payer *types.Payer, payee *types.Payee) ([]byte, error)
}

// X12Stub is a development serializer producing a readable placeholder
// rendition rather than real 835 segments.
type X12Stub struct{}

func (X12Stub) Serialize(bucket *types.Bucket, claims []*types.Claim, payer *types.Payer, payee *types.Payee) ([]byte, error) {
	var out []byte
	out = appendLine(out, "ISA*REMITFLOW*%s*%s*%s", payer.ID, payee.ID, time.Now().UTC().Format("20060102"))
	out = appendLine(out, "BPR*%s*%d", bucket.TotalAmount.StringFixed(2), bucket.ClaimCount)
	for _, c := range claims {
		out = appendLine(out, "CLP*%s*%s*%s*%s", c.ClaimNumber, c.Status,
			c.TotalChargeAmount.StringFixed(2), c.PaidAmount.StringFixed(2))
	}
	out = appendLine(out, "SE*%s", bucket.BucketID)
	return out, nil
}

func appendLine(b []byte, format string, args ...interface{}) []byte {
	return append(b, fmt.Sprintf(format+"\n", args...)...)
}
