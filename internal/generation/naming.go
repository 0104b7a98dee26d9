package generation

import (
	"strconv"
	"strings"
	"time"
)

// DefaultTemplate names output files when no naming template is configured
// for the payer.
const DefaultTemplate = "R835_{payerId}_{payeeId}_{date:yyyyMMdd}_{seq}.835"

// RenderFileName expands the naming template tokens {payerId}, {payeeId},
// {date:yyyyMMdd}, and {seq}.
func RenderFileName(template, payerID, payeeID string, date time.Time, seq int64) string {
	r := strings.NewReplacer(
		"{payerId}", payerID,
		"{payeeId}", payeeID,
		"{date:yyyyMMdd}", date.UTC().Format("20060102"),
		"{seq}", strconv.FormatInt(seq, 10),
	)
	return r.Replace(template)
}
