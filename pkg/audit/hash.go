package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
)

// ComputeHash returns the SHA-256 of the entry's fields joined with "|".
// Context is encoded as JSON with sorted keys; LoggedAt at millisecond
// precision so the hash survives every storage round trip.
func ComputeHash(e Entry) string {
	ctxJSON := ""
	if len(e.Context) > 0 {
		if b, err := json.Marshal(e.Context); err == nil {
			ctxJSON = string(b)
		}
	}

	data := strings.Join([]string{
		e.PrevHash,
		e.ID,
		e.UserID,
		e.Action,
		e.Description,
		string(e.Severity),
		e.Module,
		e.IP,
		e.UserAgent,
		e.RequestID,
		e.ErrorDetails,
		ctxJSON,
		strconv.FormatInt(e.LoggedAt.UnixMilli(), 10),
	}, "|")

	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
