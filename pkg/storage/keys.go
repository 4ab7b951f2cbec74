package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
)

const dateLayout = "2006-01-02"

// identityKey returns the stored id of inc. Exports without an incident
// key get a stable id derived from the fields that describe the incident.
func identityKey(inc Incident) string {
	if inc.ID != "" {
		return inc.ID
	}
	loc := ""
	if inc.HasLocation {
		loc = fmt.Sprintf("%.6f,%.6f", inc.Lat, inc.Lon)
	}
	raw := fmt.Sprintf("%s|%d|%s|%s|%s", inc.Date(), inc.Hour, inc.Borough, inc.CrimeType, loc)
	sum := sha1.Sum([]byte(raw))
	return "h" + hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNegative(n int) interface{} {
	if n < 0 {
		return nil
	}
	return n
}

// monthExpr and yearExpr extract calendar parts of occurred_on as integers.
const (
	yearExpr      = "CAST(strftime('%Y', occurred_on) AS INTEGER)"
	monthExpr     = "CAST(strftime('%m', occurred_on) AS INTEGER)"
	yearMonthExpr = "strftime('%Y-%m', occurred_on)"
)
