package license

import (
	"regexp"
	"strings"
	"time"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/pkg/models"
)

var dateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Timestamp layouts accepted for licenseExpiresAt, besides date-only values.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Reasons reported by Evaluate.
const (
	ReasonActive        = "license valid"
	ReasonBlocked       = "license blocked"
	ReasonExpiredStatus = "license expired"
	ReasonExpiredDate   = "license expiry date passed"
	ReasonNoExpiry      = "license has no expiry"
	ReasonMalformedDate = "unrecognized expiry date, allowed"
	ReasonNotFound      = "no license for document"
	ReasonNotInOffline  = "document not in offline cache"
)

// IsValid reports whether lic grants access at now. Blocked and expired
// statuses always deny. A date-only expiry is honored through the last
// millisecond of that day in now's location. Expiry strings that cannot be
// parsed allow access.
func IsValid(lic models.OfflineLicense, now time.Time) bool {
	ok, _ := Evaluate(lic, now)
	return ok
}

// Evaluate is IsValid with a human-readable reason.
func Evaluate(lic models.OfflineLicense, now time.Time) (bool, string) {
	switch lic.LicenseStatus {
	case models.LicenseBlocked:
		return false, ReasonBlocked
	case models.LicenseExpired:
		return false, ReasonExpiredStatus
	}

	if lic.LicenseExpiresAt == nil || strings.TrimSpace(*lic.LicenseExpiresAt) == "" {
		return true, ReasonNoExpiry
	}
	raw := strings.TrimSpace(*lic.LicenseExpiresAt)

	if dateOnly.MatchString(raw) {
		day, err := time.ParseInLocation("2006-01-02", raw, now.Location())
		if err != nil {
			return true, ReasonMalformedDate
		}
		endOfDay := day.AddDate(0, 0, 1).Add(-time.Millisecond)
		if now.After(endOfDay) {
			return false, ReasonExpiredDate
		}
		return true, ReasonActive
	}

	expiresAt, ok := parseTimestamp(raw, now.Location())
	if !ok {
		return true, ReasonMalformedDate
	}
	if expiresAt.Before(now) {
		return false, ReasonExpiredDate
	}
	return true, ReasonActive
}

func parseTimestamp(raw string, loc *time.Location) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
