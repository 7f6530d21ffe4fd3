package enums

// QRFreshness is the verdict of validating a scanned delivery token.
type QRFreshness string

const (
	// QRFresh means the token matches the live status version.
	QRFresh QRFreshness = "FRESH"
	// QRStale means the tag is genuine but the delivery has moved on since
	// the token was generated.
	QRStale QRFreshness = "STALE"
	// QRInvalid means the integrity tag does not verify or the delivery is
	// unknown.
	QRInvalid QRFreshness = "INVALID"
	// QRManualOverride marks a manual-entry fallback that bypassed the
	// cryptographic check; always logged distinctly for audit.
	QRManualOverride QRFreshness = "MANUAL_OVERRIDE"
)

// String implements fmt.Stringer.
func (q QRFreshness) String() string {
	return string(q)
}
