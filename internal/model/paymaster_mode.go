package model

import "strings"

// PaymasterMode classifies how a user operation's gas was paid for.
type PaymasterMode string

const (
	PaymasterModeUnknown             PaymasterMode = "UNKNOWN"
	PaymasterModeSponsorshipPrepaid  PaymasterMode = "SPONSORSHIP_PREPAID"
	PaymasterModeSponsorshipPostpaid PaymasterMode = "SPONSORSHIP_POSTPAID"
	PaymasterModeToken                PaymasterMode = "TOKEN"
)

// ParsePaymasterMode is case-insensitive and accepts both the bus names
// ("SponsorshipPrepaid", "SponsorshipPostpaid", "Token") and the stored
// names ("SPONSORSHIP_PREPAID", ...), plus the legacy bus value
// "SPONSORSHIP" emitted by older producers.
func ParsePaymasterMode(s string) PaymasterMode {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SPONSORSHIP_PREPAID", "SPONSORSHIPPREPAID", "SPONSORSHIP":
		return PaymasterModeSponsorshipPrepaid
	case "SPONSORSHIP_POSTPAID", "SPONSORSHIPPOSTPAID":
		return PaymasterModeSponsorshipPostpaid
	case "TOKEN":
		return PaymasterModeToken
	default:
		return PaymasterModeUnknown
	}
}

// IsSponsorship reports whether the mode is one of the two sponsorship variants.
func (m PaymasterMode) IsSponsorship() bool {
	return m == PaymasterModeSponsorshipPrepaid || m == PaymasterModeSponsorshipPostpaid
}
