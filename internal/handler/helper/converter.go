package helper

import (
	"time"

	"github.com/yourusername/medqr-api/internal/service"
)

// ReportHeaders are the column titles of the user status export
var ReportHeaders = []interface{}{"ID", "Email", "Remote ID", "State", "Verified", "Source", "Verified At", "Created At", "Updated At"}

// ReportRow converts one status into an export row. Free-text cells are sanitized.
func ReportRow(u service.UserStatus) []interface{} {
	verified := "no"
	if u.EmailVerified {
		verified = "yes"
	}
	verifiedAt := ""
	if u.VerifiedAt != nil {
		verifiedAt = u.VerifiedAt.UTC().Format(time.RFC3339)
	}
	return []interface{}{
		u.ID,
		SanitizeForExcel(u.Email),
		SanitizeForExcel(u.RemoteID),
		string(u.State),
		verified,
		string(u.VerificationSource),
		verifiedAt,
		u.CreatedAt.UTC().Format(time.RFC3339),
		u.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// SanitizeForExcel prefixes values that a spreadsheet would evaluate as a formula.
func SanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}
