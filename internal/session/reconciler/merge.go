package reconciler

import (
	"strings"

	profiledomain "tutorhub/backend/internal/profile/domain"
	sessiondomain "tutorhub/backend/internal/session/domain"
)

// merge combines a session with its profile row (nil when absent or unavailable).
// Profile fields win; the session email is authoritative. Role comes only from the profile.
// Without an accepted profile the user type falls back to a recognized user_type claim.
func merge(s *sessiondomain.Session, p *profiledomain.Profile) (*User, profiledomain.Role, []*IntegrityWarning) {
	var warnings []*IntegrityWarning
	claims, problems := sessiondomain.ParseClaims(s.Metadata)
	for _, pr := range problems {
		warnings = append(warnings, &IntegrityWarning{
			Kind:         KindMetadataShape,
			Subject:      s.Subject,
			SessionEmail: s.Email,
			Detail:       pr.Error(),
		})
	}

	user := &User{
		Subject:  s.Subject,
		Email:    s.Email,
		FullName: claims.FullName,
	}
	if t := profiledomain.UserType(claims.UserType); t != "" && t.Valid() {
		user.UserType = t
	}
	if p == nil {
		return user, "", warnings
	}

	if !strings.EqualFold(strings.TrimSpace(p.Email), strings.TrimSpace(s.Email)) {
		warnings = append(warnings, &IntegrityWarning{
			Kind:         KindEmailMismatch,
			Subject:      s.Subject,
			SessionEmail: s.Email,
			ProfileEmail: p.Email,
		})
		return user, "", warnings
	}

	user.ProfileID = p.ID
	if p.FullName != "" {
		user.FullName = p.FullName
	}
	if p.UserType.Valid() {
		user.UserType = p.UserType
	}
	role := p.Role
	if !role.Valid() {
		warnings = append(warnings, &IntegrityWarning{
			Kind:         KindInvalidRole,
			Subject:      s.Subject,
			SessionEmail: s.Email,
			ProfileEmail: p.Email,
			Detail:       "unknown role " + string(p.Role),
		})
		role = ""
	}
	return user, role, warnings
}
