// Package policy centralizes the authorization rules for templates and
// forms. Every handler decision that depends on who the caller is funnels
// through here so the rules live in one place.
package policy

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Caller identifies an authenticated user for policy checks.
type Caller struct {
	UserID string
	Role   string
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// CanReadTemplate reports whether the caller may view a template. Public
// templates are open to everyone, including anonymous callers (nil caller).
// Private ones require ownership, an access grant, or the admin role.
func CanReadTemplate(c *Caller, ownerID string, public, hasGrant bool) bool {
	if public {
		return true
	}
	if c == nil {
		return false
	}
	return c.IsAdmin() || c.UserID == ownerID || hasGrant
}

// CanEditTemplate reports whether the caller may modify a template. Editing
// is owner-only: admins manage templates through bulk deletion and user
// administration, not by rewriting other people's content.
func CanEditTemplate(c *Caller, ownerID string) bool {
	if c == nil {
		return false
	}
	return c.UserID == ownerID
}

// CanDeleteTemplate reports whether the caller may delete a template.
// Owners delete their own; admins delete any.
func CanDeleteTemplate(c *Caller, ownerID string) bool {
	if c == nil {
		return false
	}
	return c.IsAdmin() || c.UserID == ownerID
}

// CanAccessForm reports whether the caller may read or edit a single
// submission. Only the submitter and admins qualify; template owners see
// submissions through the template-results listing instead.
func CanAccessForm(c *Caller, submitterID string) bool {
	if c == nil {
		return false
	}
	return c.IsAdmin() || c.UserID == submitterID
}

// CanViewTemplateForms reports whether the caller may list every submission
// against a template. This is the owner's window into responses; it does not
// grant access to individual forms through CanAccessForm.
func CanViewTemplateForms(c *Caller, templateOwnerID string) bool {
	if c == nil {
		return false
	}
	return c.IsAdmin() || c.UserID == templateOwnerID
}

// CanModerateComment reports whether the caller may delete a comment: the
// comment author, the owner of the template it sits on, or an admin.
func CanModerateComment(c *Caller, commentAuthorID, templateOwnerID string) bool {
	if c == nil {
		return false
	}
	return c.IsAdmin() || c.UserID == commentAuthorID || c.UserID == templateOwnerID
}
