package model

import "time"

// Role is a user's role inside one organization.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// BrandingSettings are the colour overrides of an organization.
type BrandingSettings struct {
	PrimaryColor   string `json:"primaryColor,omitempty"`
	SecondaryColor string `json:"secondaryColor,omitempty"`
}

// OrganizationSettings are opaque to the resolvers.
type OrganizationSettings struct {
	AllowPublicJobs  bool              `json:"allowPublicJobs,omitempty"`
	AllowMarketplace bool              `json:"allowMarketplace,omitempty"`
	CustomBranding   *BrandingSettings `json:"customBranding,omitempty"`
}

// Organization is a tenant the user can be a member of. FeatureFlags lists
// the keys the organization enables.
type Organization struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Logo         string                `json:"logo,omitempty"`
	Description  string                `json:"description,omitempty"`
	Settings     *OrganizationSettings `json:"settings,omitempty"`
	FeatureFlags []string              `json:"featureFlags,omitempty"`
}

// OrganizationBatchRequest is the body of POST /organizations/batch.
type OrganizationBatchRequest struct {
	IDs []string `json:"ids"`
}

// UserOrganization is a membership record owned by a User.
type UserOrganization struct {
	OrganizationID   string    `json:"organizationId"`
	OrganizationName string    `json:"organizationName"`
	Role             Role      `json:"role"`
	JoinedAt         time.Time `json:"joinedAt"`
}

// UserPreferences are opaque to the resolvers.
type UserPreferences struct {
	Theme         string `json:"theme,omitempty"`
	Language      string `json:"language,omitempty"`
	Notifications bool   `json:"notifications,omitempty"`
}

// User is the authenticated principal.
type User struct {
	ID            string             `json:"id"`
	Email         string             `json:"email"`
	FirstName     string             `json:"firstName"`
	LastName      string             `json:"lastName"`
	Avatar        string             `json:"avatar,omitempty"`
	Organizations []UserOrganization `json:"organizations"`
	Preferences   *UserPreferences   `json:"preferences,omitempty"`
}

// MembershipIDs returns the organization ids of u in membership order.
func (u *User) MembershipIDs() []string {
	if u == nil {
		return nil
	}
	ids := make([]string, 0, len(u.Organizations))
	for _, m := range u.Organizations {
		ids = append(ids, m.OrganizationID)
	}
	return ids
}

// Membership returns the membership record for organizationID.
func (u *User) Membership(organizationID string) (UserOrganization, bool) {
	if u == nil {
		return UserOrganization{}, false
	}
	for _, m := range u.Organizations {
		if m.OrganizationID == organizationID {
			return m, true
		}
	}
	return UserOrganization{}, false
}

// AuthToken is the opaque token pair returned by login and refresh.
type AuthToken struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}
