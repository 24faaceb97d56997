package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/ebm/model"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrInvalidRefreshToken  = errors.New("invalid refresh token")
	ErrUserNotFound         = errors.New("user not found")
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrFlagNotFound         = errors.New("feature flag not found")
	ErrForbidden            = errors.New("admin access required")
)

// DemoPassword is the password of the seeded demo user.
const DemoPassword = "password123"

// account is a user record with its credentials.
type account struct {
	user         model.User
	passwordHash []byte
	refreshToken string
}

// store is the in-memory dataset served by the API.
type store struct {
	mu       sync.RWMutex
	flags    []model.FeatureFlag
	orgs     map[string]model.Organization
	accounts map[string]*account
	byEmail  map[string]string
}

func newStore() *store {
	return &store{
		orgs:     make(map[string]model.Organization),
		accounts: make(map[string]*account),
		byEmail:  make(map[string]string),
	}
}

// seedDemo loads the demo flags, organizations and user.
func (s *store) seedDemo(now time.Time) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing demo password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.flags = demoFlags()
	for _, o := range demoOrganizations() {
		s.orgs[o.ID] = o
	}
	u := model.User{
		ID:        "user-1",
		Email:     "demo@example.com",
		FirstName: "Demo",
		LastName:  "User",
		Organizations: []model.UserOrganization{
			{OrganizationID: "org-1", OrganizationName: "Demo Organization", Role: model.RoleAdmin, JoinedAt: now},
			{OrganizationID: "org-2", OrganizationName: "Second Org", Role: model.RoleMember, JoinedAt: now},
		},
		Preferences: &model.UserPreferences{Theme: "light", Language: "en", Notifications: true},
	}
	s.accounts[u.ID] = &account{user: u, passwordHash: hash}
	s.byEmail[strings.ToLower(u.Email)] = u.ID
	return nil
}

func demoFlags() []model.FeatureFlag {
	flag := func(key, name, description, module string) model.FeatureFlag {
		return model.FeatureFlag{
			Key:         key,
			Name:        name,
			Description: description,
			Enabled:     true,
			Scope:       model.ScopeGlobal,
			Metadata:    &model.FlagMetadata{Module: module},
		}
	}
	flags := []model.FeatureFlag{
		flag("market", "Marketplace", "Enable marketplace features", "home"),
		flag("job", "Job Board", "Enable job board features", "home"),
		flag("visit", "Visit", "Enable visit features", "home"),
		flag("work", "Work", "Enable work module", "work"),
		flag("work_dashboard", "Work Dashboard", "Enable work dashboard", "work"),
		flag("work_processes", "Work Processes", "Enable work processes", "work"),
		flag("work_tasks", "Work Tasks", "Enable work tasks", "work"),
		flag("work_analytics", "Work Analytics", "Enable work analytics", "work"),
	}
	flags[4].Metadata.RequiredRole = model.RoleMember
	return flags
}

func demoOrganizations() []model.Organization {
	return []model.Organization{
		{
			ID:          "org-1",
			Name:        "Demo Organization",
			Description: "A demo organization for testing",
			Settings: &model.OrganizationSettings{
				AllowPublicJobs:  true,
				AllowMarketplace: true,
				CustomBranding:   &model.BrandingSettings{PrimaryColor: "#3880ff", SecondaryColor: "#0cd1e8"},
			},
			FeatureFlags: []string{"market", "job", "visit", "work", "work_dashboard", "work_processes", "work_tasks", "work_analytics"},
		},
		{
			ID:           "org-2",
			Name:         "Second Org",
			Description:  "Another demo organization",
			Settings:     &model.OrganizationSettings{AllowMarketplace: true},
			FeatureFlags: []string{"market", "visit", "work", "work_dashboard"},
		},
	}
}

// authenticate checks email and password.
func (s *store) authenticate(email, password string) (model.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	var acct *account
	if ok {
		acct = s.accounts[id]
	}
	s.mu.RUnlock()
	if acct == nil {
		return model.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)); err != nil {
		return model.User{}, ErrInvalidCredentials
	}
	return acct.user, nil
}

func (s *store) user(id string) (model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return model.User{}, ErrUserNotFound
	}
	return acct.user, nil
}

// setRefreshToken records the only refresh token accepted for the user. An
// empty token revokes it.
func (s *store) setRefreshToken(userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return ErrUserNotFound
	}
	acct.refreshToken = token
	return nil
}

func (s *store) refreshTokenMatches(userID, token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	return ok && token != "" && acct.refreshToken == token
}

func (s *store) organization(id string) (model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[id]
	if !ok {
		return model.Organization{}, fmt.Errorf("%s: %w", id, ErrOrganizationNotFound)
	}
	return cloneOrg(o), nil
}

// organizations returns the requested organizations the user belongs to,
// in request order. Unknown ids are skipped.
func (s *store) organizations(user model.User, ids []string) []model.Organization {
	member := mapset.NewThreadUnsafeSet(user.MembershipIDs()...)
	seen := mapset.NewThreadUnsafeSet[string]()

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Organization, 0, len(ids))
	for _, id := range ids {
		if !member.Contains(id) || !seen.Add(id) {
			continue
		}
		if o, ok := s.orgs[id]; ok {
			out = append(out, cloneOrg(o))
		}
	}
	return out
}

// resolveFlags returns the global flags, re-evaluated against the
// organization's enabled keys when organizationID names an organization
// with a feature list.
func (s *store) resolveFlags(organizationID string) ([]model.FeatureFlag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FeatureFlag, len(s.flags))
	copy(out, s.flags)
	if organizationID == "" {
		return out, nil
	}
	o, ok := s.orgs[organizationID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", organizationID, ErrOrganizationNotFound)
	}
	if o.FeatureFlags == nil {
		return out, nil
	}
	enabled := mapset.NewThreadUnsafeSet(o.FeatureFlags...)
	for i := range out {
		out[i].Enabled = enabled.Contains(out[i].Key)
		out[i].Scope = model.ScopeOrganization
	}
	return out, nil
}

// flagEnabled checks one key, preferring the organization's list.
func (s *store) flagEnabled(key, organizationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.orgs[organizationID]; ok && o.FeatureFlags != nil {
		return mapset.NewThreadUnsafeSet(o.FeatureFlags...).Contains(key)
	}
	for _, f := range s.flags {
		if f.Key == key {
			return f.Enabled
		}
	}
	return false
}

// setFlag toggles key globally, or in the organization's list when
// organizationID is set. Organization changes require the admin role.
func (s *store) setFlag(user model.User, key, organizationID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := false
	for i := range s.flags {
		if s.flags[i].Key == key {
			known = true
			if organizationID == "" {
				s.flags[i].Enabled = enabled
			}
		}
	}
	if !known {
		return fmt.Errorf("%s: %w", key, ErrFlagNotFound)
	}
	if organizationID == "" {
		return nil
	}

	m, ok := user.Membership(organizationID)
	if !ok || m.Role != model.RoleAdmin {
		return ErrForbidden
	}
	o, ok := s.orgs[organizationID]
	if !ok {
		return fmt.Errorf("%s: %w", organizationID, ErrOrganizationNotFound)
	}
	keys := mapset.NewThreadUnsafeSet(o.FeatureFlags...)
	if enabled {
		keys.Add(key)
	} else {
		keys.Remove(key)
	}
	// Keep the existing order and append new keys.
	next := make([]string, 0, keys.Cardinality())
	for _, k := range o.FeatureFlags {
		if keys.Contains(k) {
			next = append(next, k)
			keys.Remove(k)
		}
	}
	next = append(next, mapset.Sorted(keys)...)
	o.FeatureFlags = next
	s.orgs[organizationID] = o
	return nil
}

func cloneOrg(o model.Organization) model.Organization {
	o.FeatureFlags = append([]string(nil), o.FeatureFlags...)
	return o
}
