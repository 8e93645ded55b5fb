package app

import (
	"context"
	"fmt"
	"strings"

	"otzaria/internal/util"
	"otzaria/pkg/auth"
	"otzaria/pkg/domain"
	"otzaria/pkg/legacy"
)

// legacyIDFields lists, in priority order, where legacy exports kept a user's id.
var legacyIDFields = []string{"id", "legacyId", "_id"}

// identityRef is a reference to a legacy user as it appears on pages,
// messages and uploads.
type identityRef struct {
	LegacyID string
	Name     string
}

func (r identityRef) empty() bool {
	return r.LegacyID == "" && r.Name == ""
}

// identityMap links legacy user keys to new user IDs.
type identityMap struct {
	byLegacyID map[string]string
	byName     map[string]string
}

func newIdentityMap() *identityMap {
	return &identityMap{
		byLegacyID: make(map[string]string),
		byName:     make(map[string]string),
	}
}

// register records both keys of a user. The first registration of a key wins.
func (m *identityMap) register(legacyID, name, userID string) {
	if legacyID != "" {
		if _, ok := m.byLegacyID[legacyID]; !ok {
			m.byLegacyID[legacyID] = userID
		}
	}
	if key := normalizeName(name); key != "" {
		if _, ok := m.byName[key]; !ok {
			m.byName[key] = userID
		}
	}
}

// resolveStrategy is one way of finding the user behind a reference.
type resolveStrategy func(m *identityMap, ref identityRef) (string, bool)

func byLegacyID(m *identityMap, ref identityRef) (string, bool) {
	if ref.LegacyID == "" {
		return "", false
	}
	id, ok := m.byLegacyID[ref.LegacyID]
	return id, ok
}

func byDisplayName(m *identityMap, ref identityRef) (string, bool) {
	key := normalizeName(ref.Name)
	if key == "" {
		return "", false
	}
	id, ok := m.byName[key]
	return id, ok
}

// resolveOrder is tried front to back; the first hit wins.
var resolveOrder = []resolveStrategy{byLegacyID, byDisplayName}

func (m *identityMap) resolve(ref identityRef) (string, bool) {
	for _, strategy := range resolveOrder {
		if id, ok := strategy(m, ref); ok {
			return id, true
		}
	}
	return "", false
}

// resolvePtr resolves ref into an optional reference.
func (m *identityMap) resolvePtr(ref identityRef) *string {
	id, ok := m.resolve(ref)
	if !ok {
		return nil
	}
	return &id
}

// normalizeName trims a display name and collapses inner whitespace.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// refFrom reads an identity reference from a legacy document.
func refFrom(doc map[string]any, idField, nameField string) identityRef {
	var ref identityRef
	if v, ok := legacy.String(doc[idField]); ok {
		ref.LegacyID = strings.TrimSpace(v)
	}
	if nameField != "" {
		if v, ok := legacy.String(doc[nameField]); ok {
			ref.Name = normalizeName(v)
		}
	}
	return ref
}

func legacyUserID(doc map[string]any) string {
	for _, field := range legacyIDFields {
		if v, ok := legacy.String(doc[field]); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// resolveUsers creates or reuses one target user per legacy user and fills
// the identity map.
func (a *App) resolveUsers(ctx context.Context, st *runState) error {
	st.identity = newIdentityMap()
	if len(st.users) == 0 {
		st.warn("no legacy users found")
		return nil
	}
	for _, item := range st.users {
		doc, ok := item.(map[string]any)
		if !ok {
			st.skip(entityUsers, 1)
			st.warn("skipped legacy user with unexpected shape")
			continue
		}
		legacyID := legacyUserID(doc)
		if legacyID != "" {
			if _, seen := st.identity.byLegacyID[legacyID]; seen {
				st.logger.Debug("duplicate legacy user", "legacyId", legacyID)
				st.skip(entityUsers, 1)
				continue
			}
		}
		name := ""
		if v, ok := legacy.String(doc["name"]); ok {
			name = normalizeName(v)
		}
		if name == "" && legacyID == "" {
			st.skip(entityUsers, 1)
			st.warn("skipped legacy user without id or name")
			continue
		}
		if name == "" {
			name = "user-" + legacyID
		}
		userID, err := a.restoreUser(ctx, st, doc, legacyID, name)
		if err != nil {
			return err
		}
		st.identity.register(legacyID, name, userID)
		st.count(entityUsers, 1)
	}
	return nil
}

func (a *App) restoreUser(ctx context.Context, st *runState, doc map[string]any, legacyID, name string) (string, error) {
	rawEmail, _ := legacy.String(doc["email"])
	email, ok := normalizeEmail(rawEmail)
	if !ok {
		email = synthesizeEmail(legacyID, name)
		st.warn("synthesized email for legacy user", "legacyId", legacyID, "name", name, "email", email)
	}

	roleRaw, hasRole := legacy.String(doc["role"])
	hasRole = hasRole && strings.TrimSpace(roleRaw) != ""
	role := domain.ParseUserRole(strings.TrimSpace(roleRaw))
	points, hasPoints := legacy.Int(doc["points"])
	if points < 0 {
		points = 0
	}

	existing, found, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("lookup user %s: %w", email, err)
	}
	if found {
		if a.mode == ModeUpsert {
			if !hasRole {
				role = existing.Role
			}
			if !hasPoints || points == 0 {
				points = existing.Points
			}
			if err := a.store.UpdateUserStanding(ctx, existing.ID, role, points); err != nil {
				return "", fmt.Errorf("update user %s: %w", email, err)
			}
		}
		return existing.ID, nil
	}

	hash, _ := legacy.String(doc["password"])
	hash = strings.TrimSpace(hash)
	switch {
	case hash == "":
		hash, err = auth.UnusableHash()
		if err != nil {
			return "", fmt.Errorf("hash placeholder password: %w", err)
		}
		st.warn("legacy user has no password, reset required", "legacyId", legacyID, "email", email)
	case !auth.IsBcryptHash(hash):
		st.warn("legacy password hash is not bcrypt", "legacyId", legacyID, "email", email)
	}

	createdAt := st.startedAt
	if t, ok := legacy.Time(doc["createdAt"]); ok {
		createdAt = t
	}
	updatedAt := st.startedAt
	if t, ok := legacy.Time(doc["updatedAt"]); ok {
		updatedAt = t
	}
	user := domain.User{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Points:       points,
		CreatedAt:    createdAt.UTC(),
		UpdatedAt:    updatedAt.UTC(),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		return "", fmt.Errorf("create user %s: %w", email, err)
	}
	return user.ID, nil
}
