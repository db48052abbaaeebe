package permissions

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

type fakeUsers struct {
	users map[string]*store.User
}

func (f *fakeUsers) Ensure(ctx context.Context, u *store.User) (bool, error) {
	_, existed := f.users[u.ID]
	f.users[u.ID] = u
	return !existed, nil
}

func (f *fakeUsers) Get(ctx context.Context, id string) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*store.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeUsers) List(ctx context.Context, limit, offset int) ([]store.User, int, error) {
	var out []store.User
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, len(out), nil
}

func (f *fakeUsers) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for id := range f.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeUsers) UpdateRole(ctx context.Context, id string, role auth.Role) error {
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Role = role
	return nil
}

func (f *fakeUsers) UpdateProfile(ctx context.Context, id, email, displayName string) error {
	u, ok := f.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.Email, u.DisplayName = email, displayName
	return nil
}

type permKey struct {
	rt  store.ResourceType
	rid string
	uid string
}

type fakePerms struct {
	rows map[permKey]*store.Permission
}

func newFakePerms() *fakePerms { return &fakePerms{rows: map[permKey]*store.Permission{}} }

func (f *fakePerms) Get(ctx context.Context, rt store.ResourceType, rid, uid string) (*store.Permission, error) {
	p, ok := f.rows[permKey{rt, rid, uid}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *p
	return &cp, nil
}

func (f *fakePerms) Upsert(ctx context.Context, rt store.ResourceType, p *store.Permission) (bool, error) {
	k := permKey{rt, p.ResourceID, p.UserID}
	_, existed := f.rows[k]
	cp := *p
	f.rows[k] = &cp
	return !existed, nil
}

func (f *fakePerms) Delete(ctx context.Context, rt store.ResourceType, rid, uid string) (bool, error) {
	k := permKey{rt, rid, uid}
	_, existed := f.rows[k]
	delete(f.rows, k)
	return existed, nil
}

func (f *fakePerms) List(ctx context.Context, rt store.ResourceType, rid string) ([]store.Permission, error) {
	var out []store.Permission
	for k, p := range f.rows {
		if k.rt == rt && k.rid == rid {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePerms) ListForUser(ctx context.Context, rt store.ResourceType, uid string) ([]store.Permission, error) {
	var out []store.Permission
	for k, p := range f.rows {
		if k.rt == rt && k.uid == uid {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePerms) CountByLevel(ctx context.Context, rt store.ResourceType, rid string, l store.Level) (int, error) {
	n := 0
	for k, p := range f.rows {
		if k.rt == rt && k.rid == rid && p.Level == l {
			n++
		}
	}
	return n, nil
}

func (f *fakePerms) GrantToAllUsers(ctx context.Context, rt store.ResourceType, rid string, l store.Level, grantedBy string) (int, error) {
	return 0, nil
}

func (f *fakePerms) GrantToUser(ctx context.Context, rt store.ResourceType, rid, uid string, l store.Level, grantedBy string) (bool, error) {
	k := permKey{rt, rid, uid}
	if _, existed := f.rows[k]; existed {
		return false, nil
	}
	f.rows[k] = &store.Permission{ResourceID: rid, UserID: uid, Level: l, GrantedBy: grantedBy}
	return true, nil
}

func (f *fakePerms) DeleteByGrantedBy(ctx context.Context, rt store.ResourceType, rid, grantedBy string) (int, error) {
	n := 0
	for k, p := range f.rows {
		if k.rt == rt && k.rid == rid && p.GrantedBy == grantedBy {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

type fakeColls struct {
	colls map[uuid.UUID]*store.Collection
}

func (f *fakeColls) Create(ctx context.Context, c *store.Collection) error {
	f.colls[c.ID] = c
	return nil
}

func (f *fakeColls) Get(ctx context.Context, id uuid.UUID) (*store.Collection, error) {
	c, ok := f.colls[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeColls) Update(ctx context.Context, c *store.Collection) error {
	f.colls[c.ID] = c
	return nil
}

func (f *fakeColls) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.colls, id)
	return nil
}

func (f *fakeColls) ListForUser(ctx context.Context, userID string) ([]store.Collection, error) {
	var out []store.Collection
	for _, c := range f.colls {
		if c.OwnerID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func testEngine(t *testing.T) (*Engine, *fakeUsers, *fakePerms, *fakeColls) {
	t.Helper()
	users := &fakeUsers{users: map[string]*store.User{
		"alice": {ID: "alice", Email: "alice@example.com", Role: auth.RoleUser},
		"bob":   {ID: "bob", Email: "bob@example.com", Role: auth.RoleUser},
		"dev":   {ID: "dev", Email: "dev@example.com", Role: auth.RoleDevAdmin},
	}}
	perms := newFakePerms()
	colls := &fakeColls{colls: map[uuid.UUID]*store.Collection{}}
	log := slog.New(slog.DiscardHandler)
	return NewEngine(users, perms, colls, log), users, perms, colls
}

func actor(id string, role auth.Role) auth.Actor {
	return auth.Actor{Type: auth.ActorUser, UserID: id, Role: role}
}

func TestCanAccessLevelOrdering(t *testing.T) {
	e, _, perms, _ := testEngine(t)
	ctx := context.Background()

	perms.rows[permKey{store.ResourceAssistant, "a1", "alice"}] = &store.Permission{
		ResourceID: "a1", UserID: "alice", Level: store.LevelEditor,
	}

	tests := []struct {
		name  string
		level store.Level
		want  bool
	}{
		{"editor satisfies viewer", store.LevelViewer, true},
		{"editor satisfies editor", store.LevelEditor, true},
		{"editor does not satisfy owner", store.LevelOwner, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.CanAccess(ctx, actor("alice", auth.RoleUser), store.ResourceAssistant, "a1", tt.level)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("CanAccess(%s) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestCanAccessDevAdminGraphShortcut(t *testing.T) {
	e, _, _, _ := testEngine(t)
	ctx := context.Background()

	ok, err := e.CanAccess(ctx, actor("dev", auth.RoleDevAdmin), store.ResourceGraph, "g1", store.LevelAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("dev_admin must always pass graph checks")
	}

	// The shortcut applies to graphs only.
	ok, err = e.CanAccess(ctx, actor("dev", auth.RoleDevAdmin), store.ResourceAssistant, "a1", store.LevelViewer)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("dev_admin without a grant should not pass assistant checks")
	}
}

func TestCanAccessLegacyCollectionOwner(t *testing.T) {
	e, _, _, colls := testEngine(t)
	ctx := context.Background()

	id := uuid.New()
	colls.colls[id] = &store.Collection{ID: id, Name: "legacy", OwnerID: "alice"}

	ok, err := e.CanAccess(ctx, actor("alice", auth.RoleUser), store.ResourceCollection, id.String(), store.LevelOwner)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("collection owner without a permission row must be honored")
	}

	ok, err = e.CanAccess(ctx, actor("bob", auth.RoleUser), store.ResourceCollection, id.String(), store.LevelViewer)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("non-owner without a grant must be denied")
	}
}

func TestCanAccessInvalidLevel(t *testing.T) {
	e, _, _, _ := testEngine(t)
	_, err := e.CanAccess(context.Background(), actor("alice", auth.RoleUser), store.ResourceGraph, "g1", store.LevelOwner)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Errorf("err = %v, want InvalidInput (owner is not a graph level)", err)
	}
}

func TestGrantRequiresManageAuthority(t *testing.T) {
	e, _, perms, _ := testEngine(t)
	ctx := context.Background()

	_, err := e.Grant(ctx, actor("bob", auth.RoleUser), store.ResourceAssistant, "a1", "alice", store.LevelViewer)
	if !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("err = %v, want Forbidden", err)
	}

	perms.rows[permKey{store.ResourceAssistant, "a1", "bob"}] = &store.Permission{
		ResourceID: "a1", UserID: "bob", Level: store.LevelOwner,
	}
	res, err := e.Grant(ctx, actor("bob", auth.RoleUser), store.ResourceAssistant, "a1", "alice", store.LevelViewer)
	if err != nil {
		t.Fatal(err)
	}
	if res != GrantCreated {
		t.Errorf("result = %v, want created", res)
	}

	// Second grant upserts.
	res, err = e.Grant(ctx, actor("bob", auth.RoleUser), store.ResourceAssistant, "a1", "alice", store.LevelEditor)
	if err != nil {
		t.Fatal(err)
	}
	if res != GrantUpdated {
		t.Errorf("result = %v, want updated", res)
	}
	p, _ := perms.Get(ctx, store.ResourceAssistant, "a1", "alice")
	if p.Level != store.LevelEditor {
		t.Errorf("level = %v, want editor after upsert", p.Level)
	}
}

func TestGrantUnknownRecipient(t *testing.T) {
	e, _, perms, _ := testEngine(t)
	ctx := context.Background()
	perms.rows[permKey{store.ResourceAssistant, "a1", "bob"}] = &store.Permission{
		ResourceID: "a1", UserID: "bob", Level: store.LevelOwner,
	}
	_, err := e.Grant(ctx, actor("bob", auth.RoleUser), store.ResourceAssistant, "a1", "ghost", store.LevelViewer)
	if !apperr.Is(err, apperr.NotFound) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestRevokeLastOwnerGuard(t *testing.T) {
	e, _, perms, _ := testEngine(t)
	ctx := context.Background()

	perms.rows[permKey{store.ResourceCollection, "c1", "alice"}] = &store.Permission{
		ResourceID: "c1", UserID: "alice", Level: store.LevelOwner,
	}

	_, err := e.Revoke(ctx, actor("alice", auth.RoleUser), store.ResourceCollection, "c1", "alice")
	if !apperr.Is(err, apperr.LastOwner) {
		t.Fatalf("err = %v, want LastOwner", err)
	}

	// With a second owner the revoke goes through.
	perms.rows[permKey{store.ResourceCollection, "c1", "bob"}] = &store.Permission{
		ResourceID: "c1", UserID: "bob", Level: store.LevelOwner,
	}
	removed, err := e.Revoke(ctx, actor("alice", auth.RoleUser), store.ResourceCollection, "c1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("revoke should remove the row")
	}
}

func TestRevokeNonOwnerRow(t *testing.T) {
	e, _, perms, _ := testEngine(t)
	ctx := context.Background()

	perms.rows[permKey{store.ResourceAssistant, "a1", "bob"}] = &store.Permission{
		ResourceID: "a1", UserID: "bob", Level: store.LevelOwner,
	}
	perms.rows[permKey{store.ResourceAssistant, "a1", "alice"}] = &store.Permission{
		ResourceID: "a1", UserID: "alice", Level: store.LevelViewer,
	}

	removed, err := e.Revoke(ctx, actor("bob", auth.RoleUser), store.ResourceAssistant, "a1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("viewer revoke should succeed")
	}

	// Revoking an absent row reports false, not an error.
	removed, err = e.Revoke(ctx, actor("bob", auth.RoleUser), store.ResourceAssistant, "a1", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if removed {
		t.Error("second revoke should be a no-op")
	}
}

func TestServiceActorBypassesChecks(t *testing.T) {
	e, _, _, _ := testEngine(t)
	ctx := context.Background()
	svc := auth.Actor{Type: auth.ActorService}

	ok, err := e.CanAccess(ctx, svc, store.ResourceCollection, uuid.NewString(), store.LevelOwner)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("service actor must pass access checks")
	}

	if _, err := e.Grant(ctx, svc, store.ResourceAssistant, "a1", "alice", store.LevelViewer); err != nil {
		t.Errorf("service grant failed: %v", err)
	}
}

func TestLevelNone(t *testing.T) {
	e, _, _, _ := testEngine(t)
	l, err := e.Level(context.Background(), "alice", store.ResourceGraph, "g-none")
	if err != nil {
		t.Fatal(err)
	}
	if l != "" {
		t.Errorf("Level = %q, want empty for no grant", l)
	}
}
