package notifications

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/oap-labs/oapd/internal/apperr"
	"github.com/oap-labs/oapd/internal/auth"
	"github.com/oap-labs/oapd/internal/store"
)

type fakeNotifs struct {
	rows   map[uuid.UUID]*store.Notification
	grants map[string]*store.Permission // key rt|resource|user
}

func newFakeNotifs() *fakeNotifs {
	return &fakeNotifs{
		rows:   map[uuid.UUID]*store.Notification{},
		grants: map[string]*store.Permission{},
	}
}

func grantKey(rt store.ResourceType, rid, uid string) string {
	return string(rt) + "|" + rid + "|" + uid
}

func (f *fakeNotifs) Create(ctx context.Context, n *store.Notification) error {
	cp := *n
	f.rows[n.ID] = &cp
	return nil
}

func (f *fakeNotifs) Get(ctx context.Context, id uuid.UUID) (*store.Notification, error) {
	n, ok := f.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *n
	return &cp, nil
}

func (f *fakeNotifs) FindPendingEquivalent(ctx context.Context, recipientID string, t store.NotificationType, resourceID, senderID string) (*store.Notification, error) {
	for _, n := range f.rows {
		if n.RecipientID == recipientID && n.Type == t && n.ResourceID == resourceID &&
			n.SenderID == senderID && n.Status == store.NotificationPending {
			cp := *n
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeNotifs) List(ctx context.Context, recipientID string, opts store.NotificationListOpts) (*store.NotificationListResult, error) {
	res := &store.NotificationListResult{}
	for _, n := range f.rows {
		if n.RecipientID != recipientID {
			continue
		}
		res.Notifications = append(res.Notifications, *n)
		res.TotalCount++
		if n.Status == store.NotificationPending {
			res.PendingCount++
		}
	}
	return res, nil
}

func (f *fakeNotifs) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	n := 0
	for _, r := range f.rows {
		if r.RecipientID == recipientID && r.Status == store.NotificationPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotifs) UpdateStatus(ctx context.Context, id uuid.UUID, status store.NotificationStatus, respondedAt time.Time) error {
	n, ok := f.rows[id]
	if !ok {
		return sql.ErrNoRows
	}
	n.Status = status
	n.RespondedAt = &respondedAt
	return nil
}

func (f *fakeNotifs) AcceptAndGrant(ctx context.Context, id uuid.UUID, rt store.ResourceType, grant *store.Permission) error {
	n, ok := f.rows[id]
	if !ok {
		return sql.ErrNoRows
	}
	if n.Status != store.NotificationPending {
		return apperr.New(apperr.NotPending, "notification %s is %s", id, n.Status)
	}
	n.Status = store.NotificationAccepted
	f.grants[grantKey(rt, grant.ResourceID, grant.UserID)] = grant
	return nil
}

func (f *fakeNotifs) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	swept := 0
	for _, n := range f.rows {
		if n.Status == store.NotificationPending && n.ExpiresAt.Before(now) {
			n.Status = store.NotificationExpired
			swept++
		}
	}
	return swept, nil
}

type stubPerms struct {
	manage map[string]bool // rt|resource|user
	access map[string]bool
}

func (s *stubPerms) CanManage(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string) (bool, error) {
	return s.manage[grantKey(rt, resourceID, actor.UserID)], nil
}

func (s *stubPerms) CanAccess(ctx context.Context, actor auth.Actor, rt store.ResourceType, resourceID string, level store.Level) (bool, error) {
	return s.access[grantKey(rt, resourceID, actor.UserID)], nil
}

type stubResolver struct {
	graphs     map[string]*store.GraphMirror
	assistants map[uuid.UUID]*store.AssistantMirror
}

func (s *stubResolver) GetGraph(ctx context.Context, graphID string) (*store.GraphMirror, error) {
	g, ok := s.graphs[graphID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return g, nil
}

func (s *stubResolver) GetAssistant(ctx context.Context, id uuid.UUID) (*store.AssistantMirror, error) {
	a, ok := s.assistants[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return a, nil
}

type stubUsers struct{ users map[string]*store.User }

func (s *stubUsers) Get(ctx context.Context, id string) (*store.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type stubColls struct{}

func (stubColls) Get(ctx context.Context, id uuid.UUID) (*store.Collection, error) {
	return nil, sql.ErrNoRows
}

type fixture struct {
	svc       *Service
	notifs    *fakeNotifs
	perms     *stubPerms
	resolver  *stubResolver
	assistant uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	notifs := newFakeNotifs()
	perms := &stubPerms{manage: map[string]bool{}, access: map[string]bool{}}
	aid := uuid.New()
	resolver := &stubResolver{
		graphs: map[string]*store.GraphMirror{
			"graph-1": {GraphID: "graph-1", Name: "Research Graph"},
		},
		assistants: map[uuid.UUID]*store.AssistantMirror{
			aid: {AssistantID: aid, GraphID: "graph-1", Name: "Helper"},
		},
	}
	users := &stubUsers{users: map[string]*store.User{
		"alice": {ID: "alice", Email: "alice@example.com", DisplayName: "Alice"},
		"bob":   {ID: "bob", Email: "bob@example.com"},
	}}
	svc := NewService(notifs, users, resolver, stubColls{}, perms,
		30*24*time.Hour, slog.New(slog.DiscardHandler))
	return &fixture{svc: svc, notifs: notifs, perms: perms, resolver: resolver, assistant: aid}
}

func alice() auth.Actor { return auth.Actor{Type: auth.ActorUser, UserID: "alice"} }
func bob() auth.Actor   { return auth.Actor{Type: auth.ActorUser, UserID: "bob"} }

func TestCreateIdempotentOnPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true

	n1, err := f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)
	if err != nil {
		t.Fatal(err)
	}
	n2, err := f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)
	if err != nil {
		t.Fatal(err)
	}
	if n1.ID != n2.ID {
		t.Errorf("second create returned a new notification: %s vs %s", n1.ID, n2.ID)
	}
	if len(f.notifs.rows) != 1 {
		t.Errorf("rows = %d, want 1", len(f.notifs.rows))
	}
}

func TestCreateRequiresShareAuthority(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)
	if !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("err = %v, want Forbidden", err)
	}
}

func TestCreateRejectsSelfShare(t *testing.T) {
	f := newFixture(t)
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true
	_, err := f.svc.Create(context.Background(), alice(), "alice", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Errorf("err = %v, want InvalidInput", err)
	}
}

func TestAcceptAssistantShareWithGraphAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true
	f.perms.access[grantKey(store.ResourceGraph, "graph-1", "bob")] = true

	n, err := f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelEditor)
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Accept(ctx, bob(), n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != AcceptGranted {
		t.Fatalf("status = %v, want granted", res.Status)
	}
	grant := f.notifs.grants[grantKey(store.ResourceAssistant, f.assistant.String(), "bob")]
	if grant == nil || grant.Level != store.LevelEditor {
		t.Errorf("grant = %+v, want editor grant for bob", grant)
	}
	stored, _ := f.notifs.Get(ctx, n.ID)
	if stored.Status != store.NotificationAccepted {
		t.Errorf("status = %v, want accepted", stored.Status)
	}
}

func TestAcceptGuidedWhenGraphAccessMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true

	n, err := f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.Accept(ctx, bob(), n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != AcceptGuided {
		t.Fatalf("status = %v, want guided", res.Status)
	}
	if res.NextAction != "accept_graph" {
		t.Errorf("next_action = %q", res.NextAction)
	}
	if res.RelatedGraphNotificationID == nil {
		t.Fatal("missing related graph notification id")
	}

	// Original stays pending, sibling graph share exists.
	orig, _ := f.notifs.Get(ctx, n.ID)
	if orig.Status != store.NotificationPending {
		t.Errorf("original status = %v, want pending", orig.Status)
	}
	sibling, err := f.notifs.Get(ctx, *res.RelatedGraphNotificationID)
	if err != nil {
		t.Fatal(err)
	}
	if sibling.Type != store.NotifyGraphShare || sibling.ResourceID != "graph-1" {
		t.Errorf("sibling = %+v", sibling)
	}
	if sibling.PermissionLevel != store.LevelAccess {
		t.Errorf("sibling level = %v, want access", sibling.PermissionLevel)
	}

	// A second guided accept reuses the sibling instead of duplicating it.
	res2, err := f.svc.Accept(ctx, bob(), n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *res2.RelatedGraphNotificationID != *res.RelatedGraphNotificationID {
		t.Error("guided accept created a duplicate graph share")
	}

	// Once graph access lands, the assistant share accepts normally.
	f.perms.access[grantKey(store.ResourceGraph, "graph-1", "bob")] = true
	res3, err := f.svc.Accept(ctx, bob(), n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res3.Status != AcceptGranted {
		t.Errorf("status = %v, want granted after graph access", res3.Status)
	}
}

func TestAcceptWrongRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true
	n, _ := f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)

	_, err := f.svc.Accept(ctx, alice(), n.ID)
	if !apperr.Is(err, apperr.Forbidden) {
		t.Errorf("err = %v, want Forbidden", err)
	}
}

func TestAcceptExpiredIsNotPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true
	n, _ := f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)

	// Push time past expiry; the sweeper has not run.
	f.svc.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	_, err := f.svc.Accept(ctx, bob(), n.ID)
	if !apperr.Is(err, apperr.NotPending) {
		t.Errorf("err = %v, want NotPending for expired row", err)
	}
}

func TestRejectThenAcceptFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true
	n, _ := f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)

	rejected, err := f.svc.Reject(ctx, bob(), n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != store.NotificationRejected || rejected.RespondedAt == nil {
		t.Errorf("rejected = %+v", rejected)
	}
	_, err = f.svc.Accept(ctx, bob(), n.ID)
	if !apperr.Is(err, apperr.NotPending) {
		t.Errorf("err = %v, want NotPending", err)
	}
}

func TestExpireDueSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true
	n, _ := f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	swept, err := f.svc.ExpireDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}
	row, _ := f.notifs.Get(ctx, n.ID)
	if row.Status != store.NotificationExpired {
		t.Errorf("status = %v, want expired", row.Status)
	}
}

func TestListMarksStaleRowsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.perms.manage[grantKey(store.ResourceAssistant, f.assistant.String(), "alice")] = true
	f.svc.Create(ctx, alice(), "bob", store.NotifyAssistantShare, f.assistant.String(), store.LevelViewer)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(31 * 24 * time.Hour) }
	res, err := f.svc.List(ctx, bob(), store.NotificationListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Notifications) != 1 {
		t.Fatalf("len = %d", len(res.Notifications))
	}
	if res.Notifications[0].Status != store.NotificationExpired {
		t.Errorf("status = %v, want expired on read", res.Notifications[0].Status)
	}
}
