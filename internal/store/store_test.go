package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func text(s string) *string { return &s }

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + contacts)", result.Version)
	}
}

func TestCreatePrivateConversationIdempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	id1, err := db.CreatePrivateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	// Reversed pair must land on the same row.
	id2, err := db.CreatePrivateConversation(ctx, "u2", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("got %q and %q, want one conversation per pair", id1, id2)
	}

	parts, err := db.Participants(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if len(parts) != 2 {
		t.Errorf("got %d participants, want 2", len(parts))
	}
}

func TestCreatePrivateConversationConcurrent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = db.CreatePrivateConversation(ctx, "a", "b")
		}()
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("call %d returned %q, want %q", i, ids[i], ids[0])
		}
	}
}

func TestCreatePrivateConversationRejectsSelf(t *testing.T) {
	db := testDB(t)
	if _, err := db.CreatePrivateConversation(context.Background(), "u1", "u1"); err == nil {
		t.Error("expected error for a self conversation")
	}
}

func TestFindPrivateConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, ok, err := db.FindPrivateConversation(ctx, "u1", "u2"); err != nil || ok {
		t.Fatalf("before create: ok=%v err=%v, want not found", ok, err)
	}

	want, err := db.CreatePrivateConversation(ctx, "u1", "u2")
	if err != nil {
		t.Fatal(err)
	}
	// A group containing both users must not match.
	if _, err := db.CreateGroupConversation(ctx, "g1", []string{"u1", "u2"}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := db.FindPrivateConversation(ctx, "u2", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got != want {
		t.Errorf("got (%q, %v), want (%q, true)", got, ok, want)
	}

	if _, ok, _ := db.FindPrivateConversation(ctx, "u1", "u3"); ok {
		t.Error("found a conversation for an unrelated pair")
	}
}

func TestFindGroupConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	want, err := db.CreateGroupConversation(ctx, "g1", []string{"u1", "u2", "u3"})
	if err != nil {
		t.Fatal(err)
	}
	again, err := db.CreateGroupConversation(ctx, "g1", []string{"u4"})
	if err != nil {
		t.Fatal(err)
	}
	if again != want {
		t.Errorf("second create returned %q, want %q", again, want)
	}

	got, ok, err := db.FindGroupConversation(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got != want {
		t.Errorf("got (%q, %v), want (%q, true)", got, ok, want)
	}
	if _, ok, _ := db.FindGroupConversation(ctx, "missing"); ok {
		t.Error("found a conversation for a missing group")
	}

	parts, _ := db.Participants(ctx, want)
	if len(parts) != 4 {
		t.Errorf("got %d participants, want 4", len(parts))
	}
}

func TestListConversationsAndOthers(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	p, _ := db.CreatePrivateConversation(ctx, "u1", "u2")
	g, _ := db.CreateGroupConversation(ctx, "g1", []string{"u1", "u3"})
	if _, err := db.CreatePrivateConversation(ctx, "u2", "u3"); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversationsOf(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2", len(convs))
	}
	for _, c := range convs {
		switch c.ID {
		case p:
			if c.Kind != ChatPrivate || c.GroupID != "" {
				t.Errorf("private conversation = %+v", c)
			}
		case g:
			if c.Kind != ChatGroup || c.GroupID != "g1" {
				t.Errorf("group conversation = %+v", c)
			}
		default:
			t.Errorf("unexpected conversation %q", c.ID)
		}
	}

	others, err := db.ListOtherParticipants(ctx, []string{p, g}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(others) != 2 {
		t.Fatalf("got %d other participants, want 2", len(others))
	}
	for _, o := range others {
		if o.UserID == "u1" {
			t.Error("requesting user was not excluded")
		}
	}
}

func TestInsertAndFetchMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertUser(ctx, &User{ID: "u1", Name: "Alice", Login: "alice"}); err != nil {
		t.Fatal(err)
	}
	conv, _ := db.CreatePrivateConversation(ctx, "u1", "u2")

	first, err := db.InsertMessage(ctx, &NewMessage{ConversationID: conv, SenderID: "u1", Content: text("hi"), Kind: KindText})
	if err != nil {
		t.Fatal(err)
	}
	second, err := db.InsertMessage(ctx, &NewMessage{ConversationID: conv, SenderID: "u2", Kind: KindImage, MediaURL: "img://1"})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID <= first.ID {
		t.Errorf("ids not increasing: %d then %d", first.ID, second.ID)
	}

	msgs, err := db.FetchMessages(ctx, conv, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != first.ID || msgs[0].Text() != "hi" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[0].SenderName != "Alice" || msgs[0].SenderLogin != "alice" {
		t.Errorf("sender profile = %q/%q, want Alice/alice", msgs[0].SenderName, msgs[0].SenderLogin)
	}
	if msgs[1].Content != nil || msgs[1].MediaURL != "img://1" {
		t.Errorf("media message = %+v", msgs[1])
	}
	if msgs[1].SenderName != "Unknown" {
		t.Errorf("unknown sender name = %q, want Unknown", msgs[1].SenderName)
	}

	last, err := db.LastMessage(ctx, conv)
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.ID != second.ID {
		t.Errorf("last = %+v, want id %d", last, second.ID)
	}
}

func TestListMessagesForConversationsLatestOnly(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a, _ := db.CreatePrivateConversation(ctx, "u1", "u2")
	b, _ := db.CreatePrivateConversation(ctx, "u1", "u3")
	for _, body := range []string{"a1", "a2", "a3"} {
		if _, err := db.InsertMessage(ctx, &NewMessage{ConversationID: a, SenderID: "u1", Content: text(body), Kind: KindText}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := db.InsertMessage(ctx, &NewMessage{ConversationID: b, SenderID: "u3", Content: text("b1"), Kind: KindText}); err != nil {
		t.Fatal(err)
	}

	all, err := db.ListMessagesForConversations(ctx, []string{a, b}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("got %d rows, want 4", len(all))
	}

	latest, err := db.ListMessagesForConversations(ctx, []string{a, b}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 {
		t.Fatalf("got %d rows, want 2", len(latest))
	}
	for _, m := range latest {
		if m.ConversationID == a && m.Text() != "a3" {
			t.Errorf("latest of a = %q, want a3", m.Text())
		}
	}
}

func TestUserAndContacts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.UpsertUser(ctx, &User{ID: "u1", Name: "Alice", Login: "alice", Avatar: "a.png"}); err != nil {
		t.Fatal(err)
	}
	// Empty name keeps the stored one.
	if err := db.UpsertUser(ctx, &User{ID: "u1", Login: "alice", IsOnline: true}); err != nil {
		t.Fatal(err)
	}
	u, err := db.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "Alice" || !u.IsOnline || u.Avatar != "a.png" {
		t.Errorf("got %+v", u)
	}
	if u, _ := db.GetUser(ctx, "missing"); u != nil {
		t.Errorf("expected nil for missing user")
	}

	for _, c := range []string{"u2", "u3", "u2"} {
		if err := db.AddContact(ctx, "u1", c); err != nil {
			t.Fatal(err)
		}
	}
	contacts, err := db.ListContacts(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 {
		t.Errorf("got %d contacts, want 2", len(contacts))
	}
}
