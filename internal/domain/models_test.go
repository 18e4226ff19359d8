package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Enforce FKs so cascades actually execute.
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Account{}).TableName():      "users",
		(Conversation{}).TableName(): "conversations",
		(Message{}).TableName():      "messages",
		(Feedback{}).TableName():     "feedback",
		(BillingEvent{}).TableName(): "billing_events",
		(Idempotency{}).TableName():  "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_Indexes_AndCascades(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Account{}, &Conversation{}, &Message{}, &Feedback{}, &BillingEvent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasIndex(&Conversation{}, "idx_user_conversations") {
		t.Fatalf("expected index idx_user_conversations")
	}
	if !m.HasIndex(&Message{}, "idx_conversation_msgs") {
		t.Fatalf("expected index idx_conversation_msgs")
	}
	if !m.HasIndex(&Feedback{}, "ux_feedback_message_user") {
		t.Fatalf("expected unique index ux_feedback_message_user")
	}

	now := time.Now().UTC()
	conv := &Conversation{ID: "c1", UserID: "u1", Title: "T", CreatedAt: now}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("insert conversation: %v", err)
	}
	score := 80
	m1 := &Message{ID: "m1", ConversationID: "c1", UserID: "u1", Role: RoleUser, Content: "hello", CreatedAt: now}
	m2 := &Message{
		ID: "m2", ConversationID: "c1", UserID: "u1", Role: RoleAssistant, Content: "world",
		Sources:         []Source{{Title: "Mayo Clinic", URL: "https://www.mayoclinic.org", Type: "medical_website"}},
		ConfidenceScore: &score, CreatedAt: now.Add(time.Second),
	}
	if err := db.Create(m1).Error; err != nil {
		t.Fatalf("insert m1: %v", err)
	}
	if err := db.Create(m2).Error; err != nil {
		t.Fatalf("insert m2: %v", err)
	}

	var back Message
	if err := db.First(&back, "id = ?", "m2").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if len(back.Sources) != 1 || back.Sources[0].Title != "Mayo Clinic" || back.Sources[0].Type != "medical_website" {
		t.Fatalf("sources round-trip mismatch: %+v", back.Sources)
	}

	if err := db.Create(&Feedback{ID: "f1", MessageID: "m2", UserID: "u1", Value: 1}).Error; err != nil {
		t.Fatalf("insert feedback: %v", err)
	}
	if err := db.Create(&Feedback{ID: "f2", MessageID: "m2", UserID: "u1", Value: -1}).Error; err == nil {
		t.Fatalf("expected unique violation on (message_id,user_id)")
	}

	if err := db.Unscoped().Delete(&Conversation{}, "id = ?", "c1").Error; err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	var cnt int64
	db.Unscoped().Model(&Message{}).Where("conversation_id = ?", "c1").Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected messages to cascade-delete, got %d", cnt)
	}
	db.Unscoped().Model(&Feedback{}).Count(&cnt)
	if cnt != 0 {
		t.Fatalf("expected feedback to cascade-delete, got %d", cnt)
	}
}

func TestAccount_Defaults_AndSubscriptionUnique(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	a := &Account{ID: "a1", Auth0Sub: "auth0|a1", Email: "a@example.com", SubscriptionStatus: StatusFree, IsActive: true}
	b := &Account{ID: "b1", Auth0Sub: "auth0|b1", Email: "b@example.com", SubscriptionStatus: StatusFree, IsActive: true}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("create a: %v", err)
	}
	// Two NULL subscription ids must coexist.
	if err := db.Create(b).Error; err != nil {
		t.Fatalf("create b: %v", err)
	}

	sub := "sub_1"
	if err := db.Model(&Account{}).Where("id = ?", "a1").Update("subscription_id", sub).Error; err != nil {
		t.Fatalf("set sub a: %v", err)
	}
	if err := db.Model(&Account{}).Where("id = ?", "b1").Update("subscription_id", sub).Error; err == nil {
		t.Fatalf("expected unique violation on subscription_id")
	}

	dup := &Account{ID: "c1", Auth0Sub: "auth0|a1"}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on auth0_sub")
	}
}

func TestAccount_DisplayName(t *testing.T) {
	cases := []struct {
		a    Account
		want string
	}{
		{Account{FirstName: "Ada", LastName: "Lovelace", Name: "x"}, "Ada Lovelace"},
		{Account{Name: "Grace Hopper", GivenName: "Grace"}, "Grace Hopper"},
		{Account{GivenName: "Alan"}, "Alan"},
		{Account{Nickname: "bob"}, "bob"},
	}
	for _, tc := range cases {
		if got := tc.a.DisplayName(); got != tc.want {
			t.Fatalf("DisplayName() = %q; want %q", got, tc.want)
		}
	}
}
