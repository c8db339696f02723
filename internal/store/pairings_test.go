package store

import (
	"context"
	"testing"
	"time"
)

func TestPairings_ApproveAndRevoke(t *testing.T) {
	l := openTestLog(t)
	p := l.Pairings(0)
	ctx := context.Background()

	if p.IsPaired("15551234567") {
		t.Fatal("unknown phone should not be paired")
	}
	if err := p.Approve(ctx, "+1 (555) 123-4567", "ops"); err != nil {
		t.Fatal(err)
	}
	if !p.IsPaired("15551234567") {
		t.Error("approved phone should be paired")
	}

	list, err := p.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Phone != "15551234567" || list[0].ApprovedBy != "ops" || list[0].ExpiresAt != nil {
		t.Errorf("unexpected list: %+v", list)
	}

	if err := p.Revoke(ctx, "15551234567"); err != nil {
		t.Fatal(err)
	}
	if p.IsPaired("15551234567") {
		t.Error("revoked phone should not be paired")
	}
	if err := p.Revoke(ctx, "15550000000"); err != nil {
		t.Errorf("revoking unknown phone: %v", err)
	}
}

func TestPairings_Expiry(t *testing.T) {
	l := openTestLog(t)
	p := l.Pairings(7)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if err := p.Approve(context.Background(), "15551234567", ""); err != nil {
		t.Fatal(err)
	}
	if !p.IsPaired("15551234567") {
		t.Fatal("fresh approval should be paired")
	}

	now = now.Add(7*24*time.Hour + time.Millisecond)
	if p.IsPaired("15551234567") {
		t.Error("approval should expire after the TTL")
	}
	list, _ := p.List(context.Background())
	if len(list) != 0 {
		t.Errorf("expired approvals should not be listed: %+v", list)
	}
}

func TestPairings_EmptyPhone(t *testing.T) {
	p := openTestLog(t).Pairings(0)
	if err := p.Approve(context.Background(), "n/a", ""); err == nil {
		t.Error("expected validation error for a phone without digits")
	}
}
