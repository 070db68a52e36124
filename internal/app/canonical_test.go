package app

import (
	"context"
	"database/sql"
	"testing"

	"hearth/api/internal/store"
)

func strPtr(s string) *string { return &s }

func TestCanonicalCopyDelegatesToOriginal(t *testing.T) {
	fs := &fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			switch messageID {
			case "msg_copy":
				return store.Message{
					ID:                "msg_copy",
					RoomID:            "room_2",
					OriginalMessageID: strPtr("msg_orig"),
					Active:            true,
				}, nil
			case "msg_orig":
				return store.Message{
					ID:     "msg_orig",
					RoomID: "room_1",
					Body:   "<p>the one true body</p>",
					Active: true,
				}, nil
			}
			return store.Message{}, sql.ErrNoRows
		},
	}
	service, _, _, _ := newTestService(fs)

	canonical, err := service.GetMessage(context.Background(), "msg_copy")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if !canonical.IsCopy() {
		t.Fatal("expected a copy")
	}
	if got := canonical.Resolved().ID; got != "msg_orig" {
		t.Fatalf("resolved to %q, want msg_orig", got)
	}
	if got := canonical.PlainTextBody(); got != "the one true body" {
		t.Fatalf("PlainTextBody = %q", got)
	}
}

func TestCanonicalReadsAreLive(t *testing.T) {
	originalBody := "<p>before</p>"
	fs := &fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			if messageID == "msg_copy" {
				return store.Message{ID: "msg_copy", OriginalMessageID: strPtr("msg_orig"), Active: true}, nil
			}
			return store.Message{ID: "msg_orig", Body: originalBody, Active: true}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	first, err := service.GetMessage(context.Background(), "msg_copy")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got := first.PlainTextBody(); got != "before" {
		t.Fatalf("first read = %q", got)
	}

	originalBody = "<p>after</p>"
	second, err := service.GetMessage(context.Background(), "msg_copy")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got := second.PlainTextBody(); got != "after" {
		t.Fatalf("second read should see the edited original, got %q", got)
	}
}

func TestCanonicalMissingOriginalDegrades(t *testing.T) {
	fs := &fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			if messageID == "msg_copy" {
				return store.Message{ID: "msg_copy", OriginalMessageID: strPtr("msg_gone"), Active: true}, nil
			}
			return store.Message{}, sql.ErrNoRows
		},
	}
	service, _, _, _ := newTestService(fs)

	canonical, err := service.GetMessage(context.Background(), "msg_copy")
	if err != nil {
		t.Fatalf("GetMessage must degrade, not fail: %v", err)
	}
	if got := canonical.Resolved().ID; got != "msg_copy" {
		t.Fatalf("degraded resolution should fall back to the copy, got %q", got)
	}
	if got := canonical.PlainTextBody(); got != "" {
		t.Fatalf("degraded body should be empty, got %q", got)
	}
}

func TestPlainTextFallsBackToAttachmentFilename(t *testing.T) {
	canonical := Canonical{Message: store.Message{
		ID:             "msg_1",
		AttachmentKey:  strPtr("blobs/abc"),
		AttachmentName: strPtr("report.pdf"),
		Active:         true,
	}}
	if got := canonical.PlainTextBody(); got != "report.pdf" {
		t.Fatalf("PlainTextBody = %q, want report.pdf", got)
	}
	if got := canonical.ContentType(); got != "attachment" {
		t.Fatalf("ContentType = %q, want attachment", got)
	}
}

func TestSoundCommands(t *testing.T) {
	cases := []struct {
		body      string
		wantSound string
		wantType  string
	}{
		{"<p>/play tada</p>", "tada", "sound"},
		{"<p>/play horn</p>", "horn", "sound"},
		{"<p>/play doesnotexist</p>", "", "text"},
		{"<p>well /play tada</p>", "", "text"},
		{"<p>/play tada now</p>", "", "text"},
	}
	for _, tc := range cases {
		canonical := Canonical{Message: store.Message{ID: "msg_1", Body: tc.body, Active: true}}
		if got := canonical.Sound(); got != tc.wantSound {
			t.Errorf("Sound(%q) = %q, want %q", tc.body, got, tc.wantSound)
		}
		if got := canonical.ContentType(); got != tc.wantType {
			t.Errorf("ContentType(%q) = %q, want %q", tc.body, got, tc.wantType)
		}
	}
}

func TestDisplayBoostsUseCanonicalID(t *testing.T) {
	var queried string
	fs := &fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			if messageID == "msg_copy" {
				return store.Message{ID: "msg_copy", OriginalMessageID: strPtr("msg_orig"), Active: true}, nil
			}
			return store.Message{ID: "msg_orig", Active: true}, nil
		},
		listBoostsFn: func(_ context.Context, messageID string) ([]store.Boost, error) {
			queried = messageID
			return []store.Boost{{ID: "boost_1", MessageID: messageID}}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	canonical, err := service.GetMessage(context.Background(), "msg_copy")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	boosts, err := service.DisplayBoosts(context.Background(), canonical)
	if err != nil {
		t.Fatalf("DisplayBoosts: %v", err)
	}
	if queried != "msg_orig" {
		t.Fatalf("boosts queried for %q, want msg_orig", queried)
	}
	if len(boosts) != 1 {
		t.Fatalf("expected one boost, got %d", len(boosts))
	}
}

func TestDisplayBookmarksUseCanonicalID(t *testing.T) {
	var queried string
	fs := &fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			if messageID == "msg_copy" {
				return store.Message{ID: "msg_copy", OriginalMessageID: strPtr("msg_orig"), Active: true}, nil
			}
			return store.Message{ID: "msg_orig", Active: true}, nil
		},
		listBookmarksFn: func(_ context.Context, messageID string) ([]store.Bookmark, error) {
			queried = messageID
			return []store.Bookmark{{ID: "bookmark_1", MessageID: messageID, UserID: "u_1"}}, nil
		},
	}
	service, _, _, _ := newTestService(fs)

	canonical, err := service.GetMessage(context.Background(), "msg_copy")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	bookmarks, err := service.DisplayBookmarks(context.Background(), canonical)
	if err != nil {
		t.Fatalf("DisplayBookmarks: %v", err)
	}
	if queried != "msg_orig" {
		t.Fatalf("bookmarks queried for %q, want msg_orig", queried)
	}
	if len(bookmarks) != 1 {
		t.Fatalf("expected one bookmark, got %d", len(bookmarks))
	}
}
