package store

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"stash/internal/models"
	"stash/internal/sanitize"
	"stash/internal/testutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(testutil.TestDB(t))
}

func TestSavePrimaryIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.Now = func() time.Time { return base }
	id1, existed, err := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "https://example.com/a", URL: "https://example.com/a", Type: models.TypeURL})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if existed {
		t.Fatal("first save reported existed")
	}

	s.Now = func() time.Time { return base.Add(time.Minute) }
	id2, existed, err := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "  https://example.com/a  ", Type: models.TypeURL})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if !existed || id2 != id1 {
		t.Fatalf("second save = (%q, %v), want (%q, true)", id2, existed, id1)
	}

	var count int64
	s.DB.Model(&models.Item{}).Where("user_id = ?", "u1").Count(&count)
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
	item, err := s.Get(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if !item.UpdatedAt.After(item.CreatedAt) {
		t.Errorf("updated_at %v did not advance past created_at %v", item.UpdatedAt, item.CreatedAt)
	}
}

func TestSavePrimaryMatchesExistingURLColumn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Pasting a URL that an existing item already points at resolves to that item.
	id, _, err := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "my upload", URL: "https://cdn.example.com/x.png", Type: models.TypeImage})
	if err != nil {
		t.Fatal(err)
	}
	got, existed, err := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "https://cdn.example.com/x.png", Type: models.TypeURL})
	if err != nil {
		t.Fatal(err)
	}
	if !existed || got != id {
		t.Errorf("url match = (%q, %v), want (%q, true)", got, existed, id)
	}
}

func TestSavePrimaryScopedPerUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, _, err := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "same"})
	if err != nil {
		t.Fatal(err)
	}
	b, existed, err := s.SavePrimary(ctx, SaveInput{UserID: "u2", Content: "same"})
	if err != nil {
		t.Fatal(err)
	}
	if existed || a == b {
		t.Errorf("different users must get different items: %q %q existed=%v", a, b, existed)
	}
}

func TestSavePrimaryConcurrentDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ids[i], _, errs[i] = s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "https://example.com/race", Type: models.TypeURL})
		}(i)
	}
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if ids[i] != ids[0] {
			t.Fatalf("distinct ids %q and %q", ids[0], ids[i])
		}
	}
	var count int64
	s.DB.Model(&models.Item{}).Count(&count)
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
}

func TestSavePrimaryLosesInsertRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Slip a competing row in after the dedup lookup and before the insert.
	const winnerID = "01WINNER000000000000000000"
	fired := false
	err := s.DB.Callback().Create().Before("gorm:create").Register("test:concurrent_insert", func(db *gorm.DB) {
		item, ok := db.Statement.Dest.(*models.Item)
		if !ok || fired {
			return
		}
		fired = true
		winner := *item
		winner.ID = winnerID
		if err := db.Session(&gorm.Session{NewDB: true}).Create(&winner).Error; err != nil {
			db.AddError(err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	id, existed, err := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "https://example.com/raced", Type: models.TypeURL})
	if err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("competing insert never ran")
	}
	if id != winnerID || !existed {
		t.Errorf("id = %q existed = %v, want winner row", id, existed)
	}
	var count int64
	s.DB.Model(&models.Item{}).Count(&count)
	if count != 1 {
		t.Fatalf("rows = %d, want 1", count)
	}
}

func TestSavePrimaryUsesFileID(t *testing.T) {
	s := newTestStore(t)
	id, _, err := s.SavePrimary(context.Background(), SaveInput{
		UserID:  "u1",
		Content: "https://cdn.example.com/uploads/u1/01HZY.png",
		URL:     "https://cdn.example.com/uploads/u1/01HZY.png",
		Type:    models.TypeImage,
		FileID:  "01HZYFILEID0000000000000000",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "01HZYFILEID0000000000000000" {
		t.Errorf("id = %q, want file id", id)
	}
}

func TestSavePrimaryRejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.SavePrimary(context.Background(), SaveInput{UserID: "u1", Content: "   "}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestApplyEnrichmentTruncatesAndRefines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _, err := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "https://example.com/f", Type: models.TypeFile})
	if err != nil {
		t.Fatal(err)
	}

	err = s.ApplyEnrichment(ctx, id, Patch{
		Title:       "Title \U0001F680",
		Description: strings.Repeat("d", 1000),
		Type:        models.TypeImage,
		Tags:        models.ItemTags{Author: "ada"},
		Status:      models.StatusCompleted,
	})
	if err != nil {
		t.Fatal(err)
	}
	item, err := s.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if n := utf8.RuneCountInString(item.Description); n > models.MaxDescriptionLength {
		t.Errorf("description length = %d", n)
	}
	if item.Title != "Title" {
		t.Errorf("title = %q", item.Title)
	}
	if item.Type != models.TypeImage {
		t.Errorf("type = %q, want image", item.Type)
	}
	if item.Status != models.StatusCompleted {
		t.Errorf("status = %q", item.Status)
	}
	if !strings.Contains(string(item.Tags), `"author":"ada"`) {
		t.Errorf("tags = %s", item.Tags)
	}

	// Never downgraded back to file.
	if err := s.ApplyEnrichment(ctx, id, Patch{Type: models.TypeFile}); err != nil {
		t.Fatal(err)
	}
	item, _ = s.Get(ctx, id)
	if item.Type != models.TypeImage {
		t.Errorf("type downgraded to %q", item.Type)
	}
}

func TestWritesToDeletedItemAreNoops(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _, err := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "gone soon"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "u1", id); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyEnrichment(ctx, id, Patch{Title: "late", Status: models.StatusCompleted}); err != nil {
		t.Errorf("ApplyEnrichment on deleted item: %v", err)
	}
	if err := s.SetStatus(ctx, id, models.StatusFailed, "x"); err != nil {
		t.Errorf("SetStatus on deleted item: %v", err)
	}
	if _, err := s.Get(ctx, id); err != ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestDeleteOtherUsersItem(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id, _, _ := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "mine"})
	if err := s.Delete(ctx, "u2", id); err != ErrNotFound {
		t.Errorf("Delete by other user = %v, want ErrNotFound", err)
	}
}

func TestListWithMetadataFallsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := models.Metadata{ID: "m1", URLHash: "h1", StrippedURL: "https://example.com/a", Metadata: []byte(`{"title":"Cached title","description":"Cached desc"}`)}
	if err := s.DB.Create(&meta).Error; err != nil {
		t.Fatal(err)
	}
	withMeta, _, _ := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "https://example.com/a", Type: models.TypeURL})
	if err := s.ApplyEnrichment(ctx, withMeta, Patch{MetadataID: "m1"}); err != nil {
		t.Fatal(err)
	}
	plain, _, _ := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "just some text"})

	views, err := s.ListWithMetadata(ctx, "u1", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("views = %d", len(views))
	}
	byID := map[string]ItemView{}
	for _, v := range views {
		byID[v.ID] = v
	}
	if v := byID[withMeta]; v.Title != "Cached title" || v.Metadata == nil {
		t.Errorf("metadata view = %+v", v)
	}
	if v := byID[plain]; v.Title != "just some text" {
		t.Errorf("plain title = %q", v.Title)
	}
}

func TestViewBoundsCachedText(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rawTitle := "Hi \U0001F600 there"
	rawDesc := strings.Repeat("d", 1000)
	meta := models.Metadata{ID: "m1", URLHash: "h1", StrippedURL: "https://example.com/a",
		Metadata: []byte(`{"title":"` + rawTitle + `","description":"` + rawDesc + `"}`)}
	if err := s.DB.Create(&meta).Error; err != nil {
		t.Fatal(err)
	}
	id, _, _ := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "https://example.com/a", Type: models.TypeURL})
	if err := s.ApplyEnrichment(ctx, id, Patch{MetadataID: "m1"}); err != nil {
		t.Fatal(err)
	}

	wantTitle := sanitize.Field(rawTitle, models.MaxTitleLength)
	check := func(name string, v ItemView) {
		if v.Title != wantTitle || v.Metadata.Title != wantTitle {
			t.Errorf("%s title = %q / %q, want %q", name, v.Title, v.Metadata.Title, wantTitle)
		}
		if n := utf8.RuneCountInString(v.Description); n != models.MaxDescriptionLength {
			t.Errorf("%s description length = %d", name, n)
		}
		if n := utf8.RuneCountInString(v.Metadata.Description); n != models.MaxDescriptionLength {
			t.Errorf("%s metadata description length = %d", name, n)
		}
	}

	got, err := s.GetView(ctx, "u1", id)
	if err != nil {
		t.Fatal(err)
	}
	check("get", *got)
	views, err := s.ListWithMetadata(ctx, "u1", 0, 0)
	if err != nil || len(views) != 1 {
		t.Fatalf("list = %d, %v", len(views), err)
	}
	check("list", views[0])
}

func TestStale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	s.Now = func() time.Time { return old }
	id, _, _ := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "stuck"})
	s.Now = time.Now
	done, _, _ := s.SavePrimary(ctx, SaveInput{UserID: "u1", Content: "fresh"})

	items, err := s.Stale(ctx, 10*time.Minute, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != id {
		t.Fatalf("stale = %+v, want only %s (not %s)", items, id, done)
	}
}
