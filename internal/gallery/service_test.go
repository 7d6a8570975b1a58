package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evlasova/capgallery/internal/api"
	"github.com/evlasova/capgallery/internal/errs"
)

// galleryBackend is a scriptable /gallery/ surface.
type galleryBackend struct {
	listBody    string
	listStatus  int
	patchStatus int

	listCalls   int32
	patchCalls  int32
	putCalls    int32
	deleteCalls int32
	uploadCalls int32

	lastPutBody  []byte
	lastUpload   []byte
	blockUntil   chan struct{} // when set, GET blocks until closed
	deleteStatus int
}

func (b *galleryBackend) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/gallery/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			atomic.AddInt32(&b.listCalls, 1)
			if b.blockUntil != nil {
				<-b.blockUntil
			}
			status := b.listStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(b.listBody))
		case http.MethodPost:
			atomic.AddInt32(&b.uploadCalls, 1)
			b.lastUpload, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":99,"image":"/media/x.png","caption":"c","uploaded_at":"2024-01-01T00:00:00Z","status":"COMPLETED"}`))
		}
	})
	mux.HandleFunc("/gallery/7/", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPatch:
			atomic.AddInt32(&b.patchCalls, 1)
			status := b.patchStatus
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"id":7}`))
		case http.MethodPut:
			atomic.AddInt32(&b.putCalls, 1)
			b.lastPutBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":7}`))
		case http.MethodDelete:
			atomic.AddInt32(&b.deleteCalls, 1)
			status := b.deleteStatus
			if status == 0 {
				status = http.StatusNoContent
			}
			w.WriteHeader(status)
		}
	})
	return httptest.NewServer(mux)
}

func newTestService(t *testing.T, b *galleryBackend) (*Service, func()) {
	t.Helper()
	srv := b.server()
	gw := api.New(srv.URL, nil)
	return NewService(gw, nil), srv.Close
}

func TestFetch_EnvelopeAndBareList(t *testing.T) {
	records := `[
		{"id":1,"owner":"a","image":"/m/1.png","caption":"first","uploaded_at":"2024-01-01T00:00:00Z","status":"COMPLETED"},
		{"id":2,"owner":"a","image":"/m/2.png","caption":null,"uploaded_at":"2024-01-02T00:00:00Z","status":"PENDING"}
	]`

	for _, tt := range []struct {
		name string
		body string
	}{
		{"bare list", records},
		{"envelope", `{"count":2,"next":null,"previous":null,"results":` + records + `}`},
	} {
		t.Run(tt.name, func(t *testing.T) {
			b := &galleryBackend{listBody: tt.body}
			svc, closeFn := newTestService(t, b)
			defer closeFn()

			if err := svc.Fetch(context.Background()); err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			items := svc.Items()
			if len(items) != 2 {
				t.Fatalf("items=%d, want 2", len(items))
			}
			// Newest first; null caption becomes "".
			if items[0].ID != 2 || items[0].Caption != "" {
				t.Fatalf("items[0]=%+v", items[0])
			}
			if items[1].ID != 1 || items[1].Caption != "first" {
				t.Fatalf("items[1]=%+v", items[1])
			}
		})
	}
}

func TestFetch_SortNewestFirst(t *testing.T) {
	// Timestamps [100, 300, 200] must come out [300, 200, 100].
	mk := func(id, ts int64) string {
		return `{"id":` + jsonInt(id) + `,"image":"x","caption":"c","uploaded_at":"` +
			time.Unix(ts, 0).UTC().Format(time.RFC3339) + `","status":"COMPLETED"}`
	}
	b := &galleryBackend{listBody: `[` + mk(1, 100) + `,` + mk(2, 300) + `,` + mk(3, 200) + `]`}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	if err := svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	var got []int64
	for _, it := range svc.Items() {
		got = append(got, it.UploadedAt.Unix())
	}
	want := []int64{300, 200, 100}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order=%v, want %v", got, want)
		}
	}
}

func TestFetch_NoContentIsEmptyResult(t *testing.T) {
	b := &galleryBackend{listStatus: http.StatusNoContent}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	if err := svc.Fetch(context.Background()); err != nil {
		t.Fatalf("204 must not be an error: %v", err)
	}
	if len(svc.Items()) != 0 {
		t.Fatalf("204 must yield an empty set")
	}
}

func TestFetch_UnexpectedShapeIsParseError(t *testing.T) {
	for _, body := range []string{`{"detail":"weird"}`, `"just a string"`, `42`} {
		b := &galleryBackend{listBody: body}
		svc, closeFn := newTestService(t, b)

		err := svc.Fetch(context.Background())
		closeFn()
		if !errors.Is(err, errs.ErrUnexpectedPayload) {
			t.Fatalf("body %q: want ErrUnexpectedPayload, got %v", body, err)
		}
		if len(svc.Items()) != 0 {
			t.Fatalf("failed fetch must not mutate items")
		}
	}
}

func TestFetch_ResetsPageToOne(t *testing.T) {
	b := &galleryBackend{listBody: `[]`}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	svc.SetFilter(Filter{Page: 5})
	if err := svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if svc.Filter().Page != 1 {
		t.Fatalf("page=%d after fetch, want 1", svc.Filter().Page)
	}
}

func TestFetch_CancellationSilence(t *testing.T) {
	block := make(chan struct{})
	b := &galleryBackend{listBody: `[{"id":1,"image":"x","uploaded_at":"2024-01-01T00:00:00Z"}]`, blockUntil: block}
	svc, closeFn := newTestService(t, b)
	defer closeFn()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Fetch(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled fetch must return context.Canceled, got %v", err)
	}
	if len(svc.Items()) != 0 {
		t.Fatalf("cancelled fetch must not mutate state")
	}
}

func TestEditCaption_PatchOK_NoPut(t *testing.T) {
	b := &galleryBackend{listBody: `[]`}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	if err := svc.EditCaption(context.Background(), 7, "new"); err != nil {
		t.Fatalf("EditCaption: %v", err)
	}
	if got := atomic.LoadInt32(&b.patchCalls); got != 1 {
		t.Fatalf("patch calls=%d, want 1", got)
	}
	if got := atomic.LoadInt32(&b.putCalls); got != 0 {
		t.Fatalf("200 PATCH must not trigger PUT, got %d", got)
	}
	if got := atomic.LoadInt32(&b.listCalls); got != 1 {
		t.Fatalf("successful edit must trigger exactly one reload, got %d", got)
	}
}

func TestEditCaption_405FallsBackToPutOnce(t *testing.T) {
	b := &galleryBackend{
		listBody:    `[{"id":7,"image":"/m/7.png","caption":"old","uploaded_at":"2024-01-01T00:00:00Z","status":"COMPLETED"}]`,
		patchStatus: http.StatusMethodNotAllowed,
	}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	// Prime the cache so the PUT payload can carry the full record.
	if err := svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if err := svc.EditCaption(context.Background(), 7, "new"); err != nil {
		t.Fatalf("EditCaption: %v", err)
	}
	if got := atomic.LoadInt32(&b.patchCalls); got != 1 {
		t.Fatalf("patch calls=%d, want 1", got)
	}
	if got := atomic.LoadInt32(&b.putCalls); got != 1 {
		t.Fatalf("put calls=%d, want exactly 1", got)
	}

	var payload map[string]string
	if err := json.Unmarshal(b.lastPutBody, &payload); err != nil {
		t.Fatalf("PUT body: %v", err)
	}
	if payload["caption"] != "new" || payload["image"] != "/m/7.png" {
		t.Fatalf("PUT payload=%v, want full record with caption and image", payload)
	}
}

func TestDelete_ReloadsOnSuccess(t *testing.T) {
	b := &galleryBackend{listBody: `[]`}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	if err := svc.Delete(context.Background(), 7); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := atomic.LoadInt32(&b.deleteCalls); got != 1 {
		t.Fatalf("delete calls=%d", got)
	}
	if got := atomic.LoadInt32(&b.listCalls); got != 1 {
		t.Fatalf("delete must reload once, got %d", got)
	}
}

func TestDelete_NotFound(t *testing.T) {
	b := &galleryBackend{listBody: `[]`, deleteStatus: http.StatusNotFound}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	err := svc.Delete(context.Background(), 7)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if got := atomic.LoadInt32(&b.listCalls); got != 0 {
		t.Fatalf("failed delete must not reload, got %d", got)
	}
}

func TestUpload_SendsDataURL(t *testing.T) {
	b := &galleryBackend{listBody: `[]`}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	err := svc.Upload(context.Background(), UploadFile{Name: "x.png", MIME: "image/png", Data: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	var payload map[string]string
	if err := json.Unmarshal(b.lastUpload, &payload); err != nil {
		t.Fatalf("upload body: %v", err)
	}
	if payload["image"] != "data:image/png;base64,AQID" {
		t.Fatalf("image=%q", payload["image"])
	}
	if got := atomic.LoadInt32(&b.listCalls); got != 1 {
		t.Fatalf("successful upload must reload once, got %d", got)
	}
}

func TestValidateUpload(t *testing.T) {
	ok := UploadFile{Name: "a.png", MIME: "image/png", Data: []byte{1}}
	if err := ValidateUpload(ok); err != nil {
		t.Fatalf("valid file rejected: %v", err)
	}

	bad := []UploadFile{
		{Name: "a.gif", MIME: "image/gif", Data: []byte{1}},
		{Name: "a.png", MIME: "image/png", Data: nil},
		{Name: "big.png", MIME: "image/png", Data: make([]byte, MaxUploadBytes+1)},
	}
	for _, f := range bad {
		if err := ValidateUpload(f); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("%s: want ErrValidation, got %v", f.Name, err)
		}
	}
}

func TestUploadAll_ProgressTransitions(t *testing.T) {
	b := &galleryBackend{listBody: `[]`}
	svc, closeFn := newTestService(t, b)
	defer closeFn()

	files := []UploadFile{
		{Name: "good.png", MIME: "image/png", Data: []byte{1}},
		{Name: "bad.gif", MIME: "image/gif", Data: []byte{1}},
	}

	perFile := map[string][]UploadState{}
	for ev := range svc.UploadAll(context.Background(), files) {
		perFile[ev.Name] = append(perFile[ev.Name], ev.State)
	}

	wantGood := []UploadState{UploadPending, UploadUploading, UploadSuccess}
	wantBad := []UploadState{UploadPending, UploadUploading, UploadError}
	assertSeq := func(name string, want []UploadState) {
		t.Helper()
		got := perFile[name]
		if len(got) != len(want) {
			t.Fatalf("%s: transitions %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: transitions %v, want %v", name, got, want)
			}
		}
	}
	assertSeq("good.png", wantGood)
	assertSeq("bad.gif", wantBad)

	// One file's failure does not stop the batch, and the batch reloads once.
	if got := atomic.LoadInt32(&b.uploadCalls); got != 1 {
		t.Fatalf("upload calls=%d, want 1 (gif fails pre-network)", got)
	}
	if got := atomic.LoadInt32(&b.listCalls); got != 1 {
		t.Fatalf("batch must reload once, got %d", got)
	}
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
