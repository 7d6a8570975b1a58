// Package gallery implements the client-side view model over the user's image
// collection: fetching through the authenticated gateway, deriving the
// filtered/paginated view, and mutate-then-reload operations.
package gallery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/evlasova/capgallery/internal/api"
	"github.com/evlasova/capgallery/internal/errs"
	"github.com/evlasova/capgallery/internal/model"
)

// Doer is the authenticated request gateway contract consumed here.
// Implemented by api.Gateway.
type Doer interface {
	Do(ctx context.Context, method, path string, payload any, allowRetry bool) (*http.Response, error)
}

// Service holds the ephemeral, read-mostly cached copy of the backend's item
// set plus the current view filter.
type Service struct {
	gw  Doer
	log *zap.Logger

	mu     sync.Mutex
	items  []model.Item
	filter Filter
	cache  viewCache
}

// NewService constructs a Service over the gateway.
func NewService(gw Doer, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{gw: gw, log: log, filter: Filter{Page: 1}}
}

// imageRecord is the backend wire shape of one gallery image.
type imageRecord struct {
	ID         int64   `json:"id"`
	Owner      string  `json:"owner"`
	Image      string  `json:"image"`
	Caption    *string `json:"caption"`
	UploadedAt string  `json:"uploaded_at"`
	Status     string  `json:"status"`
}

func (r imageRecord) toItem() model.Item {
	caption := ""
	if r.Caption != nil {
		caption = *r.Caption
	}
	return model.Item{
		ID:         r.ID,
		Caption:    caption,
		ImageRef:   r.Image,
		UploadedAt: parseUploadedAt(r.UploadedAt),
		Status:     r.Status,
	}
}

func parseUploadedAt(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	// Backend may emit naive timestamps without a zone.
	t, _ := time.Parse("2006-01-02T15:04:05", s)
	return t
}

// Fetch reloads the item set through the gateway. The response may be a
// paginated envelope ({"results": [...]}) or a bare list; anything else is a
// parse error. 204 is an empty valid result. Items are sorted newest-first
// and the view page resets to 1. A fetch cancelled via ctx mutates nothing
// and returns context.Canceled for the caller to swallow.
func (s *Service) Fetch(ctx context.Context) error {
	resp, err := s.gw.Do(ctx, http.MethodGet, "/gallery/", nil, true)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		s.replace(nil)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("fetch gallery: %w", api.ErrorFromResponse(resp))
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("fetch gallery: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	records, err := decodeItems(body)
	if err != nil {
		return fmt.Errorf("fetch gallery: %w", err)
	}

	items := make([]model.Item, 0, len(records))
	for _, r := range records {
		items = append(items, r.toItem())
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].UploadedAt.After(items[j].UploadedAt)
	})

	s.replace(items)
	return nil
}

// decodeItems accepts either a paginated envelope or a bare list.
func decodeItems(body []byte) ([]imageRecord, error) {
	trimmed := bytes.TrimSpace(body)
	switch {
	case len(trimmed) == 0:
		return nil, nil
	case trimmed[0] == '[':
		var list []imageRecord
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrUnexpectedPayload, err)
		}
		return list, nil
	case trimmed[0] == '{':
		var env struct {
			Results *[]imageRecord `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &env); err != nil || env.Results == nil {
			return nil, fmt.Errorf("%w: body is neither a result envelope nor a list", errs.ErrUnexpectedPayload)
		}
		return *env.Results, nil
	default:
		return nil, fmt.Errorf("%w: non-JSON body", errs.ErrUnexpectedPayload)
	}
}

func (s *Service) replace(items []model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.filter.Page = 1
}

// Items returns the current cached item set (newest first).
func (s *Service) Items() []model.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items
}

// SetFilter replaces the view filter, resetting the page to 1 whenever the
// search text or date filter changed.
func (s *Service) SetFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f.Normalize(s.filter)
}

// ApplyFilter installs a complete filter in one step, honoring the requested
// page. Callers that assemble search, date and page atomically (a one-shot
// command rather than an interactive filter edit) use this instead of
// SetFilter, whose page-reset rule would treat the new search or date as a
// change and snap the page back to 1.
func (s *Service) ApplyFilter(f Filter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Page < 1 {
		f.Page = 1
	}
	s.filter = f
}

// Filter returns the current view filter.
func (s *Service) Filter() Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// View derives the current page. Memoized for unchanged inputs.
func (s *Service) View() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.cache.get(s.items, s.filter); ok {
		return p
	}
	p := Derive(s.items, s.filter)
	s.cache.put(s.items, s.filter, p)
	return p
}

// Upload posts one image and reloads the collection on success.
func (s *Service) Upload(ctx context.Context, file UploadFile) error {
	if err := s.uploadOne(ctx, file); err != nil {
		return err
	}
	return s.Fetch(ctx)
}

func (s *Service) uploadOne(ctx context.Context, file UploadFile) error {
	if err := ValidateUpload(file); err != nil {
		return err
	}
	payload := map[string]string{"image": DataURL(file.MIME, file.Data)}
	resp, err := s.gw.Do(ctx, http.MethodPost, "/gallery/", payload, true)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload %s: %w", file.Name, api.ErrorFromResponse(resp))
	}
	drain(resp)
	return nil
}

// EditCaption attempts a partial update; when the backend answers 405 the
// same edit is retried exactly once as a full replacement carrying the
// caption and the cached image reference. Reloads on success.
func (s *Service) EditCaption(ctx context.Context, id int64, caption string) error {
	path := fmt.Sprintf("/gallery/%d/", id)

	resp, err := s.gw.Do(ctx, http.MethodPatch, path, map[string]string{"caption": caption}, true)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		drain(resp)
		resp, err = s.gw.Do(ctx, http.MethodPut, path, s.fullRecord(id, caption), true)
		if err != nil {
			return err
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("edit caption %d: %w", id, api.ErrorFromResponse(resp))
	}
	drain(resp)
	return s.Fetch(ctx)
}

// fullRecord builds the PUT payload from the cached item when available.
func (s *Service) fullRecord(id int64, caption string) map[string]string {
	payload := map[string]string{"caption": caption}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id {
			payload["image"] = it.ImageRef
			break
		}
	}
	return payload
}

// Delete removes one image (expects 204) and reloads on success.
func (s *Service) Delete(ctx context.Context, id int64) error {
	resp, err := s.gw.Do(ctx, http.MethodDelete, fmt.Sprintf("/gallery/%d/", id), nil, true)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		drain(resp)
		return fmt.Errorf("delete %d: %w", id, errs.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("delete %d: %w", id, api.ErrorFromResponse(resp))
	}
	drain(resp)
	return s.Fetch(ctx)
}

// DataURL encodes raw image bytes as a data URL the backend accepts.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}
