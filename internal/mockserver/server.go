// Package mockserver is an in-memory stand-in for the real gallery backend,
// implementing its REST surface (JWT auth with refresh, gallery CRUD,
// data-URL image decoding, page-number pagination) for local development and
// end-to-end tests.
package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const listPageSize = 10

// Server holds the in-memory state behind the mock REST surface.
type Server struct {
	key          []byte
	accessTTL    time.Duration
	refreshTTL   time.Duration
	log          *zap.Logger
	disablePatch bool
	now          func() time.Time

	mu     sync.Mutex
	users  map[string]*user
	images map[int64]*image
	nextID int64
}

type user struct {
	Username string
	Email    string
	Hash     []byte
}

type image struct {
	ID         int64
	Owner      string
	Path       string
	Caption    string
	UploadedAt time.Time
	Status     string

	// inputs for the deferred caption generation
	ext  string
	size int
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger enables request logging.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.accessTTL = ttl }
}

// WithoutPatch makes PATCH answer 405, forcing clients onto the PUT fallback.
func WithoutPatch() Option {
	return func(s *Server) { s.disablePatch = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New constructs a Server signing tokens with key.
func New(key []byte, opts ...Option) *Server {
	s := &Server{
		key:        key,
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
		log:        zap.NewNop(),
		now:        time.Now,
		users:      make(map[string]*user),
		images:     make(map[int64]*image),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router mounts the REST surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Post("/auth/register/", s.handleRegister)
	r.Post("/auth/login/", s.handleLogin)
	r.Post("/auth/login/refresh/", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/gallery/", s.handleList)
		r.Post("/gallery/", s.handleUpload)
		r.Patch("/gallery/{id}/", s.handlePatch)
		r.Put("/gallery/{id}/", s.handlePut)
		r.Delete("/gallery/{id}/", s.handleDelete)
	})
	return r
}

// ---- responses ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeFieldErrors(w http.ResponseWriter, errs map[string][]string) {
	writeJSON(w, http.StatusBadRequest, errs)
}

type imageJSON struct {
	ID         int64   `json:"id"`
	Owner      string  `json:"owner"`
	Image      string  `json:"image"`
	Caption    *string `json:"caption"`
	UploadedAt string  `json:"uploaded_at"`
	Status     string  `json:"status"`
}

func (im *image) json() imageJSON {
	var caption *string
	if im.Caption != "" {
		c := im.Caption
		caption = &c
	}
	return imageJSON{
		ID:         im.ID,
		Owner:      im.Owner,
		Image:      im.Path,
		Caption:    caption,
		UploadedAt: im.UploadedAt.UTC().Format(time.RFC3339),
		Status:     im.Status,
	}
}

// ---- auth handlers ----

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		Password2 string `json:"password2"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	fieldErrs := map[string][]string{}
	if req.Username == "" {
		fieldErrs["username"] = []string{"This field is required."}
	}
	if req.Email == "" {
		fieldErrs["email"] = []string{"This field is required."}
	}
	if req.Password == "" {
		fieldErrs["password"] = []string{"This field is required."}
	} else if req.Password != req.Password2 {
		fieldErrs["password"] = []string{"Password fields didn't match."}
	}
	if len(fieldErrs) > 0 {
		writeFieldErrors(w, fieldErrs)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error.")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[req.Username]; exists {
		s.mu.Unlock()
		writeFieldErrors(w, map[string][]string{
			"username": {"A user with that username already exists."},
		})
		return
	}
	s.users[req.Username] = &user{Username: req.Username, Email: req.Email, Hash: hash}
	s.mu.Unlock()

	s.log.Info("user registered", zap.String("username", req.Username))
	writeJSON(w, http.StatusCreated, map[string]string{
		"username": req.Username,
		"email":    req.Email,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.Hash, []byte(req.Password)) != nil {
		writeDetail(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}

	access, refresh, err := s.issuePair(req.Username)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Refresh == "" {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	username, err := s.verify(req.Refresh, "refresh")
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "Token is invalid or expired",
			"code":   "token_not_valid",
		})
		return
	}

	access, err := s.issue(username, "access", s.accessTTL)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "Internal error.")
		return
	}
	// No refresh rotation: the response carries only a new access token.
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

// ---- gallery handlers ----

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	s.mu.Lock()
	var owned []*image
	for _, im := range s.images {
		if im.Owner != owner {
			continue
		}
		// Caption generation has finished by the time the owner looks again.
		if im.Status == "PENDING" {
			im.Status = "COMPLETED"
			im.Caption = generateCaption(im.ext, im.size)
		}
		owned = append(owned, im)
	}
	s.mu.Unlock()

	sort.Slice(owned, func(i, j int) bool {
		return owned[i].UploadedAt.After(owned[j].UploadedAt)
	})

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeDetail(w, http.StatusNotFound, "Invalid page.")
			return
		}
		page = n
	}

	total := len(owned)
	start := (page - 1) * listPageSize
	if start > 0 && start >= total {
		writeDetail(w, http.StatusNotFound, "Invalid page.")
		return
	}
	end := start + listPageSize
	if end > total {
		end = total
	}

	results := make([]imageJSON, 0, end-start)
	for _, im := range owned[start:end] {
		results = append(results, im.json())
	}

	var next, prev *string
	if end < total {
		u := fmt.Sprintf("%s?page=%d", r.URL.Path, page+1)
		next = &u
	}
	if page > 1 {
		u := fmt.Sprintf("%s?page=%d", r.URL.Path, page-1)
		prev = &u
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    total,
		"next":     next,
		"previous": prev,
		"results":  results,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)

	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	ext, data, err := decodeDataURL(req.Image)
	if err != nil {
		writeFieldErrors(w, map[string][]string{
			"image": {"Invalid image format or corrupt data."},
		})
		return
	}

	name := uuid.Must(uuid.NewV4()).String()
	im := &image{
		Owner:      owner,
		Path:       fmt.Sprintf("/media/user_images/%s.%s", name, ext),
		UploadedAt: s.now(),
		Status:     "PENDING",
		ext:        ext,
		size:       len(data),
	}

	s.mu.Lock()
	s.nextID++
	im.ID = s.nextID
	s.images[im.ID] = im
	s.mu.Unlock()

	s.log.Info("image uploaded",
		zap.String("owner", owner),
		zap.Int64("id", im.ID),
		zap.Int("bytes", len(data)),
	)
	writeJSON(w, http.StatusCreated, im.json())
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	if s.disablePatch {
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeDetail(w, http.StatusMethodNotAllowed, `Method "PATCH" not allowed.`)
		return
	}
	s.updateCaption(w, r, false)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	s.updateCaption(w, r, true)
}

func (s *Server) updateCaption(w http.ResponseWriter, r *http.Request, full bool) {
	owner := ownerFrom(r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	var req struct {
		Caption *string `json:"caption"`
		Image   string  `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "Malformed request body.")
		return
	}
	if req.Caption == nil {
		writeFieldErrors(w, map[string][]string{"caption": {"This field is required."}})
		return
	}
	// A full update may replace the image when a fresh data URL is supplied.
	newPath := ""
	if full && req.Image != "" {
		ext, _, derr := decodeDataURL(req.Image)
		if derr == nil {
			newPath = fmt.Sprintf("/media/user_images/%s.%s", uuid.Must(uuid.NewV4()), ext)
		}
	}

	s.mu.Lock()
	im, ok := s.images[id]
	if !ok || im.Owner != owner {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	im.Caption = *req.Caption
	if newPath != "" {
		im.Path = newPath
	}
	out := im.json()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}

	s.mu.Lock()
	im, ok := s.images[id]
	if !ok || im.Owner != owner {
		s.mu.Unlock()
		writeDetail(w, http.StatusNotFound, "Not found.")
		return
	}
	delete(s.images, id)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// generateCaption stands in for the real caption service: deterministic, so
// tests can rely on it.
func generateCaption(ext string, size int) string {
	return fmt.Sprintf("An uploaded %s image (%d bytes)", ext, size)
}
