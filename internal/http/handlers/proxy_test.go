package handlers

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/lpg-gateway/internal/session"
	"github.com/pribylovaa/lpg-gateway/internal/upstream"
)

const testUploadMax = 10 << 20

var testCookies = session.Config{Name: "lpg_token"}

// upstreamRecord — снимок запроса, дошедшего до апстрима.
type upstreamRecord struct {
	Method string
	Path   string
	Query  string
	Auth   string
	CT     string
	Body   []byte
}

// newGateway поднимает фейковый апстрим и Handlers поверх него.
func newGateway(t *testing.T, upstreamFn http.HandlerFunc) (*Handlers, *[]upstreamRecord) {
	t.Helper()

	records := &[]upstreamRecord{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*records = append(*records, upstreamRecord{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			CT:     r.Header.Get("Content-Type"),
			Body:   body,
		})

		r.Body = io.NopCloser(bytes.NewReader(body))
		upstreamFn(w, r)
	}))
	t.Cleanup(srv.Close)

	up := upstream.New(upstream.Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, nil)

	return New(up, testCookies, testUploadMax), records
}

func okJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func errJSON(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// buildForm — multipart-форма с файлом и, опционально, полем _method.
func buildForm(t *testing.T, field string, size int, methodOverride string) ([]byte, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if methodOverride != "" {
		require.NoError(t, mw.WriteField("_method", methodOverride))
	}

	fw, err := mw.CreateFormFile(field, "img.png")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte("a"), size))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return buf.Bytes(), mw.FormDataContentType()
}

func TestProxy_PassThrough_GET(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{"items":[{"id":"s1"}]}`))

	r := chi.NewRouter()
	r.Get("/stations", h.Proxy(Route{Path: "/stations"}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stations?page=2&size=10", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	require.JSONEq(t, `{"items":[{"id":"s1"}]}`, rr.Body.String())

	require.Len(t, *records, 1)
	rec := (*records)[0]
	require.Equal(t, http.MethodGet, rec.Method)
	require.Equal(t, "/stations", rec.Path)
	// Query уходит в апстрим как есть.
	require.Contains(t, rec.Query, "page=2")
	require.Contains(t, rec.Query, "size=10")
	// Публичный эндпойнт — без Authorization.
	require.Empty(t, rec.Auth)
}

func TestProxy_PathTemplate_SubstitutesParams(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{"id":"n42"}`))

	r := chi.NewRouter()
	r.Get("/notices/{id}", h.Proxy(Route{Path: "/notices/{id}"}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/notices/n42", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "/notices/n42", (*records)[0].Path)
}

func TestProxy_AuthRoute_SendsBearerFromCookie(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{"ok":true}`))

	r := chi.NewRouter()
	r.Post("/stations", h.Proxy(Route{Path: "/stations", Auth: true, BodyRequired: true}))

	req := httptest.NewRequest(http.MethodPost, "/stations", strings.NewReader(`{"name":"fm"}`))
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok-99"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "Bearer tok-99", (*records)[0].Auth)
	require.JSONEq(t, `{"name":"fm"}`, string((*records)[0].Body))
}

// Конверт ошибки апстрима проходит насквозь: статус и тело без изменений.
func TestProxy_ErrorEnvelope_RoundTrip(t *testing.T) {
	t.Parallel()

	h, _ := newGateway(t, errJSON(http.StatusUnprocessableEntity, `{"message":"X","errors":{"email":["bad"]}}`))

	r := chi.NewRouter()
	r.Post("/owners", h.Proxy(Route{Path: "/owners", Auth: true, BodyRequired: true}))

	req := httptest.NewRequest(http.MethodPost, "/owners", strings.NewReader(`{}`))
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.JSONEq(t, `{"message":"X","errors":{"email":["bad"]}}`, rr.Body.String())
}

func TestProxy_InvalidJSON_RequiredBody_400(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{}`))

	r := chi.NewRouter()
	r.Post("/stations", h.Proxy(Route{Path: "/stations", Auth: true, BodyRequired: true}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stations", strings.NewReader(`{broken`)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.JSONEq(t, `{"message":"Invalid JSON body","errors":null}`, rr.Body.String())
	// До апстрима дело не дошло.
	require.Empty(t, *records)
}

func TestProxy_InvalidJSON_OptionalBody_DegradesToEmptyObject(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{}`))

	r := chi.NewRouter()
	r.Post("/stations/search", h.Proxy(Route{Path: "/stations/search"}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/stations/search", strings.NewReader(`{broken`)))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "{}", string((*records)[0].Body))
}

// Конвенция _method в query: POST уходит в апстрим как DELETE,
// сам параметр в апстрим не просачивается.
func TestProxy_MethodOverride_QueryParam(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{}`))

	r := chi.NewRouter()
	r.Post("/albums/{id}", h.Proxy(Route{Path: "/albums/{id}", Auth: true}))

	req := httptest.NewRequest(http.MethodPost, "/albums/a1?_method=DELETE", nil)
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	rec := (*records)[0]
	require.Equal(t, http.MethodDelete, rec.Method)
	require.Equal(t, "/albums/a1", rec.Path)
	require.NotContains(t, rec.Query, "_method")
}

// Конвенция _method в multipart-форме: POST+_method=PUT эквивалентен
// нативному PUT, форма уходит в апстрим без пересборки.
func TestProxy_MethodOverride_MultipartFormField(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{"avatar_url":"/a.png"}`))

	r := chi.NewRouter()
	r.Post("/profile/avatar", h.Proxy(Route{Path: "/profile/avatar", Auth: true, MaxUpload: testUploadMax}))

	form, ct := buildForm(t, "avatar", 1024, "PUT")
	req := httptest.NewRequest(http.MethodPost, "/profile/avatar", bytes.NewReader(form))
	req.Header.Set("Content-Type", ct)
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	rec := (*records)[0]
	require.Equal(t, http.MethodPut, rec.Method)
	require.Equal(t, "/profile/avatar", rec.Path)
	require.Equal(t, ct, rec.CT)
	require.Equal(t, form, rec.Body)
}

// Потолок размера файла проверяется на границе шлюза:
// ровно лимит — проходит, лимит+1 — 400 без похода в апстрим.
func TestProxy_UploadLimit_ExactBoundary(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{}`))

	r := chi.NewRouter()
	r.Put("/profile/avatar", h.Proxy(Route{Path: "/profile/avatar", Auth: true, MaxUpload: testUploadMax}))

	form, ct := buildForm(t, "avatar", testUploadMax, "")
	req := httptest.NewRequest(http.MethodPut, "/profile/avatar", bytes.NewReader(form))
	req.Header.Set("Content-Type", ct)
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, *records, 1)
}

func TestProxy_UploadLimit_OneByteOver_RejectedBeforeUpstream(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{}`))

	r := chi.NewRouter()
	r.Put("/profile/avatar", h.Proxy(Route{Path: "/profile/avatar", Auth: true, MaxUpload: testUploadMax}))

	form, ct := buildForm(t, "avatar", testUploadMax+1, "")
	req := httptest.NewRequest(http.MethodPut, "/profile/avatar", bytes.NewReader(form))
	req.Header.Set("Content-Type", ct)
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.JSONEq(t, `{"message":"avatar must be 10MB or less","errors":null}`, rr.Body.String())
	require.Empty(t, *records)
}

// Файл сильно больше потолка: тело срезается ещё на чтении, но клиент
// и в этом случае получает отказ по размеру, а не "битая форма".
func TestProxy_UploadLimit_FarOverCap_RejectedBeforeUpstream(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{}`))

	r := chi.NewRouter()
	r.Put("/profile/avatar", h.Proxy(Route{Path: "/profile/avatar", Auth: true, MaxUpload: testUploadMax}))

	form, ct := buildForm(t, "avatar", 2*testUploadMax, "")
	req := httptest.NewRequest(http.MethodPut, "/profile/avatar", bytes.NewReader(form))
	req.Header.Set("Content-Type", ct)
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.JSONEq(t, `{"message":"avatar must be 10MB or less","errors":null}`, rr.Body.String())
	require.Empty(t, *records)
}

// 401 на авторизованном роуте — подтверждённо невалидный токен:
// cookie чистится в том же ответе.
func TestProxy_Upstream401_ClearsSessionCookie(t *testing.T) {
	t.Parallel()

	h, _ := newGateway(t, errJSON(http.StatusUnauthorized, `{"message":"unauthenticated"}`))

	r := chi.NewRouter()
	r.Get("/auth/me", h.Proxy(Route{Path: "/auth/me", Auth: true}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "stale"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "lpg_token", cookies[0].Name)
	require.Empty(t, cookies[0].Value)
	require.Negative(t, cookies[0].MaxAge)
}

// 401 на публичном роуте cookie не трогает.
func TestProxy_Upstream401_PublicRoute_KeepsCookie(t *testing.T) {
	t.Parallel()

	h, _ := newGateway(t, errJSON(http.StatusUnauthorized, `{"message":"unauthenticated"}`))

	r := chi.NewRouter()
	r.Get("/stations", h.Proxy(Route{Path: "/stations"}))

	req := httptest.NewRequest(http.MethodGet, "/stations", nil)
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Empty(t, rr.Result().Cookies())
}

// Транспортный сбой — 500 с generic message, без деталей сети.
func TestProxy_TransportFailure_Generic500(t *testing.T) {
	t.Parallel()

	up := upstream.New(upstream.Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, nil)
	h := New(up, testCookies, testUploadMax)

	r := chi.NewRouter()
	r.Get("/stations", h.Proxy(Route{Path: "/stations"}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/stations", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.JSONEq(t, `{"message":"internal error","errors":null}`, rr.Body.String())
	require.NotContains(t, rr.Body.String(), "refused")
}

func TestProxy_BrokenMultipart_400(t *testing.T) {
	t.Parallel()

	h, records := newGateway(t, okJSON(`{}`))

	r := chi.NewRouter()
	r.Put("/profile/avatar", h.Proxy(Route{Path: "/profile/avatar", Auth: true, MaxUpload: testUploadMax}))

	req := httptest.NewRequest(http.MethodPut, "/profile/avatar", strings.NewReader("not-a-form"))
	req.Header.Set("Content-Type", "multipart/form-data") // без boundary
	req.AddCookie(&http.Cookie{Name: "lpg_token", Value: "tok"})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, *records)
}
