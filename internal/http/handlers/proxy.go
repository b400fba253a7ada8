package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/lpg-gateway/internal/session"
	"github.com/pribylovaa/lpg-gateway/internal/upstream"
	logctx "github.com/pribylovaa/lpg-gateway/pkg/log"
)

// Запас к лимиту файла на boundary и прочие поля формы при буферизации
// multipart-тела.
const uploadFormSlack = 1 << 20

// Потолок на multipart-тело без лимита загрузки.
const maxMultipartBody = 32 << 20

// Route — описание проксируемого эндпойнта.
// Один хелпер обслуживает все ресурсы: апстрим-путь, метод и признак
// авторизации — единственное, чем эндпойнты отличаются друг от друга.
type Route struct {
	// Path — шаблон пути апстрима; {param} подставляется из chi URL-параметров.
	Path string
	// Auth — прикладывать bearer-токен сессии к вызову.
	Auth bool
	// BodyRequired — эндпойнт обязан нести JSON-тело: битый JSON
	// отклоняется с 400, без флага — деградирует до пустого объекта.
	BodyRequired bool
	// MaxUpload > 0 помечает эндпойнт загрузки файла: каждый файл
	// multipart-формы проверяется на потолок до похода в апстрим.
	MaxUpload int64
}

// Proxy возвращает обработчик контракта "извлечь → вызвать → отобразить".
//
// Метод апстрима — это метод запроса; POST с _method=PUT/PATCH/DELETE
// (query-параметр или поле формы) трактуется как соответствующий
// глагол: multipart-формы не умеют отправлять PUT нативно.
func (h *Handlers) Proxy(rt Route) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := session.New(w, r, h.Cookies)

		q := r.URL.Query()
		queryOverride := q.Get("_method")
		q.Del("_method")

		opts := upstream.CallOptions{
			Auth:   rt.Auth,
			Tokens: sess,
			Header: forwardHeaders(r),
		}

		formOverride := ""
		if isMultipart(r) {
			body, ovr, err := h.readMultipart(w, r, rt.MaxUpload)
			if err != nil {
				writeUploadError(w, r, err, rt.MaxUpload)
				return
			}

			formOverride = ovr
			opts.Multipart = bytes.NewReader(body)
			opts.ContentType = r.Header.Get("Content-Type")
		} else if bodyAllowed(r.Method) {
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMultipartBody))
			if err != nil {
				WriteMessage(w, http.StatusBadRequest, "request body too large")
				return
			}

			// DELETE через _method тела не несёт.
			required := rt.BodyRequired && !strings.EqualFold(queryOverride, http.MethodDelete)

			body, ok := normalizeJSONBody(raw, required)
			if !ok {
				WriteMessage(w, http.StatusBadRequest, "Invalid JSON body")
				return
			}

			opts.Body = body
		}

		opts.Method = resolveMethod(r, queryOverride, formOverride)

		path := substitutePath(rt.Path, r)
		if enc := q.Encode(); enc != "" {
			path += "?" + enc
		}

		res, err := h.Upstream.Call(r.Context(), path, opts)
		if err != nil {
			var ue *upstream.Error
			if rt.Auth && errors.As(err, &ue) && ue.Status == http.StatusUnauthorized {
				// Апстрим подтвердил невалидность токена — cookie
				// чистится сразу, не дожидаясь logout.
				sess.Clear()
			}

			WriteError(w, r, err)
			return
		}

		writeProxied(w, res)
	}
}

// writeProxied — успешный ответ апстрима без пересборки.
func writeProxied(w http.ResponseWriter, res *upstream.Result) {
	if res.JSON != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(res.JSON)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Text)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
}

// bodyAllowed — методы, у которых бывает тело.
func bodyAllowed(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// resolveMethod применяет конвенцию _method: источником истины служит
// query-параметр, затем поле формы; учитываются только POST-запросы
// и только PUT/PATCH/DELETE.
func resolveMethod(r *http.Request, queryOverride, formOverride string) string {
	if r.Method != http.MethodPost {
		return r.Method
	}

	ov := strings.ToUpper(queryOverride)
	if ov == "" {
		ov = strings.ToUpper(formOverride)
	}

	switch ov {
	case http.MethodPut, http.MethodPatch, http.MethodDelete:
		return ov
	}

	return r.Method
}

// substitutePath подставляет chi URL-параметры в шаблон пути апстрима.
func substitutePath(tpl string, r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return tpl
	}

	out := tpl
	for i, key := range rctx.URLParams.Keys {
		out = strings.ReplaceAll(out, "{"+key+"}", rctx.URLParams.Values[i])
	}

	return out
}

// normalizeJSONBody — политика деградации тела:
// пустое тело — нет тела; валидный JSON — как есть; битый JSON —
// пустой объект для необязательного тела и отказ для обязательного.
func normalizeJSONBody(raw []byte, required bool) (any, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		if required {
			return nil, false
		}

		return nil, true
	}

	if !json.Valid(trimmed) {
		if required {
			return nil, false
		}

		return []byte("{}"), true
	}

	return trimmed, true
}

// errFileTooLarge — файл в форме превысил потолок.
type errFileTooLarge struct {
	field string
}

func (e *errFileTooLarge) Error() string {
	return fmt.Sprintf("file field %q exceeds upload limit", e.field)
}

var errBadForm = errors.New("malformed multipart form")

// readMultipart буферизует multipart-тело и просматривает его части:
// вытаскивает поле _method и, если задан лимит, меряет каждый файл.
// Само тело уходит в апстрим без изменений — boundary и поля формы
// не пересобираются.
func (h *Handlers) readMultipart(w http.ResponseWriter, r *http.Request, maxUpload int64) ([]byte, string, error) {
	limit := int64(maxMultipartBody)
	if maxUpload > 0 {
		limit = maxUpload + uploadFormSlack
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))

	// Тело срезано потолком. При заданном лимите это отказ по размеру,
	// а не битая форма: срезанные части ниже дадут имя поля-виновника.
	truncated := false
	if err != nil {
		var mbe *http.MaxBytesError
		if !errors.As(err, &mbe) || maxUpload <= 0 {
			return nil, "", errBadForm
		}
		truncated = true
	}

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		return nil, "", errBadForm
	}

	var formOverride string

	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if truncated {
				return nil, "", &errFileTooLarge{field: "upload"}
			}

			return nil, "", errBadForm
		}

		if part.FileName() != "" {
			n, err := io.Copy(io.Discard, part)
			if maxUpload > 0 && n > maxUpload {
				return nil, "", &errFileTooLarge{field: part.FormName()}
			}
			if err != nil {
				if truncated {
					return nil, "", &errFileTooLarge{field: part.FormName()}
				}

				return nil, "", errBadForm
			}

			continue
		}

		if part.FormName() == "_method" {
			v, err := io.ReadAll(io.LimitReader(part, 16))
			if err == nil {
				formOverride = strings.TrimSpace(string(v))
			}
		}
	}

	if truncated {
		return nil, "", &errFileTooLarge{field: "upload"}
	}

	return body, formOverride, nil
}

// writeUploadError — отказ на границе шлюза до похода в апстрим.
func writeUploadError(w http.ResponseWriter, r *http.Request, err error, maxUpload int64) {
	var tooLarge *errFileTooLarge
	if errors.As(err, &tooLarge) {
		logctx.From(r.Context()).LogAttrs(r.Context(), slog.LevelInfo, "upload_rejected",
			slog.String("field", tooLarge.field),
			slog.Int64("limit", maxUpload),
		)
		WriteMessage(w, http.StatusBadRequest,
			fmt.Sprintf("%s must be %dMB or less", tooLarge.field, maxUpload>>20))
		return
	}

	WriteMessage(w, http.StatusBadRequest, "invalid multipart form")
}
