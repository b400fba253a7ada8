// upstream — HTTP-клиент апстрим-API.
//
// Клиент — тонкий транслятор: собирает исходящий запрос (метод,
// content-type, bearer-токен), применяет жёсткий таймаут и разбирает
// ответ. Никакой бизнес-логики, никаких ретраев: неуспех отдаётся
// вызывающей стороне как типизированная ошибка, решение о повторе —
// за ней.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	logctx "github.com/pribylovaa/lpg-gateway/pkg/log"
)

// Потолок на размер тела ответа апстрима: защищаемся от бесконечного
// чтения, проксируемые ответы в норме на порядки меньше.
const maxResponseBytes = 16 << 20

// defaultTimeout — потолок на один вызов, если конфигурация молчит.
const defaultTimeout = 30 * time.Second

// TokenSource — источник bearer-токена для авторизованных вызовов.
// Реализуется сессией запроса; клиент сам токен нигде не хранит.
type TokenSource interface {
	Token() (string, bool)
}

// Config — параметры клиента.
type Config struct {
	// BaseURL — база апстрима; относительные пути дописываются к ней,
	// абсолютные URL проходят без изменений.
	BaseURL string
	// Timeout — жёсткий таймаут одного вызова. Существующий дедлайн
	// контекста не переопределяется.
	Timeout time.Duration
}

// Client — клиент апстрима. Безопасен для конкурентного использования:
// состояние на вызов не разделяется, общий только пул соединений.
type Client struct {
	base    string
	timeout time.Duration
	httpc   *http.Client
	log     *slog.Logger
}

// New создаёт клиент с настроенным пулом соединений.
func New(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout: timeout,
		httpc:   &http.Client{Transport: transport},
		log:     log,
	}
}

// CallOptions — параметры одного вызова.
type CallOptions struct {
	// Method — HTTP-метод; пустой означает GET.
	Method string
	// Auth — добавить Authorization: Bearer из Tokens. Если токена нет,
	// вызов уходит без заголовка: локально это не проверяется, апстрим
	// сам ответит 401, если заголовок ему обязателен.
	Auth   bool
	Tokens TokenSource
	// Body — JSON-тело. []byte и json.RawMessage уходят как есть,
	// остальное сериализуется через encoding/json.
	Body any
	// Multipart — multipart-поток "как есть"; имеет приоритет над Body.
	// ContentType обязан нести boundary входящей формы.
	Multipart   io.Reader
	ContentType string
	// Header — дополнительные заголовки (например, X-Request-Id).
	Header http.Header
}

// Result — разобранный ответ апстрима со статусом из 2xx.
type Result struct {
	Status int
	// JSON — тело ответа с content-type application/json.
	JSON json.RawMessage
	// Text — сырое тело для всех остальных content-type.
	Text []byte
}

// Bytes — тело ответа независимо от его вида.
func (r *Result) Bytes() []byte {
	if r.JSON != nil {
		return r.JSON
	}

	return r.Text
}

// upstreamEnvelope — формат тела ошибки апстрима.
type upstreamEnvelope struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// Call выполняет один вызов апстрима.
//
// Возвращает *Result при статусе 2xx; иначе ровно одну из ошибок
// закрытого набора: *Error (ответ апстрима не-2xx) или
// *TransportError (таймаут/сеть/сериализация — ответа не было).
func (c *Client) Call(ctx context.Context, path string, opts CallOptions) (*Result, error) {
	start := time.Now()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		body        io.Reader
		contentType string
	)

	switch {
	case opts.Multipart != nil:
		// Форму не трогаем: boundary уже в ContentType.
		body = opts.Multipart
		contentType = opts.ContentType
	case opts.Body != nil:
		raw, err := encodeBody(opts.Body)
		if err != nil {
			return nil, &TransportError{Cause: fmt.Errorf("encode body: %w", err)}
		}

		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	// Таймаут навешивается, только если дедлайна ещё нет:
	// более короткий дедлайн входящего запроса уважается.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), body)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	for key, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	// x-request-id: прокидываем входящий или генерируем новый,
	// чтобы вызов можно было сматчить с логами апстрима.
	rid := req.Header.Get("X-Request-Id")
	if rid == "" {
		rid = uuid.NewString()
		req.Header.Set("X-Request-Id", rid)
	}

	if opts.Auth && opts.Tokens != nil {
		if tok, ok := opts.Tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logCall(ctx, method, path, rid, 0, start, err)
		return nil, &TransportError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.logCall(ctx, method, path, rid, resp.StatusCode, start, err)
		return nil, &TransportError{Cause: fmt.Errorf("read body: %w", err)}
	}

	c.logCall(ctx, method, path, rid, resp.StatusCode, start, nil)

	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		ue := &Error{
			Status:  resp.StatusCode,
			Message: "upstream request failed",
		}

		if isJSON {
			var envl upstreamEnvelope
			if json.Unmarshal(raw, &envl) == nil {
				if envl.Message != "" {
					ue.Message = envl.Message
				}
				ue.Errors = envl.Errors
			}
		}

		return nil, ue
	}

	res := &Result{Status: resp.StatusCode}
	if isJSON {
		res.JSON = json.RawMessage(raw)
	} else {
		res.Text = raw
	}

	return res, nil
}

// resolve строит полный URL вызова: абсолютные URL проходят как есть.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return c.base + path
}

// encodeBody — тело вызова в байты; сырые байты не пересериализуются.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		return json.Marshal(body)
	}
}

// logCall — одна финальная запись на вызов: метод, путь, статус,
// длительность. Ни токен, ни payload в лог не попадают.
func (c *Client) logCall(ctx context.Context, method, path, rid string, status int, start time.Time, err error) {
	l := logctx.From(ctx)
	if l == slog.Default() {
		l = c.log
	}

	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", rid),
		slog.Int("status", status),
		slog.Duration("dur", time.Since(start)),
	}

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("err", err.Error()))
	}

	l.LogAttrs(ctx, level, "upstream", attrs...)
}
