package eligibility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// ErrUnavailable означает, что сервис проверки не дал ответа, на который можно опереться.
// Вызывающая сторона трактует его как отказ (fail closed), но отличает от явного "не допущен".
var ErrUnavailable = errors.New("eligibility service unavailable")

// UnavailableError уточняет причину недоступности.
type UnavailableError struct {
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *UnavailableError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("eligibility service unavailable: %v", e.Err)
	case e.RetryAfter > 0:
		return fmt.Sprintf("eligibility service returned %d, retry after %s", e.StatusCode, e.RetryAfter)
	default:
		return fmt.Sprintf("eligibility service returned %d", e.StatusCode)
	}
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Verifier проверяет, можно ли выплачивать на указанного получателя.
type Verifier interface {
	VerifyEligibility(ctx context.Context, destination string) (bool, error)
}

type verifyRequest struct {
	Destination string `json:"destination"`
}

type verifyResponse struct {
	Eligible bool `json:"eligible"`
}

// HTTPVerifier обращается к внешнему сервису проверки получателя.
type HTTPVerifier struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPVerifier создаёт HTTP-клиент. rps <= 0 отключает ограничение частоты.
func NewHTTPVerifier(baseURL string, timeout time.Duration, rps float64) *HTTPVerifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &HTTPVerifier{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: limiter,
	}
}

// VerifyEligibility отправляет POST {base}/api/eligibility.
// 200 - решение из тела ответа; 403, 404, 422 - получатель не допущен;
// всё остальное, включая сетевые ошибки, - ErrUnavailable.
func (c *HTTPVerifier) VerifyEligibility(ctx context.Context, destination string) (bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return false, &UnavailableError{Err: fmt.Errorf("rate limiter: %w", err)}
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false, fmt.Errorf("invalid eligibility base url: %w", err)
	}
	u = u.JoinPath("api", "eligibility")

	body, err := json.Marshal(verifyRequest{Destination: destination})
	if err != nil {
		return false, fmt.Errorf("encode eligibility request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, &UnavailableError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload verifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return false, &UnavailableError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode eligibility response: %w", err)}
		}
		return payload.Eligible, nil
	case http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity:
		return false, nil
	case http.StatusTooManyRequests:
		return false, &UnavailableError{StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return false, &UnavailableError{StatusCode: resp.StatusCode}
	}
}

func parseRetryAfter(val string) time.Duration {
	if val == "" {
		return 5 * time.Second
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		return time.Until(t)
	}
	return 5 * time.Second
}

// StaticVerifier возвращает фиксированное решение. С Eligible: true используется,
// когда адрес сервиса проверки не настроен.
type StaticVerifier struct {
	Eligible bool
}

func (v StaticVerifier) VerifyEligibility(context.Context, string) (bool, error) {
	return v.Eligible, nil
}
