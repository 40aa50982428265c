package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

const defaultD1BaseURL = "https://api.cloudflare.com/client/v4"

var ErrD1Unavailable = errors.New("d1 unavailable")

type D1Config struct {
	AccountID  string
	DatabaseID string
	APIToken   string
	// Override for the API root, used by tests.
	BaseURL string
	// Per-request timeout. Defaults to ten seconds.
	Timeout    time.Duration
	HTTPClient *http.Client
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// D1Executor runs statements through the Cloudflare D1 HTTP query API.
// Calls pass through a circuit breaker so a failing API is not hammered.
type D1Executor struct {
	endpoint string
	token    string
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[[]Row]
	log      zerolog.Logger
}

func NewD1Executor(config D1Config) (*D1Executor, error) {
	if config.AccountID == "" || config.DatabaseID == "" || config.APIToken == "" {
		return nil, errors.New("d1 needs account id, database id and api token")
	}
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().Str("component", "d1").Logger()

	base := strings.TrimRight(config.BaseURL, "/")
	if base == "" {
		base = defaultD1BaseURL
	}
	client := config.HTTPClient
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	e := &D1Executor{
		endpoint: fmt.Sprintf("%s/accounts/%s/d1/database/%s/query", base, config.AccountID, config.DatabaseID),
		token:    config.APIToken,
		client:   client,
		log:      logger,
	}
	e.cb = gobreaker.NewCircuitBreaker[[]Row](gobreaker.Settings{
		Name:        "d1",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// only transport and server failures count against the breaker
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrD1Unavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
		},
	})
	return e, nil
}

func (e *D1Executor) Prepare(query string) Statement {
	return d1Statement{exec: e, query: query}
}

func (e *D1Executor) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

type d1Request struct {
	SQL    string `json:"sql"`
	Params []any  `json:"params"`
}

type d1Response struct {
	Success bool `json:"success"`
	Errors  []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Result []struct {
		Results []map[string]any `json:"results"`
		Success bool             `json:"success"`
	} `json:"result"`
}

func (e *D1Executor) query(ctx context.Context, query string, args []any) ([]Row, error) {
	rows, err := e.cb.Execute(func() ([]Row, error) {
		return e.do(ctx, query, args)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %w", ErrD1Unavailable, err)
	}
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	return rows, nil
}

func (e *D1Executor) do(ctx context.Context, query string, args []any) ([]Row, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(d1Request{SQL: query, Params: args})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrD1Unavailable, err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrD1Unavailable, err)
	}
	e.log.Trace().Int("status", res.StatusCode).Dur("took", time.Since(start)).Msg("D1 query")

	var parsed d1Response
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	decodeErr := dec.Decode(&parsed)

	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d", ErrD1Unavailable, res.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("d1 response: %w", decodeErr)
	}
	if !parsed.Success || len(parsed.Errors) > 0 {
		msgs := make([]string, 0, len(parsed.Errors))
		for _, apiErr := range parsed.Errors {
			msgs = append(msgs, apiErr.Message)
		}
		if len(msgs) == 0 {
			msgs = append(msgs, fmt.Sprintf("status %d", res.StatusCode))
		}
		return nil, errors.New(strings.Join(msgs, "; "))
	}

	rows := []Row{}
	if len(parsed.Result) > 0 {
		for _, r := range parsed.Result[0].Results {
			row := make(Row, len(r))
			for k, v := range r {
				row[k] = d1Scalar(v)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func d1Scalar(v any) any {
	n, ok := v.(json.Number)
	if !ok {
		return v
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}

type d1Statement struct {
	exec  *D1Executor
	query string
	args  []any
}

func (s d1Statement) Bind(args ...any) Statement {
	s.args = append([]any(nil), args...)
	return s
}

func (s d1Statement) First(ctx context.Context) (Row, bool, error) {
	rows, err := s.All(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (s d1Statement) All(ctx context.Context) ([]Row, error) {
	return s.exec.query(ctx, s.query, s.args)
}
