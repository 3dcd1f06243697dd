package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"

	"lookup-gateway/lookup/domain"
)

// limite de chaves por chamada imposto pelo registro
const anafMaxBatch = 100

// ANAFClient consulta o registro de contribuintes (formato da API pública da
// ANAF): POST de uma lista [{"cui": N, "data": "AAAA-MM-DD"}], resposta com
// as listas found/notFound.
type ANAFClient struct {
	url      string
	hc       *http.Client
	maxBatch int
	clock    clockwork.Clock
	log      logr.Logger
}

type ANAFOption func(*ANAFClient)

func WithHTTPClient(hc *http.Client) ANAFOption {
	return func(c *ANAFClient) { c.hc = hc }
}

func WithMaxBatch(n int) ANAFOption {
	return func(c *ANAFClient) { c.maxBatch = n }
}

func WithClientClock(clock clockwork.Clock) ANAFOption {
	return func(c *ANAFClient) { c.clock = clock }
}

func WithClientLogger(l logr.Logger) ANAFOption {
	return func(c *ANAFClient) { c.log = l }
}

func NewANAFClient(url string, opts ...ANAFOption) *ANAFClient {
	c := &ANAFClient{
		url:      url,
		hc:       &http.Client{Timeout: 30 * time.Second},
		maxBatch: anafMaxBatch,
		clock:    clockwork.NewRealClock(),
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type anafQuery struct {
	CUI  json.Number `json:"cui"`
	Data string      `json:"data"`
}

type anafResponse struct {
	Cod      int               `json:"cod"`
	Message  string            `json:"message"`
	Found    []json.RawMessage `json:"found"`
	NotFound []json.Number     `json:"notFound"`
}

type anafFound struct {
	DateGenerale struct {
		CUI json.Number `json:"cui"`
	} `json:"date_generale"`
}

// Query implementa domain.Upstream. 429, 5xx e falhas de rede viram
// *domain.TransportError; qualquer outra resposta inesperada é permanente.
func (c *ANAFClient) Query(ctx context.Context, keys []domain.Key) (domain.QueryResult, error) {
	if len(keys) == 0 {
		return domain.QueryResult{}, nil
	}
	if len(keys) > c.maxBatch {
		return domain.QueryResult{}, fmt.Errorf("anaf query: %d keys exceeds limit of %d", len(keys), c.maxBatch)
	}

	// o registro só aceita CUIs numéricos; o resto não existe lá
	numeric := lo.Filter(keys, func(k domain.Key, _ int) bool { return isNumericKey(k) })
	if skipped := len(keys) - len(numeric); skipped > 0 {
		c.log.V(1).Info("non-numeric keys reported as not found", "count", skipped)
	}
	if len(numeric) == 0 {
		return domain.QueryResult{NotFound: keys}, nil
	}

	date := c.clock.Now().Format("2006-01-02")
	payload := lo.Map(numeric, func(k domain.Key, _ int) anafQuery {
		return anafQuery{CUI: json.Number(k), Data: date}
	})
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("anaf query: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("anaf query: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.QueryResult{}, ctxErr
		}
		return domain.QueryResult{}, &domain.TransportError{Op: "anaf query", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.QueryResult{}, &domain.TransportError{Op: "anaf query", Status: resp.StatusCode, Err: err}
	}
	if err := statusError(resp.StatusCode, body); err != nil {
		return domain.QueryResult{}, err
	}

	var out anafResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.QueryResult{}, fmt.Errorf("anaf query: decode response: %w", err)
	}
	if out.Cod != 0 && out.Cod != http.StatusOK {
		if err := statusError(out.Cod, []byte(out.Message)); err != nil {
			return domain.QueryResult{}, err
		}
	}
	res := c.partition(numeric, out)
	if len(numeric) < len(keys) {
		res.NotFound = append(res.NotFound, lo.Filter(keys, func(k domain.Key, _ int) bool { return !isNumericKey(k) })...)
	}
	return res, nil
}

func isNumericKey(k domain.Key) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func statusError(status int, body []byte) error {
	if status == http.StatusOK {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return &domain.TransportError{Op: "anaf query", Status: status, Err: errors.New(msg)}
	}
	return fmt.Errorf("anaf query: unexpected status %d: %s", status, msg)
}

// partition casa os elementos de found com as chaves pedidas. Chaves que não
// aparecem em nenhuma das listas contam como notFound.
func (c *ANAFClient) partition(keys []domain.Key, out anafResponse) domain.QueryResult {
	asked := lo.SliceToMap(keys, func(k domain.Key) (domain.Key, struct{}) { return k, struct{}{} })

	var res domain.QueryResult
	seen := make(map[domain.Key]struct{}, len(out.Found))
	for _, raw := range out.Found {
		var f anafFound
		if err := json.Unmarshal(raw, &f); err != nil || f.DateGenerale.CUI == "" {
			c.log.Info("skipping unreadable found entry", "err", err)
			continue
		}
		k := domain.Key(f.DateGenerale.CUI.String())
		if _, ok := asked[k]; !ok {
			c.log.V(1).Info("registry returned a key that was not asked for", "key", k)
			continue
		}
		seen[k] = struct{}{}
		res.Found = append(res.Found, domain.Entry{Key: k, Value: domain.Value(raw)})
	}

	res.NotFound = lo.Filter(keys, func(k domain.Key, _ int) bool {
		_, ok := seen[k]
		return !ok
	})
	if missing := len(keys) - len(seen) - len(out.NotFound); missing > 0 {
		c.log.V(1).Info("keys missing from registry response, treating as not found", "count", missing)
	}
	return res
}
