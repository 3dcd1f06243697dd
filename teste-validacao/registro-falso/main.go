package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Registro falso no formato do webservice da ANAF, para testar o lookupd sem
// rede. CUIs múltiplos de 7 não existem. Chamadas mais rápidas que
// MIN_INTERVAL recebem 429 e ficam no log como violação.
//
//	LISTEN_ADDR=:8081 FAIL_RATE=0.2 LATENCY=300ms go run ./teste-validacao/registro-falso
type query struct {
	CUI  json.Number `json:"cui"`
	Data string      `json:"data"`
}

type generale struct {
	CUI      int64  `json:"cui"`
	Data     string `json:"data"`
	Denumire string `json:"denumire"`
	Adresa   string `json:"adresa"`
}

type found struct {
	DateGenerale generale `json:"date_generale"`
}

type response struct {
	Cod      int     `json:"cod"`
	Message  string  `json:"message"`
	Found    []found `json:"found"`
	NotFound []int64 `json:"notFound"`
}

type registry struct {
	log         *zap.SugaredLogger
	failRate    float64
	latency     time.Duration
	minInterval time.Duration

	mu   sync.Mutex
	last time.Time
	hits int
}

func main() {
	zl, _ := zap.NewDevelopment()
	defer func() { _ = zl.Sync() }()

	reg := &registry{
		log:         zl.Sugar(),
		failRate:    envFloat("FAIL_RATE", 0),
		latency:     envDuration("LATENCY", 0),
		minInterval: envDuration("MIN_INTERVAL", time.Second),
	}

	r := chi.NewRouter()
	r.Post("/api/v8/ws/tva", reg.tva)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	reg.log.Infow("fake registry listening", "addr", addr,
		"fail_rate", reg.failRate, "latency", reg.latency, "min_interval", reg.minInterval)
	if err := http.ListenAndServe(addr, r); err != nil {
		reg.log.Fatalw("server error", "err", err)
	}
}

func (g *registry) tva(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	g.mu.Lock()
	g.hits++
	gap := now.Sub(g.last)
	tooSoon := !g.last.IsZero() && gap < g.minInterval
	g.last = now
	hit := g.hits
	g.mu.Unlock()

	if tooSoon {
		g.log.Warnw("rate interval violated", "hit", hit, "gap", gap, "min_interval", g.minInterval)
		w.Header().Set("Retry-After", "1")
		reply(w, http.StatusTooManyRequests, response{Cod: http.StatusTooManyRequests, Message: "Too Many Requests"})
		return
	}

	var qs []query
	if err := json.NewDecoder(r.Body).Decode(&qs); err != nil {
		reply(w, http.StatusBadRequest, response{Cod: http.StatusBadRequest, Message: "invalid body"})
		return
	}
	if len(qs) > 100 {
		reply(w, http.StatusBadRequest, response{Cod: http.StatusBadRequest, Message: "max 100 CUI per request"})
		return
	}

	if g.latency > 0 {
		time.Sleep(g.latency)
	}
	if g.failRate > 0 && rand.Float64() < g.failRate {
		g.log.Infow("injected failure", "hit", hit, "size", len(qs))
		reply(w, http.StatusServiceUnavailable, response{Cod: http.StatusServiceUnavailable, Message: "Service Unavailable"})
		return
	}

	out := response{Cod: http.StatusOK, Message: "SUCCESS", Found: []found{}, NotFound: []int64{}}
	for _, q := range qs {
		cui, err := q.CUI.Int64()
		if err != nil || cui%7 == 0 {
			out.NotFound = append(out.NotFound, cui)
			continue
		}
		out.Found = append(out.Found, found{DateGenerale: generale{
			CUI:      cui,
			Data:     q.Data,
			Denumire: "FIRMA " + strconv.FormatInt(cui, 10) + " SRL",
			Adresa:   "BUCURESTI",
		}})
	}
	g.log.Infow("query served", "hit", hit, "gap", gap, "size", len(qs),
		"found", len(out.Found), "not_found", len(out.NotFound))
	reply(w, http.StatusOK, out)
}

func reply(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func envFloat(k string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(k), 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(k string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(k))
	if err != nil {
		return def
	}
	return d
}
