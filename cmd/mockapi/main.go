// Command mockapi serves a synthetic IODA API for local development and
// demos. Entity listings come from a built-in West Africa fixture set and
// signal values are derived from a seeded hash, so every response is
// reproducible for a given seed. Windows before a pair's synthetic
// coverage start return all-null buckets, which exercises the coverage
// probing paths end to end.
//
// Usage:
//
//	go run ./cmd/mockapi -addr :8081 [-seed 1] [-flaky]
//
// Point the pipeline at it with IODA_BASE_URL=http://localhost:8081.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"
)

const nativeStep = 600

// synthetic coverage begins somewhere after this epoch, per entity x metric.
var coverageEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

type fixtureEntity struct {
	Code       string
	Name       string
	Type       string
	ParentCode string
	ParentName string
}

var countries = []fixtureEntity{
	{Code: "BJ", Name: "Benin", Type: "country"},
	{Code: "BF", Name: "Burkina Faso", Type: "country"},
	{Code: "CI", Name: "Cote d'Ivoire", Type: "country"},
	{Code: "CV", Name: "Cape Verde", Type: "country"},
	{Code: "GH", Name: "Ghana", Type: "country"},
	{Code: "GM", Name: "Gambia", Type: "country"},
	{Code: "GN", Name: "Guinea", Type: "country"},
	{Code: "GW", Name: "Guinea-Bissau", Type: "country"},
	{Code: "LR", Name: "Liberia", Type: "country"},
	{Code: "ML", Name: "Mali", Type: "country"},
	{Code: "MR", Name: "Mauritania", Type: "country"},
	{Code: "NE", Name: "Niger", Type: "country"},
	{Code: "NG", Name: "Nigeria", Type: "country"},
	{Code: "SL", Name: "Sierra Leone", Type: "country"},
	{Code: "SN", Name: "Senegal", Type: "country"},
	{Code: "TG", Name: "Togo", Type: "country"},
}

var regions = []fixtureEntity{
	{Code: "4416", Name: "Dakar", Type: "region", ParentCode: "SN", ParentName: "Senegal"},
	{Code: "4417", Name: "Thies", Type: "region", ParentCode: "SN", ParentName: "Senegal"},
	{Code: "4418", Name: "Saint-Louis", Type: "region", ParentCode: "SN", ParentName: "Senegal"},
	{Code: "1400", Name: "Greater Accra", Type: "region", ParentCode: "GH", ParentName: "Ghana"},
	{Code: "1401", Name: "Ashanti", Type: "region", ParentCode: "GH", ParentName: "Ghana"},
	{Code: "2560", Name: "Lagos", Type: "region", ParentCode: "NG", ParentName: "Nigeria"},
	{Code: "2561", Name: "Kano", Type: "region", ParentCode: "NG", ParentName: "Nigeria"},
}

type datasource struct {
	Datasource string `json:"datasource"`
	Name       string `json:"name"`
	Units      string `json:"units"`
}

var datasources = []datasource{
	{Datasource: "bgp", Name: "BGP", Units: "Visible /24s"},
	{Datasource: "gtr", Name: "Google Transparency Report", Units: "Normalized Values"},
	{Datasource: "merit-nt", Name: "Network Telescope", Units: "Unique Source IPs"},
	{Datasource: "ping-slash24", Name: "Active Probing", Units: "# Unique Normal Pingable /24s"},
	{Datasource: "ping-slash24-latency", Name: "Active Probing Latency", Units: "Milliseconds"},
}

func main() {
	addr := flag.String("addr", ":8081", "listen address")
	seed := flag.Int64("seed", 1, "seed mixed into every synthetic value")
	flaky := flag.Bool("flaky", false, "return 503 on every seventh signals request")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(*addr, *seed, *flaky, logger); err != nil {
		logger.Error("mockapi failed", "error", err)
		os.Exit(1)
	}
}

func run(addr string, seed int64, flaky bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s := &server{seed: seed, flaky: flaky, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /datasources/", s.handleDatasources)
	mux.HandleFunc("GET /entities/query", s.handleEntities)
	mux.HandleFunc("GET /signals/raw/{entityType}/{entityCode}", s.handleSignals)

	srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mockapi listening", "addr", addr, "seed", seed, "flaky", flaky)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("mockapi stopped")
	return nil
}

type server struct {
	seed     int64
	flaky    bool
	requests atomic.Int64
	logger   *slog.Logger
}

func (s *server) handleDatasources(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, "datasources", datasources)
}

func (s *server) handleEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entityType := q.Get("entityType")
	relatedTo := q.Get("relatedTo")
	limit := intParam(q.Get("limit"), 100)
	if limit < 1 {
		limit = 100
	}
	page := intParam(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}

	var pool []fixtureEntity
	switch entityType {
	case "country":
		pool = countries
	case "region":
		for _, reg := range regions {
			if relatedTo == "" || relatedTo == "country/"+reg.ParentCode {
				pool = append(pool, reg)
			}
		}
	}

	start := (page - 1) * limit
	if start > len(pool) {
		start = len(pool)
	}
	end := start + limit
	if end > len(pool) {
		end = len(pool)
	}

	rows := make([]map[string]any, 0, end-start)
	for _, e := range pool[start:end] {
		row := map[string]any{"code": e.Code, "name": e.Name, "type": e.Type}
		if e.ParentCode != "" {
			row["attrs"] = map[string]any{
				"country_code": e.ParentCode,
				"country_name": e.ParentName,
			}
		}
		rows = append(rows, row)
	}
	writeEnvelope(w, "entities", rows)
}

func (s *server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if s.flaky && s.requests.Add(1)%7 == 0 {
		http.Error(w, "synthetic overload", http.StatusServiceUnavailable)
		return
	}

	entityType := r.PathValue("entityType")
	entityCode := r.PathValue("entityCode")
	q := r.URL.Query()
	from := int64(intParam(q.Get("from"), 0))
	until := int64(intParam(q.Get("until"), 0))
	metric := q.Get("datasource")
	maxPoints := intParam(q.Get("maxPoints"), 0)
	if until <= from || metric == "" {
		http.Error(w, "bad window or datasource", http.StatusBadRequest)
		return
	}

	// Downsample the way the real API does: double the step until the
	// bucket count fits under maxPoints.
	step := int64(nativeStep)
	for maxPoints > 0 && (until-from)/step > int64(maxPoints) {
		step *= 2
	}

	covStart := s.coverageStart(entityCode, metric)
	var values []any
	for ts := from; ts < until; ts += step {
		if ts < covStart {
			values = append(values, nil)
			continue
		}
		values = append(values, s.bucketValue(entityCode, metric, ts))
	}

	name := entityName(entityCode)
	series := map[string]any{
		"entityType": entityType,
		"entityCode": entityCode,
		"entityName": name,
		"datasource": metric,
		"from":       from,
		"until":      until,
		"step":       step,
		"nativeStep": nativeStep,
		"values":     values,
	}
	writeEnvelope(w, "signals", []any{[]any{series}})
}

// coverageStart pins the first populated bucket for a pair somewhere in
// the thousand days after the coverage epoch.
func (s *server) coverageStart(entity, metric string) int64 {
	return coverageEpoch + int64(s.mix("start", entity, metric, 0)%1000)*86400
}

// bucketValue derives one bucket deterministically. Roughly one bucket in
// seventeen is null; the latency datasource serves nested records.
func (s *server) bucketValue(entity, metric string, ts int64) any {
	h := s.mix("value", entity, metric, ts)
	if h%17 == 0 {
		return nil
	}
	base := float64(100+h%900) + float64((h>>32)%100)/10

	if metric == "ping-slash24-latency" {
		p90 := base * 1.8
		return map[string]any{
			"geo_scope":  "national",
			"agg_values": map[string]any{"mean_latency": base, "p90_latency": p90},
		}
	}
	return base
}

func (s *server) mix(kind, entity, metric string, ts int64) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d", s.seed, kind, entity, metric, ts)
	return h.Sum64()
}

func entityName(code string) string {
	for _, e := range countries {
		if e.Code == code {
			return e.Name
		}
	}
	for _, e := range regions {
		if e.Code == code {
			return e.Name
		}
	}
	return code
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeEnvelope(w http.ResponseWriter, typ string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck // best-effort mock response
		"type":  typ,
		"error": nil,
		"data":  data,
	})
}
