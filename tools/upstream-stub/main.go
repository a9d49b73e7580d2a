// upstream-stub fakes the three external services workorder talks to in
// development: the geocoder, the compliance scorer, and the outreach
// notifier. Responses are deterministic. Outreach requests are recorded and
// exposed on /stats for manual inspection.
package main

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type outreachRequest struct {
	Timestamp string            `json:"timestamp"`
	Path      string            `json:"path"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
}

type stats struct {
	Count        int64             `json:"count"`
	LastRequests []outreachRequest `json:"last_requests"`
	Since        string            `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	lastRequests []outreachRequest
	since        time.Time
	maxStored    = 50
)

func main() {
	since = time.Now().UTC()

	addr := ":9090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/geocode", geocodeHandler)
	http.HandleFunc("/rank", rankHandler)
	http.HandleFunc("/outreach/warm", outreachHandler)
	http.HandleFunc("/outreach/cold", outreachHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("upstream-stub listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// geocodeHandler resolves any query to coordinates derived from its hash.
// Queries containing "unknown" return 404 to exercise the not-found path.
func geocodeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" || strings.Contains(strings.ToLower(q), "unknown") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	h := fnv.New32a()
	h.Write([]byte(q))
	sum := h.Sum32()

	resp := map[string]any{
		"lat":   25.0 + float64(sum%1000)/100.0,
		"lng":   -80.0 - float64(sum/1000%1000)/100.0,
		"city":  "Miami",
		"state": "FL",
	}
	writeJSON(w, resp)
}

// rankHandler returns a fixed set of ranked technicians regardless of the
// policy or trade asked for.
func rankHandler(w http.ResponseWriter, r *http.Request) {
	log.Printf("rank requested: %s", r.URL.RawQuery)

	resp := map[string]any{
		"candidates": []map[string]any{
			{
				"technician_id":       "11111111-1111-1111-1111-111111111111",
				"score":               0.92,
				"passed_requirements": []string{"license", "insurance"},
			},
			{
				"technician_id":       "22222222-2222-2222-2222-222222222222",
				"score":               0.81,
				"passed_requirements": []string{"license"},
				"failed_requirements": []string{"insurance"},
			},
			{
				"technician_id":       "33333333-3333-3333-3333-333333333333",
				"score":               0.64,
				"passed_requirements": []string{"license", "insurance"},
			},
		},
	}
	writeJSON(w, resp)
}

func outreachHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := outreachRequest{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Path:      r.URL.Path,
		Headers:   headers,
		Body:      string(body),
	}

	mu.Lock()
	count++
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("outreach received #%d (%s): %s", current, r.URL.Path, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	writeJSON(w, s)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
