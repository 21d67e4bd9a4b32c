//go:debug httpmuxgo121=0

package ddns_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Travis-Britz/ddns/v2"
	"github.com/cloudflare/cloudflare-go"
	"github.com/sirupsen/logrus"
)

type fakeRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied *bool  `json:"proxied,omitempty"`
	TTL     int    `json:"ttl"`
	Comment string `json:"comment,omitempty"`
}

// fakeCloudflare serves the subset of the Cloudflare v4 API used by the provider.
type fakeCloudflare struct {
	mu      sync.Mutex
	records []fakeRecord
	zones   []cloudflare.Zone
	nextID  int
	deny    bool
	writes  int
}

func (f *fakeCloudflare) add(name, content string, proxied bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("rec%d", f.nextID)
	f.records = append(f.records, fakeRecord{ID: id, Type: "A", Name: name, Content: content, Proxied: &proxied, TTL: 300})
	return id
}

func (f *fakeCloudflare) get(id string) (fakeRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.ID == id {
			return r, true
		}
	}
	return fakeRecord{}, false
}

// state returns a copy of the stored records and the number of writes.
func (f *fakeCloudflare) state() ([]fakeRecord, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeRecord(nil), f.records...), f.writes
}

func (f *fakeCloudflare) setDeny(deny bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deny = deny
}

func (f *fakeCloudflare) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		writeList(w, f.zones, len(f.zones))
	})
	mux.HandleFunc("GET /zones/{zone}/dns_records", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		q := r.URL.Query()
		matches := []fakeRecord{}
		for _, rec := range f.records {
			if !filter(q.Get("type"), rec.Type) || !filter(q.Get("name")+q.Get("name.exact"), rec.Name) ||
				!filter(q.Get("content")+q.Get("content.exact"), rec.Content) {
				continue
			}
			matches = append(matches, rec)
		}
		writeList(w, matches, len(matches))
	})
	mux.HandleFunc("POST /zones/{zone}/dns_records", func(w http.ResponseWriter, r *http.Request) {
		var rec fakeRecord
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextID++
		f.writes++
		rec.ID = fmt.Sprintf("rec%d", f.nextID)
		f.records = append(f.records, rec)
		writeResult(w, rec)
	})
	mux.HandleFunc("GET /zones/{zone}/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, ok := f.get(r.PathValue("id"))
		if !ok {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeResult(w, rec)
	})
	mux.HandleFunc("PATCH /zones/{zone}/dns_records/{id}", func(w http.ResponseWriter, r *http.Request) {
		var patch fakeRecord
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, rec := range f.records {
			if rec.ID != r.PathValue("id") {
				continue
			}
			f.writes++
			if patch.Content != "" {
				rec.Content = patch.Content
			}
			if patch.Name != "" {
				rec.Name = patch.Name
			}
			if patch.Proxied != nil {
				rec.Proxied = patch.Proxied
			}
			if patch.TTL != 0 {
				rec.TTL = patch.TTL
			}
			f.records[i] = rec
			writeResult(w, rec)
			return
		}
		writeError(w, http.StatusNotFound, "record not found")
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		deny := f.deny
		f.mu.Unlock()
		if deny {
			writeError(w, http.StatusForbidden, "Authentication error")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func filter(want, got string) bool { return want == "" || want == got }

func writeList[T any](w http.ResponseWriter, result []T, n int) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"errors":   []any{},
		"messages": []any{},
		"result":   result,
		"result_info": map[string]int{
			"page": 1, "per_page": 100, "total_pages": 1, "count": n, "total_count": n,
		},
	})
}

func writeResult(w http.ResponseWriter, result any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":  true,
		"errors":   []any{},
		"messages": []any{},
		"result":   result,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success":  false,
		"errors":   []map[string]any{{"code": 10000, "message": msg}},
		"messages": []any{},
		"result":   nil,
	})
}

func testAPIOptions(url string) []cloudflare.Option {
	return []cloudflare.Option{
		cloudflare.BaseURL(url),
		cloudflare.UsingRetryPolicy(0, 0, 0),
		cloudflare.UsingRateLimit(1000),
	}
}

func newTestCloudflare(t *testing.T, opts ...ddns.CloudflareOption) (*ddns.Cloudflare, *fakeCloudflare) {
	t.Helper()
	fake := &fakeCloudflare{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	opts = append([]ddns.CloudflareOption{ddns.WithAPIOptions(testAPIOptions(srv.URL)...)}, opts...)
	cf, err := ddns.NewCloudflare("test-token", "zone1", opts...)
	if err != nil {
		t.Fatalf("NewCloudflare failed: %s", err)
	}
	return cf, fake
}

func TestNewCloudflareRequiresZone(t *testing.T) {
	if _, err := ddns.NewCloudflare("token", ""); err == nil {
		t.Fatalf("Expected an error for an empty zone ID")
	}
}

func TestCloudflareRecordByName(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	fake.add("home.example.com", "1.2.3.4", true)
	fake.add("other.example.com", "1.2.3.5", true)

	r, err := cf.RecordByName(context.Background(), "home.example.com", ddns.Discard)
	if err != nil {
		t.Fatalf("RecordByName failed: %s", err)
	}
	if expected, got := mustRecord(t, "1.2.3.4", "home.example.com"), r; expected != got {
		t.Fatalf("Expected %s; got %s", expected, got)
	}

	_, err = cf.RecordByName(context.Background(), "missing.example.com", ddns.Discard)
	if !errors.Is(err, ddns.ErrRecordNotFound) {
		t.Fatalf("Expected ErrRecordNotFound; got %v", err)
	}
}

func TestCloudflareRecordByNameDuplicates(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	fake.add("home.example.com", "1.2.3.4", true)
	fake.add("home.example.com", "1.2.3.5", true)
	log, hook := hookLogger()

	_, err := cf.RecordByName(context.Background(), "home.example.com", log)
	var mre *ddns.MultipleRecordsError
	if !errors.As(err, &mre) {
		t.Fatalf("Expected *MultipleRecordsError; got %v", err)
	}
	if mre.Count != 2 {
		t.Fatalf("Expected Count 2; got %d", mre.Count)
	}
	if errors.Is(err, ddns.ErrRecordNotFound) {
		t.Fatalf("Expected duplicates to be distinct from a missing record")
	}

	found := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && strings.Contains(e.Message, "more than one result") {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expected an error log naming the duplicate results")
	}
}

func TestCloudflareRecordByIP(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	fake.add("home.example.com", "1.2.3.4", true)

	r, err := cf.RecordByIP(context.Background(), netip.MustParseAddr("1.2.3.4"), ddns.Discard)
	if err != nil {
		t.Fatalf("RecordByIP failed: %s", err)
	}
	if expected, got := "home.example.com", r.Name(); expected != got {
		t.Fatalf("Expected %q; got %q", expected, got)
	}

	_, err = cf.RecordByIP(context.Background(), netip.MustParseAddr("9.9.9.9"), ddns.Discard)
	if !errors.Is(err, ddns.ErrRecordNotFound) {
		t.Fatalf("Expected ErrRecordNotFound; got %v", err)
	}
	_, err = cf.RecordByIP(context.Background(), netip.MustParseAddr("2001:db8::1"), ddns.Discard)
	if !errors.Is(err, ddns.ErrInvalidIP) {
		t.Fatalf("Expected ErrInvalidIP; got %v", err)
	}
}

func TestCloudflareSetRecordCreates(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	want := mustRecord(t, "5.6.7.8", "new.example.com")

	for i := 0; i < 2; i++ {
		if err := cf.SetRecord(context.Background(), want, ddns.Discard); err != nil {
			t.Fatalf("SetRecord #%d failed: %s", i+1, err)
		}
	}
	records, writes := fake.state()
	if len(records) != 1 {
		t.Fatalf("Expected exactly one record; got %d", len(records))
	}
	if writes != 1 {
		t.Fatalf("Expected one write; got %d", writes)
	}
	rec := records[0]
	if rec.Proxied == nil || !*rec.Proxied {
		t.Fatalf("Expected new records to be proxied by default")
	}
	if rec.Comment != ddns.DefaultComment {
		t.Fatalf("Expected comment %q; got %q", ddns.DefaultComment, rec.Comment)
	}

	got, err := cf.RecordByName(context.Background(), want.Name(), ddns.Discard)
	if err != nil {
		t.Fatalf("RecordByName failed: %s", err)
	}
	if got != want {
		t.Fatalf("Expected %s; got %s", want, got)
	}
}

func TestCloudflareSetRecordUpdates(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	id := fake.add("home.example.com", "1.2.3.4", false)
	want := mustRecord(t, "5.6.7.8", "home.example.com")

	if err := cf.SetRecord(context.Background(), want, ddns.Discard); err != nil {
		t.Fatalf("SetRecord failed: %s", err)
	}
	rec, ok := fake.get(id)
	if !ok {
		t.Fatalf("Expected record %s to keep its ID", id)
	}
	if rec.Content != "5.6.7.8" {
		t.Fatalf("Expected content 5.6.7.8; got %s", rec.Content)
	}
	if rec.Proxied == nil || *rec.Proxied {
		t.Fatalf("Expected the existing proxy status to be kept")
	}
	if records, _ := fake.state(); len(records) != 1 {
		t.Fatalf("Expected exactly one record; got %d", len(records))
	}
}

func TestCloudflareWithProxied(t *testing.T) {
	cf, fake := newTestCloudflare(t, ddns.WithProxied(false))
	id := fake.add("home.example.com", "1.2.3.4", true)

	// same content but a different proxy status still needs a write
	if err := cf.SetRecord(context.Background(), mustRecord(t, "1.2.3.4", "home.example.com"), ddns.Discard); err != nil {
		t.Fatalf("SetRecord failed: %s", err)
	}
	rec, _ := fake.get(id)
	if rec.Proxied == nil || *rec.Proxied {
		t.Fatalf("Expected the record to be unproxied")
	}
	if _, writes := fake.state(); writes != 1 {
		t.Fatalf("Expected one write; got %d", writes)
	}
}

func TestCloudflareSetRecordDuplicates(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	fake.add("home.example.com", "1.2.3.4", true)
	fake.add("home.example.com", "1.2.3.5", true)

	err := cf.SetRecord(context.Background(), mustRecord(t, "5.6.7.8", "home.example.com"), ddns.Discard)
	var mre *ddns.MultipleRecordsError
	if !errors.As(err, &mre) {
		t.Fatalf("Expected *MultipleRecordsError; got %v", err)
	}
	if _, writes := fake.state(); writes != 0 {
		t.Fatalf("Expected no writes; got %d", writes)
	}
}

func TestCloudflareSetRecordZero(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	if err := cf.SetRecord(context.Background(), ddns.Record{}, ddns.Discard); err == nil {
		t.Fatalf("Expected an error for the zero record")
	}
	if _, writes := fake.state(); writes != 0 {
		t.Fatalf("Expected no writes; got %d", writes)
	}
}

func TestCloudflareForbidden(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	fake.add("home.example.com", "1.2.3.4", true)
	fake.setDeny(true)
	log, hook := hookLogger()

	if _, err := cf.RecordByName(context.Background(), "home.example.com", log); err == nil {
		t.Fatalf("Expected an error from a forbidden lookup")
	}
	if err := cf.SetRecord(context.Background(), mustRecord(t, "5.6.7.8", "home.example.com"), log); err == nil {
		t.Fatalf("Expected an error from a forbidden update")
	}
	if len(hook.AllEntries()) == 0 {
		t.Fatalf("Expected the failures to be logged")
	}
}

func TestCloudflareRefresh(t *testing.T) {
	cf, fake := newTestCloudflare(t)
	id := fake.add("home.example.com", "1.2.3.4", true)
	ips := &fakeIP{ip: netip.MustParseAddr("5.6.7.8")}

	if res := ddns.Refresh(context.Background(), ips, cf, "home.example.com", nil); res.Outcome != ddns.OutcomeUpdated {
		t.Fatalf("Expected %s; got %s", ddns.OutcomeUpdated, res.Outcome)
	}
	if res := ddns.Refresh(context.Background(), ips, cf, "home.example.com", nil); res.Outcome != ddns.OutcomeUnchanged {
		t.Fatalf("Expected %s; got %s", ddns.OutcomeUnchanged, res.Outcome)
	}
	if rec, _ := fake.get(id); rec.Content != "5.6.7.8" {
		t.Fatalf("Expected content 5.6.7.8; got %s", rec.Content)
	}
}

func TestZoneIDForDomain(t *testing.T) {
	fake := &fakeCloudflare{zones: []cloudflare.Zone{
		{ID: "z1", Name: "example.com"},
		{ID: "z2", Name: "home.example.com"},
		{ID: "z3", Name: "example.org"},
		{ID: "z4", Name: "notexample.com"},
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	api, err := cloudflare.NewWithAPIToken("test-token", testAPIOptions(srv.URL)...)
	if err != nil {
		t.Fatalf("NewWithAPIToken failed: %s", err)
	}

	tests := map[string]string{
		"www.example.com":    "z1",
		"example.com":        "z1",
		"a.home.example.com": "z2",
		"home.example.com":   "z2",
		"WWW.Example.ORG.":   "z3",
	}
	for domain, expected := range tests {
		got, err := ddns.ZoneIDForDomain(context.Background(), api, domain)
		if err != nil {
			t.Fatalf("ZoneIDForDomain(%q) failed: %s", domain, err)
		}
		if got != expected {
			t.Fatalf("ZoneIDForDomain(%q): expected %q; got %q", domain, expected, got)
		}
	}

	if _, err := ddns.ZoneIDForDomain(context.Background(), api, "example.net"); err == nil {
		t.Fatalf("Expected an error for a domain with no zone")
	}
}

func TestCloudflareRecordByNameFailures(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"malformed json": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, "{not json")
		},
		"content not ipv4": func(w http.ResponseWriter, r *http.Request) {
			writeList(w, []fakeRecord{{ID: "rec1", Type: "A", Name: "home.example.com", Content: "nope", TTL: 1}}, 1)
		},
		"hung": func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			cf, err := ddns.NewCloudflare("test-token", "zone1",
				ddns.WithAPIOptions(testAPIOptions(srv.URL)...),
				ddns.WithTimeout(50*time.Millisecond),
			)
			if err != nil {
				t.Fatalf("NewCloudflare failed: %s", err)
			}
			log, hook := hookLogger()

			start := time.Now()
			r, err := cf.RecordByName(context.Background(), "home.example.com", log)
			if err == nil {
				t.Fatalf("Expected an error; got %s", r)
			}
			if !r.IsZero() {
				t.Fatalf("Expected the zero record; got %s", r)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Fatalf("Expected the lookup to be bounded by the timeout; took %s", elapsed)
			}
			found := false
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.ErrorLevel {
					found = true
				}
			}
			if !found {
				t.Fatalf("Expected an error level log entry")
			}
		})
	}
}
