package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func allowAll(string) error { return nil }

func TestHTTP_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("user-agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTP(HTTPConfig{UserAgent: "test-agent", URLValidator: allowAll})
	doc, err := f.Fetch(context.Background(), &Request{URL: srv.URL + "/list", Source: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != 200 || !strings.Contains(string(doc.Body), "ok") || doc.Via != "http" {
		t.Fatalf("doc = %+v", doc)
	}
	if doc.URL != srv.URL+"/list" {
		t.Fatalf("final url = %q", doc.URL)
	}
}

func TestHTTP_FollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("moved"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	doc, err := NewHTTP(HTTPConfig{URLValidator: allowAll}).Fetch(context.Background(), &Request{URL: srv.URL + "/old"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.URL != srv.URL+"/new" {
		t.Fatalf("final url = %q, want the redirect target", doc.URL)
	}
}

func TestHTTP_Non2xxIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTP(HTTPConfig{URLValidator: allowAll}).Fetch(context.Background(), &Request{URL: srv.URL})
	if !errors.Is(err, ErrTransport) || !IsRetryable(err) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.Status != http.StatusServiceUnavailable {
		t.Fatalf("status not carried: %v", err)
	}
}

func TestHTTP_DeadlineIsTimeout(t *testing.T) {
	// WHAT: A per-call deadline becomes a retryable timeout.
	// WHY: Slow sources must feed the retry loop, not look like aborts.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTP(HTTPConfig{URLValidator: allowAll}).Fetch(ctx, &Request{URL: srv.URL})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestHTTP_CancelIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := NewHTTP(HTTPConfig{URLValidator: allowAll}).Fetch(ctx, &Request{URL: srv.URL})
	if !errors.Is(err, context.Canceled) || IsRetryable(err) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestHTTP_BlocksPrivateByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	_, err := NewHTTP(HTTPConfig{}).Fetch(context.Background(), &Request{URL: srv.URL})
	if err == nil || IsRetryable(err) {
		t.Fatalf("err = %v, want non-retryable block", err)
	}
}

func TestHTTP_MaxBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	_, err := NewHTTP(HTTPConfig{MaxBytes: 10, URLValidator: allowAll}).Fetch(context.Background(), &Request{URL: srv.URL})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
}

type stubFetcher struct {
	calls int
	doc   *Document
	err   error
}

func (s *stubFetcher) Fetch(context.Context, *Request) (*Document, error) {
	s.calls++
	return s.doc, s.err
}

func TestAuto_EscalatesOnShell(t *testing.T) {
	shell := `<html><head><script src="/app.js"></script></head><body><div id="root"></div>` +
		strings.Repeat(" ", 300) + `</body></html>`
	httpF := &stubFetcher{doc: &Document{Body: []byte(shell), Via: "http", ContentType: "text/html"}}
	browserF := &stubFetcher{doc: &Document{Body: []byte("<html>rendered</html>"), Via: "browser"}}

	a := &Auto{HTTP: httpF, Browser: browserF}
	doc, err := a.Fetch(context.Background(), &Request{URL: "https://x.test"})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Via != "browser" || browserF.calls != 1 {
		t.Fatalf("expected escalation, got via=%s calls=%d", doc.Via, browserF.calls)
	}
}

func TestAuto_KeepsSufficientHTMLAndJSON(t *testing.T) {
	page := "<html><body><article>" + strings.Repeat("Lorem ipsum dolor sit amet. ", 20) + "</article></body></html>"
	browserF := &stubFetcher{}

	for _, doc := range []*Document{
		{Body: []byte(page), ContentType: "text/html"},
		{Body: []byte(`{"data":[]}`), ContentType: "application/json"},
	} {
		a := &Auto{HTTP: &stubFetcher{doc: doc}, Browser: browserF}
		if _, err := a.Fetch(context.Background(), &Request{URL: "https://x.test"}); err != nil {
			t.Fatal(err)
		}
	}
	if browserF.calls != 0 {
		t.Fatalf("browser called %d times", browserF.calls)
	}
}

func TestIsSufficient(t *testing.T) {
	if IsSufficient([]byte("<html></html>")) {
		t.Error("tiny page should not be sufficient")
	}
	scripty := "<html><script>" + strings.Repeat("var a=1;", 200) + "</script><body><p>hi</p></body></html>"
	if IsSufficient([]byte(scripty)) {
		t.Error("script-heavy page should not be sufficient")
	}
}
