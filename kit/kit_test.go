package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(context.Context, any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("resp = %v, err = %v", resp, err)
	}
	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("order = %v, want %v", order, want)
	}
}

func TestRequestID_KeepsExisting(t *testing.T) {
	var got []string
	ep := RequestID(func() string { return "req_new" })(func(ctx context.Context, _ any) (any, error) {
		got = append(got, GetRequestID(ctx))
		return nil, nil
	})
	ep(context.Background(), nil)
	ep(WithRequestID(context.Background(), "req_old"), nil)
	if got[0] != "req_new" || got[1] != "req_old" {
		t.Fatalf("ids = %v", got)
	}
}

func TestRecovery(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ep := Recovery(logger)(func(context.Context, any) (any, error) { panic("boom") })
	if _, err := ep(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestLogging_WarnsOnError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ep := Logging(logger, "scrape")(func(context.Context, any) (any, error) {
		return nil, errors.New("no data")
	})
	ep(WithTransport(context.Background(), "http"), nil)
	out := buf.String()
	if !strings.Contains(out, `"endpoint":"scrape"`) || !strings.Contains(out, `"transport":"http"`) {
		t.Fatalf("log = %s", out)
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "go" || GetRequestID(ctx) != "" {
		t.Fatal("unexpected defaults")
	}
}

func TestHTTPHandler(t *testing.T) {
	errTeapot := errors.New("teapot")
	ep := func(ctx context.Context, req any) (any, error) {
		name := req.(string)
		if name == "tea" {
			return nil, errTeapot
		}
		return map[string]string{"hello": name, "via": GetTransport(ctx)}, nil
	}
	decode := func(r *http.Request) (any, error) {
		n := r.URL.Query().Get("name")
		if n == "" {
			return nil, errors.New("name required")
		}
		return n, nil
	}
	status := func(err error) int {
		if errors.Is(err, errTeapot) {
			return http.StatusTeapot
		}
		return http.StatusInternalServerError
	}
	h := HTTPHandler(ep, decode, status)

	for _, tc := range []struct {
		query string
		code  int
	}{
		{"?name=bob", http.StatusOK},
		{"", http.StatusBadRequest},
		{"?name=tea", http.StatusTeapot},
	} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/x"+tc.query, nil))
		if rec.Code != tc.code {
			t.Errorf("%q: code = %d, want %d", tc.query, rec.Code, tc.code)
		}
	}

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/x?name=bob", nil))
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["hello"] != "bob" || body["via"] != "http" {
		t.Fatalf("body = %v", body)
	}
}

type echoArgs struct {
	Text string `json:"text"`
}

func TestRegisterMCPTool(t *testing.T) {
	impl := &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}
	srv := mcp.NewServer(impl, nil)
	RegisterMCPTool(srv, &mcp.Tool{
		Name:        "echo",
		Description: "Echo text back.",
		InputSchema: InputSchema(map[string]any{
			"text": map[string]any{"type": "string"},
		}, "text"),
	}, func(ctx context.Context, req any) (any, error) {
		a := req.(*echoArgs)
		if a.Text == "fail" {
			return nil, errors.New("asked to fail")
		}
		return map[string]string{"text": a.Text, "via": GetTransport(ctx)}, nil
	}, DecodeArgs[echoArgs])

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go srv.Run(ctx, serverT)
	session, err := mcp.NewClient(impl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	tc := res.Content[0].(*mcp.TextContent)
	if !strings.Contains(tc.Text, `"text":"hi"`) || !strings.Contains(tc.Text, `"via":"mcp"`) {
		t.Fatalf("result = %s", tc.Text)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "echo", Arguments: map[string]any{"text": "fail"}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("endpoint error not reported as tool error")
	}
}
