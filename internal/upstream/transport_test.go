package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ledgergate/ledgergate/internal/adapter"
	"github.com/ledgergate/ledgergate/internal/domain"
	"github.com/ledgergate/ledgergate/internal/registry"
)

func TestHTTPCallerDo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer sk-test")

	c := NewHTTPCaller("openai")
	body, err := c.Do(context.Background(), &adapter.UpstreamRequest{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: header,
		Body:   []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
}

func TestHTTPCallerDoUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c := NewHTTPCaller("openai")
	_, err := c.Do(context.Background(), &adapter.UpstreamRequest{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{},
	})

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *domain.UpstreamError", err)
	}
	if ue.Status != http.StatusTooManyRequests || ue.Provider != "openai" {
		t.Errorf("upstream error = %+v", ue)
	}
	if ue.Body != `{"error":"rate limited"}` {
		t.Errorf("body = %q", ue.Body)
	}
}

func TestHTTPCallerStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: chunk\n")
		io.WriteString(w, "data: {\"a\":1}\n\n")
		io.WriteString(w, ": comment line\n")
		io.WriteString(w, "data: {\"a\":2}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewHTTPCaller("openai")
	es, err := c.Stream(context.Background(), &adapter.UpstreamRequest{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer es.Close()

	var payloads []string
	for {
		data, err := es.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		payloads = append(payloads, string(data))
	}

	want := []string{`{"a":1}`, `{"a":2}`, "[DONE]"}
	if len(payloads) != len(want) {
		t.Fatalf("payloads = %v, want %v", payloads, want)
	}
	for i := range want {
		if payloads[i] != want[i] {
			t.Errorf("payload[%d] = %q, want %q", i, payloads[i], want[i])
		}
	}
}

func TestSetRoutesByFamily(t *testing.T) {
	s := NewSet(nil)

	p := registry.Provider{ID: "openai", Family: registry.FamilyOpenAI}
	a, err := s.For(p)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	b, err := s.For(p)
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if a != b {
		t.Error("same provider must reuse one caller")
	}

	bedrock := registry.Provider{ID: "bedrock", Family: registry.FamilyBedrock}
	if _, err := s.For(bedrock); err == nil {
		t.Error("bedrock without a configured caller must error")
	}
}
