package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewEmbeddingClient_RequiresAPIKeyAndDefaultsBaseURL(t *testing.T) {
	if c := NewEmbeddingClient("", "", "m"); c != nil {
		t.Fatalf("expected nil without API key")
	}
	c := NewEmbeddingClient("k", "", "m")
	if c == nil || c.baseURL != "https://api.openai.com/v1" {
		t.Fatalf("default base URL missing: %+v", c)
	}
}

func TestEmbedBatch_PlacesVectorsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body embeddingRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.Input) != 2 || body.Model != "text-embedding-3-small" {
			t.Errorf("bad request body: %+v", body)
		}
		// Respond out of order on purpose.
		fmt.Fprint(w, `{"data":[
			{"index":1,"embedding":[0,1]},
			{"index":0,"embedding":[1,0]}
		]}`)
	}))
	defer srv.Close()

	c := NewEmbeddingClient("k", srv.URL, "text-embedding-3-small")
	vecs, err := c.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Fatalf("vectors not reordered by index: %v", vecs)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	c := NewEmbeddingClient("k", srv.URL, "m")
	if _, err := c.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatalf("expected count mismatch error")
	}
}

func TestEmbedBatch_IndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"index":5,"embedding":[1]}]}`)
	}))
	defer srv.Close()

	c := NewEmbeddingClient("k", srv.URL, "m")
	if _, err := c.EmbedBatch(context.Background(), []string{"a"}); err == nil {
		t.Fatalf("expected out of range error")
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	c := NewEmbeddingClient("k", "http://unused", "m")
	vecs, err := c.EmbedBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("empty input should be a no-op: %v %v", vecs, err)
	}
}
