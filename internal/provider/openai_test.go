package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDoForwardsBodyAndAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header: %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"model":"gpt-4"}` {
			t.Errorf("unexpected body: %s", body)
		}
		w.Write([]byte(`{"id":"cmpl-1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk-test", 5*time.Second)
	data, errDo := client.Do(context.Background(), http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gpt-4"}`))
	if errDo != nil {
		t.Fatalf("do: %v", errDo)
	}
	if string(data) != `{"id":"cmpl-1"}` {
		t.Fatalf("unexpected response: %s", data)
	}
}

func TestDoMapsDownstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk-test", 5*time.Second)
	_, errDo := client.Do(context.Background(), http.MethodPost, "/v1/completions", []byte(`{}`))
	providerErr, ok := errDo.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %v", errDo)
	}
	if providerErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", providerErr.StatusCode)
	}
	if providerErr.Message != "model not found" {
		t.Fatalf("expected provider message, got %q", providerErr.Message)
	}
}

func TestStreamRecvUntilDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: {\"index\":%d}\n\n", i)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk-test", 5*time.Second)
	stream, errStream := client.Stream(context.Background(), "/v1/chat/completions", []byte(`{"stream":true}`))
	if errStream != nil {
		t.Fatalf("stream: %v", errStream)
	}
	defer stream.Close()

	var chunks []string
	for {
		chunk, errRecv := stream.Recv()
		if errRecv == io.EOF {
			break
		}
		if errRecv != nil {
			t.Fatalf("recv: %v", errRecv)
		}
		chunks = append(chunks, string(chunk))
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %v", len(chunks), chunks)
	}
	if chunks[0] != `{"index":0}` {
		t.Fatalf("unexpected first chunk: %s", chunks[0])
	}
}

func TestStreamContextCancelStopsRecv(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"index\":0}\n\n")
		flusher.Flush()
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(server.URL, "sk-test", 5*time.Second)
	stream, errStream := client.Stream(ctx, "/v1/chat/completions", []byte(`{"stream":true}`))
	if errStream != nil {
		t.Fatalf("stream: %v", errStream)
	}
	defer stream.Close()

	if _, errRecv := stream.Recv(); errRecv != nil {
		t.Fatalf("first recv: %v", errRecv)
	}

	cancel()
	if _, errRecv := stream.Recv(); errRecv != io.EOF {
		t.Fatalf("expected EOF after cancel, got %v", errRecv)
	}
}

func TestStreamErrorStatusBeforeFirstChunk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk-test", 5*time.Second)
	_, errStream := client.Stream(context.Background(), "/v1/chat/completions", []byte(`{}`))
	providerErr, ok := errStream.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %v", errStream)
	}
	if providerErr.StatusCode != http.StatusServiceUnavailable || providerErr.Message != "overloaded" {
		t.Fatalf("unexpected error: %+v", providerErr)
	}
}
