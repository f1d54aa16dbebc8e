package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AzielCF/az-offline/offline/domain/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_ForwardsRequestAndCopiesResponse(t *testing.T) {
	var gotMethod, gotBody, gotHeader, gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Wallet")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	req, err := request.New(http.MethodPost, srv.URL+"/api/orders?x=1")
	require.NoError(t, err)
	req.Header.Set("X-Wallet", "abc")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Body = []byte(`{"side":"buy"}`)

	resp, err := NewFetcher(Config{}).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, `"v1"`, resp.Header.Get("Etag"))
	assert.Equal(t, request.SourceNetwork, resp.Source)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, `{"side":"buy"}`, gotBody)
	assert.Equal(t, "abc", gotHeader)
	assert.Empty(t, gotEncoding)
}

func TestFetcher_SendsEscapedPathAsIs(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.RequestURI
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	req, err := request.New(http.MethodGet, srv.URL+"/pair/ETH%2FUSD")
	require.NoError(t, err)

	_, err = NewFetcher(Config{}).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "/pair/ETH%2FUSD", gotURI)
}

func TestFetcher_KeepsEveryCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Set-Cookie", "a=1; Path=/")
		w.Header().Add("Set-Cookie", "b=2; Path=/")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	req, _ := request.New(http.MethodGet, srv.URL)
	resp, err := NewFetcher(Config{}).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, resp.Header.Values("Set-Cookie"), 2)
}

func TestFetcher_ServerErrorIsAResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	req, _ := request.New(http.MethodGet, srv.URL)
	resp, err := NewFetcher(Config{}).Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
}

func TestFetcher_UnreachableIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	req, _ := request.New(http.MethodGet, addr+"/x")
	_, err := NewFetcher(Config{Timeout: time.Second}).Fetch(context.Background(), req)
	assert.Error(t, err)
}

func TestFetcher_HonorsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := request.New(http.MethodGet, srv.URL)
	_, err := NewFetcher(Config{}).Fetch(ctx, req)
	assert.Error(t, err)
}
