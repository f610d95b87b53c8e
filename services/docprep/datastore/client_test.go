// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datastore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   map[string]any
}

// fakeAPI answers Discovery Engine calls from a route table keyed by
// "METHOD path".
type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func() (int, string)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: body})
	handler, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":{"code":404,"message":"no route"}}`, http.StatusNotFound)
		return
	}
	status, payload := handler()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func (f *fakeAPI) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

const (
	storesPath = "/v1beta/projects/p/locations/global/collections/default_collection/dataStores"
	importPath = storesPath + "/manuals/branches/default_branch/documents:import"
	opPath     = "/v1beta/projects/p/locations/global/operations/import-1"
)

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client, err := NewClient(context.Background(), Config{
		Project:    "p",
		Endpoint:   srv.URL + "/",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	return client
}

func reply(status int, body string) func() (int, string) {
	return func() (int, string) { return status, body }
}

// =============================================================================
// Client
// =============================================================================

func TestNewClient_RegionalEndpoint(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"GET " + opPath: reply(200, `{"name":"projects/p/locations/global/operations/import-1","done":true}`),
	}}
	srv := httptest.NewServer(api)
	defer srv.Close()

	client, err := NewClient(context.Background(), Config{
		Project:    "p",
		Endpoint:   srv.URL + "/",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)
	op, err := client.GetOperation(context.Background(), "projects/p/locations/global/operations/import-1")
	require.NoError(t, err)
	assert.True(t, op.Done)
	require.Len(t, api.recorded(), 1)
	assert.Equal(t, opPath, api.recorded()[0].Path)
}

func TestNewClient_RequiresProject(t *testing.T) {
	_, err := NewClient(context.Background(), Config{HTTPClient: http.DefaultClient})
	assert.ErrorContains(t, err, "project is required")
}

func TestNames(t *testing.T) {
	client, err := NewClient(context.Background(), Config{Project: "p", Location: "eu", Collection: "c", HTTPClient: http.DefaultClient})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/locations/eu/collections/c", client.CollectionName())
	assert.Equal(t, "projects/p/locations/eu/collections/c/dataStores/manuals", client.DataStoreName("manuals"))
}

func TestCreateDataStore(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"POST " + storesPath: reply(200, `{"name":"projects/p/locations/global/operations/create-1"}`),
	}}
	client := newTestClient(t, api)

	op, created, err := client.CreateDataStore(context.Background(), "manuals", "Product Manuals")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "projects/p/locations/global/operations/create-1", op.Name)

	reqs := api.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "manuals", reqs[0].Query.Get("dataStoreId"))
	body := reqs[0].Body
	assert.Equal(t, "Product Manuals", body["displayName"])
	assert.Equal(t, "GENERIC", body["industryVertical"])
	assert.Equal(t, []any{"SOLUTION_TYPE_SEARCH"}, body["solutionTypes"])
	assert.Equal(t, "CONTENT_REQUIRED", body["contentConfig"])

	processing := body["documentProcessingConfig"].(map[string]any)
	chunking := processing["chunkingConfig"].(map[string]any)["layoutBasedChunkingConfig"].(map[string]any)
	assert.Equal(t, float64(500), chunking["chunkSize"])
	assert.Equal(t, true, chunking["includeAncestorHeadings"])
	parsing := processing["defaultParsingConfig"].(map[string]any)["layoutParsingConfig"].(map[string]any)
	assert.Equal(t, true, parsing["enableImageAnnotation"])
}

func TestCreateDataStore_AlreadyExists(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"POST " + storesPath: reply(409, `{"error":{"code":409,"message":"already exists","status":"ALREADY_EXISTS"}}`),
	}}
	op, created, err := newTestClient(t, api).CreateDataStore(context.Background(), "manuals", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, op)
}

func TestCreateDataStore_Failure(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"POST " + storesPath: reply(403, `{"error":{"code":403,"message":"permission denied"}}`),
	}}
	_, _, err := newTestClient(t, api).CreateDataStore(context.Background(), "manuals", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")

	_, _, err = newTestClient(t, api).CreateDataStore(context.Background(), "", "")
	assert.ErrorContains(t, err, "id is required")
}

func TestImportDocuments(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"POST " + importPath: reply(200, `{"name":"projects/p/locations/global/operations/import-1"}`),
	}}
	op, err := newTestClient(t, api).ImportDocuments(context.Background(), "manuals", "gs://docs/manuals/metadata.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "projects/p/locations/global/operations/import-1", op.Name)

	body := api.recorded()[0].Body
	assert.Equal(t, "INCREMENTAL", body["reconciliationMode"])
	source := body["gcsSource"].(map[string]any)
	assert.Equal(t, []any{"gs://docs/manuals/metadata.jsonl"}, source["inputUris"])
	assert.Equal(t, "document", source["dataSchema"])
}

func TestImportDocuments_Errors(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"POST " + importPath: reply(400, `{"error":{"code":400,"message":"bad manifest"}}`),
	}}
	client := newTestClient(t, api)

	_, err := client.ImportDocuments(context.Background(), "manuals", "/local/metadata.jsonl")
	assert.ErrorContains(t, err, "gs:// URI")
	assert.Empty(t, api.recorded(), "rejected before any call")

	_, err = client.ImportDocuments(context.Background(), "manuals", "gs://docs/metadata.jsonl")
	assert.ErrorContains(t, err, "bad manifest")
}

func TestWaitOperation(t *testing.T) {
	var polls int
	api := &fakeAPI{routes: map[string]func() (int, string){
		"GET " + opPath: func() (int, string) {
			polls++
			if polls < 3 {
				return 200, `{"name":"import-1","done":false}`
			}
			return 200, `{"name":"import-1","done":true,"response":{"errorSamples":[]}}`
		},
	}}
	op, err := newTestClient(t, api).WaitOperation(context.Background(),
		"projects/p/locations/global/operations/import-1", time.Millisecond)
	require.NoError(t, err)
	assert.True(t, op.Done)
	assert.Equal(t, 3, polls)
}

func TestWaitOperation_Failed(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"GET " + opPath: reply(200, `{"name":"import-1","done":true,"error":{"code":3,"message":"schema mismatch"}}`),
	}}
	op, err := newTestClient(t, api).WaitOperation(context.Background(),
		"projects/p/locations/global/operations/import-1", time.Millisecond)
	assert.ErrorIs(t, err, ErrOperationFailed)
	assert.Contains(t, err.Error(), "schema mismatch")
	require.NotNil(t, op)
	assert.Equal(t, int64(3), op.Error.Code)
}

func TestWaitOperation_Cancelled(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"GET " + opPath: reply(200, `{"name":"import-1","done":false}`),
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := newTestClient(t, api).WaitOperation(ctx,
		"projects/p/locations/global/operations/import-1", 5*time.Millisecond)
	assert.Error(t, err)
}

// =============================================================================
// Provision
// =============================================================================

func TestProvision(t *testing.T) {
	tests := []struct {
		name        string
		createCode  int
		skipCreate  bool
		wantCreated bool
		wantCalls   []string
		wantErr     bool
	}{
		{"creates then imports", 200, false, true, []string{"POST " + storesPath, "POST " + importPath}, false},
		{"existing store still imports", 409, false, false, []string{"POST " + storesPath, "POST " + importPath}, false},
		{"failed create stops", 500, false, false, []string{"POST " + storesPath}, true},
		{"skip create", 0, true, false, []string{"POST " + importPath}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{routes: map[string]func() (int, string){
				"POST " + storesPath: reply(tt.createCode, `{"name":"create-1","error":{"code":1,"message":"x"}}`),
				"POST " + importPath: reply(200, `{"name":"projects/p/locations/global/operations/import-1"}`),
			}}
			if tt.createCode == 200 {
				api.routes["POST "+storesPath] = reply(200, `{"name":"create-1"}`)
			}

			result, err := newTestClient(t, api).Provision(context.Background(), ProvisionRequest{
				DataStoreID:      "manuals",
				DisplayName:      "Manuals",
				ManifestURI:      "gs://docs/metadata.jsonl",
				SkipCreate:       tt.skipCreate,
				PropagationDelay: time.Millisecond,
			})

			var calls []string
			for _, r := range api.recorded() {
				calls = append(calls, r.Method+" "+r.Path)
			}
			assert.Equal(t, tt.wantCalls, calls)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantCreated, result.Created)
			assert.True(t, strings.HasSuffix(result.DataStore, "/dataStores/manuals"))
			require.NotNil(t, result.Import)
		})
	}
}

func TestProvision_Wait(t *testing.T) {
	api := &fakeAPI{routes: map[string]func() (int, string){
		"POST " + importPath: reply(200, `{"name":"projects/p/locations/global/operations/import-1"}`),
		"GET " + opPath:      reply(200, `{"name":"projects/p/locations/global/operations/import-1","done":true}`),
	}}
	result, err := newTestClient(t, api).Provision(context.Background(), ProvisionRequest{
		DataStoreID:  "manuals",
		ManifestURI:  "gs://docs/metadata.jsonl",
		SkipCreate:   true,
		Wait:         true,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, result.Import.Done)
}

func TestProvision_RequiresID(t *testing.T) {
	_, err := newTestClient(t, &fakeAPI{}).Provision(context.Background(), ProvisionRequest{})
	assert.Error(t, err)
}
