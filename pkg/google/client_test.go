package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/repairer-sync/internal/resilience"
)

func TestTextSearch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "nextPageToken")

		var body TextSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "réparation téléphone Lyon", body.TextQuery)
		assert.Equal(t, "fr", body.LanguageCode)
		assert.Equal(t, "FR", body.RegionCode)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"places": [{
				"id": "ChIJ123",
				"displayName": {"text": "Lyon Phone Repair"},
				"formattedAddress": "12 Rue de la République, 69002 Lyon, France",
				"addressComponents": [
					{"longText": "Lyon", "shortText": "Lyon", "types": ["locality", "political"]},
					{"longText": "69002", "shortText": "69002", "types": ["postal_code"]}
				],
				"nationalPhoneNumber": "04 78 00 00 00",
				"location": {"latitude": 45.76, "longitude": 4.835},
				"types": ["electronics_store"]
			}],
			"nextPageToken": "tok-2"
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.TextSearch(context.Background(), TextSearchRequest{
		TextQuery: "réparation téléphone Lyon", LanguageCode: "fr", RegionCode: "FR",
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	p := resp.Places[0]
	assert.Equal(t, "ChIJ123", p.ID)
	assert.Equal(t, "Lyon Phone Repair", p.DisplayName.Text)
	assert.Equal(t, "Lyon", p.Component("locality"))
	assert.Equal(t, "69002", p.Component("postal_code"))
	assert.Empty(t, p.Component("country"))
	require.NotNil(t, p.Location)
	assert.InDelta(t, 45.76, p.Location.Latitude, 1e-9)
	assert.Equal(t, "tok-2", resp.NextPageToken)
}

func TestTextSearch_PageToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body TextSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok-2", body.PageToken)
		_, _ = w.Write([]byte(`{"places": []}`))
	}))
	defer srv.Close()

	resp, err := NewClient("k", WithBaseURL(srv.URL)).TextSearch(context.Background(), TextSearchRequest{TextQuery: "q", PageToken: "tok-2"})
	require.NoError(t, err)
	assert.Empty(t, resp.Places)
	assert.Empty(t, resp.NextPageToken)
}

func TestTextSearch_ErrorClasses(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		quota     bool
		transient bool
	}{
		{"forbidden is quota", http.StatusForbidden, `{"error": "API key not valid"}`, true, false},
		{"exhausted is quota", http.StatusTooManyRequests, `{"error": {"status": "RESOURCE_EXHAUSTED"}}`, true, false},
		{"rate limited is transient", http.StatusTooManyRequests, `{"error": "slow down"}`, false, true},
		{"unavailable is transient", http.StatusServiceUnavailable, `oops`, false, true},
		{"bad request is permanent", http.StatusBadRequest, `{"error": "bad"}`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := NewClient("k", WithBaseURL(srv.URL)).TextSearch(context.Background(), TextSearchRequest{TextQuery: "q"})
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, tt.quota, resilience.IsQuotaOrAuth(err))
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
		})
	}
}

func TestTextSearch_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient("k", WithBaseURL(srv.URL)).TextSearch(ctx, TextSearchRequest{TextQuery: "q"})
	assert.Error(t, err)
}

func TestTextSearch_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).TextSearch(context.Background(), TextSearchRequest{TextQuery: "q"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
