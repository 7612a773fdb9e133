package zohocrm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValue(t *testing.T) {
	assert.Nil(t, normalizeValue(nil))
	assert.Equal(t, "42.5", normalizeValue(42.5))
	assert.Equal(t, "true", normalizeValue(true))

	nested := normalizeValue(map[string]any{"name": "Acme"})
	assert.JSONEq(t, `{"name":"Acme"}`, nested.(string))
}

func TestListTables(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600, "token_type": "Bearer"})
	})
	mux.HandleFunc("/crm/v8/settings/modules", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Zoho-oauthtoken tok", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"modules": []map[string]any{{"api_name": "Leads"}, {"api_name": "Contacts"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	accountsDomains[srv.URL] = srv.URL
	defer delete(accountsDomains, srv.URL)

	a := New()
	err := a.Connect(context.Background(), map[string]any{
		"refresh_token": "rt", "client_id": "id", "client_secret": "secret", "api_domain": srv.URL,
	})
	require.NoError(t, err)

	tables, err := a.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Contacts", "Leads"}, tables)
}

func TestReadData_Pagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 3600, "token_type": "Bearer"})
	})
	page := 0
	mux.HandleFunc("/crm/v2/Leads", func(w http.ResponseWriter, r *http.Request) {
		page++
		if page == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"id": "1"}, {"id": "2"}},
				"info": map[string]any{"more_records": true},
			})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	accountsDomains[srv.URL] = srv.URL
	defer delete(accountsDomains, srv.URL)

	a := New()
	require.NoError(t, a.Connect(context.Background(), map[string]any{
		"refresh_token": "rt", "client_id": "id", "client_secret": "secret", "api_domain": srv.URL,
	}))

	stream, err := a.ReadData(context.Background(), "Leads", 50)
	require.NoError(t, err)

	batch, more, err := stream.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, more)
	assert.Len(t, batch, 2)

	_, more, err = stream.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
}
