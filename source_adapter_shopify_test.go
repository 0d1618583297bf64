package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talvikko/shopify-netvisor-sync/internal/state"
)

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	return state.New(filepath.Join(t.TempDir(), "state.json"))
}

func TestNewShopifySourceAdapterValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]interface{}
		wantErr string
	}{
		{
			name:    "missing shop_domain",
			config:  map[string]interface{}{"access_token": "tok"},
			wantErr: "shop_domain is required",
		},
		{
			name:    "no credentials at all",
			config:  map[string]interface{}{"shop_domain": "demo.myshopify.com"},
			wantErr: "shopify credentials missing",
		},
		{
			name: "client_id without secret",
			config: map[string]interface{}{
				"shop_domain": "demo.myshopify.com",
				"client_id":   "id",
			},
			wantErr: "shopify credentials missing",
		},
		{
			name: "static token is enough",
			config: map[string]interface{}{
				"shop_domain":  "demo.myshopify.com",
				"access_token": "tok",
			},
		},
		{
			name: "client credentials pair is enough",
			config: map[string]interface{}{
				"shop_domain":   "demo.myshopify.com",
				"client_id":     "id",
				"client_secret": "secret",
			},
		},
		{
			name: "bad http_timeout",
			config: map[string]interface{}{
				"shop_domain":  "demo.myshopify.com",
				"access_token": "tok",
				"http_timeout": "soon",
			},
			wantErr: "invalid http_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := NewShopifySourceAdapter(tt.config, newTestStore(t))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, adapter)
		})
	}
}

func TestNewShopifySourceAdapterDerivesURLs(t *testing.T) {
	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":  "demo.myshopify.com",
		"access_token": "tok",
		"api_version":  "2025-07",
	}, newTestStore(t))
	require.NoError(t, err)

	assert.Equal(t, "https://demo.myshopify.com/admin/api/2025-07/graphql.json", adapter.graphqlURL)
	assert.Equal(t, "https://demo.myshopify.com/admin/oauth/access_token", adapter.tokenURL)
}

func ordersPage(hasNextPage bool, cursor string, nodes ...map[string]interface{}) map[string]interface{} {
	edges := make([]map[string]interface{}, len(nodes))
	for i, node := range nodes {
		edges[i] = map[string]interface{}{"node": node}
	}
	pageInfo := map[string]interface{}{"hasNextPage": hasNextPage}
	if cursor != "" {
		pageInfo["endCursor"] = cursor
	}
	return map[string]interface{}{
		"data": map[string]interface{}{
			"orders": map[string]interface{}{
				"pageInfo": pageInfo,
				"edges":    edges,
			},
		},
	}
}

func TestFetchUpdatedOrdersSinglePage(t *testing.T) {
	var gotToken string
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Shopify-Access-Token")
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotQuery, _ = req.Variables["query"].(string)
		json.NewEncoder(w).Encode(ordersPage(false, "", map[string]interface{}{
			"id":        "gid://shopify/Order/1001",
			"name":      "#1001",
			"updatedAt": "2025-01-01T00:05:00Z",
			"totalPriceSet": map[string]interface{}{
				"shopMoney": map[string]interface{}{"amount": "25.50", "currencyCode": "SEK"},
			},
			"shippingAddress": map[string]interface{}{
				"name": "Maija Meikäläinen", "address1": "Testikatu 1", "zip": "00100", "city": "Helsinki", "country": "Finland",
			},
			"lineItems": map[string]interface{}{
				"edges": []map[string]interface{}{
					{"node": map[string]interface{}{
						"title": "T-shirt", "quantity": 2, "sku": "TS-1",
						"originalUnitPriceSet": map[string]interface{}{
							"shopMoney": map[string]interface{}{"amount": "12.75"},
						},
					}},
				},
			},
		}))
	}))
	defer server.Close()

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":  "demo.myshopify.com",
		"access_token": "static-token",
		"graphql_url":  server.URL,
	}, newTestStore(t))
	require.NoError(t, err)

	orders, err := adapter.FetchUpdatedOrders(context.Background(), "2025-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, orders, 1)

	assert.Equal(t, "static-token", gotToken)
	assert.Equal(t, "updated_at:>2025-01-01T00:00:00Z", gotQuery)

	order := orders[0]
	assert.Equal(t, "gid://shopify/Order/1001", order.ID)
	assert.Equal(t, "#1001", order.Name)
	assert.Equal(t, "SEK", order.Currency)
	assert.Equal(t, "25.50", order.TotalAmount)
	assert.Equal(t, "Maija Meikäläinen", order.CustomerName)
	assert.Equal(t, "Helsinki", order.ShippingAddress.City)
	require.Len(t, order.Lines, 1)
	assert.Equal(t, "TS-1", order.Lines[0].SKU)
	assert.Equal(t, 2, order.Lines[0].Quantity)
	assert.Equal(t, "12.75", order.Lines[0].UnitPrice)
}

func TestFetchUpdatedOrdersNormalizationDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ordersPage(false, "", map[string]interface{}{
			"id":        "gid://shopify/Order/1002",
			"updatedAt": "2025-01-01T00:05:00Z",
			"customer":  map[string]interface{}{"firstName": "Matti", "lastName": "Virtanen"},
			"lineItems": map[string]interface{}{
				"edges": []map[string]interface{}{
					{"node": map[string]interface{}{"title": "Mug", "quantity": 1}},
				},
			},
		}, map[string]interface{}{
			"id":        "gid://shopify/Order/1003",
			"updatedAt": "2025-01-01T00:06:00Z",
		}))
	}))
	defer server.Close()

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":  "demo.myshopify.com",
		"access_token": "tok",
		"graphql_url":  server.URL,
	}, newTestStore(t))
	require.NoError(t, err)

	orders, err := adapter.FetchUpdatedOrders(context.Background(), "2025-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, orders, 2)

	// no shipping address: customer name falls back to first + last
	assert.Equal(t, "Matti Virtanen", orders[0].CustomerName)
	assert.Equal(t, "EUR", orders[0].Currency)
	assert.Equal(t, "0", orders[0].TotalAmount)
	assert.Equal(t, "0", orders[0].Lines[0].UnitPrice)

	// nothing at all: placeholder name, no lines
	assert.Equal(t, "Unknown", orders[1].CustomerName)
	assert.Empty(t, orders[1].Lines)
}

func TestFetchUpdatedOrdersFollowsCursor(t *testing.T) {
	var cursors []interface{}
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req graphQLRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		cursors = append(cursors, req.Variables["after"])
		if calls == 1 {
			json.NewEncoder(w).Encode(ordersPage(true, "cursor-1", map[string]interface{}{
				"id": "gid://shopify/Order/1", "updatedAt": "2025-01-01T00:01:00Z",
			}))
			return
		}
		json.NewEncoder(w).Encode(ordersPage(false, "", map[string]interface{}{
			"id": "gid://shopify/Order/2", "updatedAt": "2025-01-01T00:02:00Z",
		}))
	}))
	defer server.Close()

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":  "demo.myshopify.com",
		"access_token": "tok",
		"graphql_url":  server.URL,
	}, newTestStore(t))
	require.NoError(t, err)

	orders, err := adapter.FetchUpdatedOrders(context.Background(), "2025-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, 2, calls)
	require.Len(t, cursors, 2)
	assert.Nil(t, cursors[0])
	assert.Equal(t, "cursor-1", cursors[1])
}

func TestFetchUpdatedOrdersStopsAtPageCeiling(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(ordersPage(true, fmt.Sprintf("cursor-%d", calls), map[string]interface{}{
			"id": fmt.Sprintf("gid://shopify/Order/%d", calls), "updatedAt": "2025-01-01T00:01:00Z",
		}))
	}))
	defer server.Close()

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":  "demo.myshopify.com",
		"access_token": "tok",
		"graphql_url":  server.URL,
	}, newTestStore(t))
	require.NoError(t, err)

	orders, err := adapter.FetchUpdatedOrders(context.Background(), "2025-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, maxOrderPages, calls)
	assert.Len(t, orders, maxOrderPages)
}

func TestFetchUpdatedOrdersGraphQLErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]interface{}{
				{"message": "Throttled"},
				{"message": "Field 'bogus' doesn't exist"},
			},
		})
	}))
	defer server.Close()

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":  "demo.myshopify.com",
		"access_token": "tok",
		"graphql_url":  server.URL,
	}, newTestStore(t))
	require.NoError(t, err)

	_, err = adapter.FetchUpdatedOrders(context.Background(), "2025-01-01T00:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Throttled")
	assert.Contains(t, err.Error(), "Field 'bogus' doesn't exist")
}

func TestFetchUpdatedOrdersHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad token"))
	}))
	defer server.Close()

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":  "demo.myshopify.com",
		"access_token": "tok",
		"graphql_url":  server.URL,
	}, newTestStore(t))
	require.NoError(t, err)

	_, err = adapter.FetchUpdatedOrders(context.Background(), "2025-01-01T00:00:00Z")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "bad token")
}

func TestEnsureAccessTokenExchangesAndCaches(t *testing.T) {
	tokenCalls := 0
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "id", body["client_id"])
		assert.Equal(t, "secret", body["client_secret"])
		assert.Equal(t, "client_credentials", body["grant_type"])
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "fresh-token",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	store := newTestStore(t)
	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":   "demo.myshopify.com",
		"client_id":     "id",
		"client_secret": "secret",
		"token_url":     tokenServer.URL,
	}, store)
	require.NoError(t, err)

	fixedNow := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter.now = func() time.Time { return fixedNow }

	token, err := adapter.ensureAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, 1, tokenCalls)

	// persisted with the safety buffer
	cached, expiresAt, ok := store.AccessToken()
	require.True(t, ok)
	assert.Equal(t, "fresh-token", cached)
	assert.Equal(t, fixedNow.Unix()+3600-60, expiresAt)

	// second call serves from memory, no new exchange
	token, err = adapter.ensureAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
	assert.Equal(t, 1, tokenCalls)
}

func TestEnsureAccessTokenReusesUnexpiredStoreToken(t *testing.T) {
	store := newTestStore(t)
	fixedNow := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetAccessToken("stored-token", fixedNow.Unix()+600)

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":   "demo.myshopify.com",
		"client_id":     "id",
		"client_secret": "secret",
		"token_url":     "http://127.0.0.1:1/never-called",
	}, store)
	require.NoError(t, err)
	adapter.now = func() time.Time { return fixedNow }

	token, err := adapter.ensureAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-token", token)
}

func TestEnsureAccessTokenRefreshesExpiredStoreToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "fresh-token"})
	}))
	defer tokenServer.Close()

	store := newTestStore(t)
	fixedNow := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetAccessToken("stale-token", fixedNow.Unix()-1)

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":   "demo.myshopify.com",
		"client_id":     "id",
		"client_secret": "secret",
		"token_url":     tokenServer.URL,
	}, store)
	require.NoError(t, err)
	adapter.now = func() time.Time { return fixedNow }

	token, err := adapter.ensureAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", token)
}

func TestEnsureAccessTokenExchangeFailure(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid client"))
	}))
	defer tokenServer.Close()

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":   "demo.myshopify.com",
		"client_id":     "id",
		"client_secret": "bad",
		"token_url":     tokenServer.URL,
	}, newTestStore(t))
	require.NoError(t, err)

	_, err = adapter.ensureAccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching Shopify access token")
}

func TestEnsureAccessTokenMissingTokenInResponse(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"expires_in": 3600})
	}))
	defer tokenServer.Close()

	adapter, err := NewShopifySourceAdapter(map[string]interface{}{
		"shop_domain":   "demo.myshopify.com",
		"client_id":     "id",
		"client_secret": "secret",
		"token_url":     tokenServer.URL,
	}, newTestStore(t))
	require.NoError(t, err)

	_, err = adapter.ensureAccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing access_token")
}
