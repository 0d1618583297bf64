package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/talvikko/shopify-netvisor-sync/internal/httpclient"
	"github.com/talvikko/shopify-netvisor-sync/internal/state"
	"github.com/talvikko/shopify-netvisor-sync/processor"
	"github.com/talvikko/shopify-netvisor-sync/utils"
)

const (
	defaultShopifyAPIVersion = "2026-01"
	defaultPageSize          = 50

	// Hard ceiling on followed cursor pages, so a server that never
	// reports page exhaustion cannot hold the sync in a loop.
	maxOrderPages = 50
)

const ordersQuery = `query($first: Int!, $query: String!, $after: String) {
  orders(first: $first, query: $query, after: $after, sortKey: UPDATED_AT, reverse: false) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        name
        updatedAt
        totalPriceSet { shopMoney { amount currencyCode } }
        shippingAddress {
          name
          address1
          address2
          zip
          city
          country
        }
        customer { firstName lastName }
        lineItems(first: 50) {
          edges {
            node {
              title
              quantity
              originalUnitPriceSet { shopMoney { amount currencyCode } }
              sku
            }
          }
        }
      }
    }
  }
}`

// ShopifySourceAdapter reads updated orders from the Shopify Admin
// GraphQL API with cursor pagination, handling access-token acquisition
// along the way. The token lives in the checkpoint store so restarts do
// not burn a new client-credentials exchange per run.
type ShopifySourceAdapter struct {
	shopDomain          string
	graphqlURL          string
	tokenURL            string
	staticToken         string
	clientID            string
	clientSecret        string
	pageSize            int
	customerPlaceholder string

	client   *http.Client
	executor *httpclient.Executor
	state    *state.Store

	// transient in-memory copy of a fetched token; re-derived from the
	// checkpoint store on the next process start
	accessToken string

	now func() time.Time
}

func NewShopifySourceAdapter(config map[string]interface{}, store *state.Store) (*ShopifySourceAdapter, error) {
	shopDomain, ok := config["shop_domain"].(string)
	if !ok || shopDomain == "" {
		return nil, errors.New("shop_domain is required")
	}

	apiVersion := defaultShopifyAPIVersion
	if v, ok := config["api_version"].(string); ok && v != "" {
		apiVersion = v
	}

	adapter := &ShopifySourceAdapter{
		shopDomain:          shopDomain,
		graphqlURL:          fmt.Sprintf("https://%s/admin/api/%s/graphql.json", shopDomain, apiVersion),
		tokenURL:            fmt.Sprintf("https://%s/admin/oauth/access_token", shopDomain),
		pageSize:            defaultPageSize,
		customerPlaceholder: "Unknown",
		state:               store,
		now:                 time.Now,
	}

	if v, ok := config["access_token"].(string); ok {
		adapter.staticToken = v
	}
	if v, ok := config["client_id"].(string); ok {
		adapter.clientID = v
	}
	if v, ok := config["client_secret"].(string); ok {
		adapter.clientSecret = v
	}
	if adapter.staticToken == "" && (adapter.clientID == "" || adapter.clientSecret == "") {
		return nil, errors.New("shopify credentials missing: set access_token or client_id + client_secret")
	}

	if v, ok := config["page_size"].(int); ok && v > 0 {
		adapter.pageSize = v
	} else if v, ok := config["page_size"].(float64); ok && v > 0 {
		adapter.pageSize = int(v)
	}
	if v, ok := config["customer_placeholder"].(string); ok && v != "" {
		adapter.customerPlaceholder = v
	}

	// proxy/test override points; the defaults derived from shop_domain
	// are right for production
	if v, ok := config["graphql_url"].(string); ok && v != "" {
		adapter.graphqlURL = v
	}
	if v, ok := config["token_url"].(string); ok && v != "" {
		adapter.tokenURL = v
	}

	timeout := 20 * time.Second
	if v, ok := config["http_timeout"].(string); ok && v != "" {
		parsed, err := utils.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "invalid http_timeout")
		}
		timeout = parsed
	}
	adapter.client = &http.Client{Timeout: timeout}
	adapter.executor = httpclient.NewExecutor(timeout)

	return adapter, nil
}

// GraphQL wire types: explicit partial schemas, decoded defensively.
// Fields Shopify adds that we do not list are simply ignored.

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type moneyBag struct {
	ShopMoney struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currencyCode"`
	} `json:"shopMoney"`
}

type shippingAddressNode struct {
	Name     string `json:"name"`
	Address1 string `json:"address1"`
	Address2 string `json:"address2"`
	Zip      string `json:"zip"`
	City     string `json:"city"`
	Country  string `json:"country"`
}

type orderNode struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	UpdatedAt       string               `json:"updatedAt"`
	TotalPriceSet   moneyBag             `json:"totalPriceSet"`
	ShippingAddress *shippingAddressNode `json:"shippingAddress"`
	Customer        *struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
	} `json:"customer"`
	LineItems struct {
		Edges []struct {
			Node struct {
				Title                string   `json:"title"`
				Quantity             int      `json:"quantity"`
				SKU                  string   `json:"sku"`
				OriginalUnitPriceSet moneyBag `json:"originalUnitPriceSet"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"lineItems"`
}

type ordersResponse struct {
	Data struct {
		Orders struct {
			PageInfo struct {
				HasNextPage bool    `json:"hasNextPage"`
				EndCursor   *string `json:"endCursor"`
			} `json:"pageInfo"`
			Edges []struct {
				Node orderNode `json:"node"`
			} `json:"edges"`
		} `json:"orders"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
}

// FetchUpdatedOrders follows the cursor chain to completion and returns
// the whole changed set, oldest update first.
func (a *ShopifySourceAdapter) FetchUpdatedOrders(ctx context.Context, updatedSince string) ([]processor.Order, error) {
	token, err := a.ensureAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	queryString := fmt.Sprintf("updated_at:>%s", updatedSince)

	var orders []processor.Order
	var after *string

	for page := 1; page <= maxOrderPages; page++ {
		resp, err := a.fetchOrdersPage(ctx, token, queryString, after)
		if err != nil {
			return nil, err
		}

		for _, edge := range resp.Data.Orders.Edges {
			orders = append(orders, a.normalizeOrder(edge.Node))
		}

		pageInfo := resp.Data.Orders.PageInfo
		log.Printf("Fetched Shopify page %d: %d orders, hasNextPage=%v", page, len(resp.Data.Orders.Edges), pageInfo.HasNextPage)
		if !pageInfo.HasNextPage {
			return orders, nil
		}
		after = pageInfo.EndCursor
	}

	log.Printf("Stopping Shopify fetch at page ceiling (%d pages)", maxOrderPages)
	return orders, nil
}

func (a *ShopifySourceAdapter) fetchOrdersPage(ctx context.Context, token, queryString string, after *string) (*ordersResponse, error) {
	payload, err := json.Marshal(graphQLRequest{
		Query: ordersQuery,
		Variables: map[string]interface{}{
			"first": a.pageSize,
			"query": queryString,
			"after": after,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshaling orders query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating orders request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", token)

	httpResp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching orders from Shopify")
	}
	defer httpResp.Body.Close()

	var resp ordersResponse
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var body bytes.Buffer
		body.ReadFrom(httpResp.Body)
		return nil, &httpclient.APIError{Kind: httpclient.KindFatal, StatusCode: httpResp.StatusCode, Body: body.String()}
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &httpclient.APIError{Kind: httpclient.KindFatal, Err: errors.Wrap(err, "decoding Shopify response")}
	}
	if len(resp.Errors) > 0 {
		messages := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			messages[i] = e.Message
		}
		return nil, errors.Errorf("Shopify GraphQL returned errors: %s", strings.Join(messages, "; "))
	}

	return &resp, nil
}

// ensureAccessToken resolves the token in order of preference: static
// configuration, the unexpired checkpoint-cached token, then a fresh
// client-credentials exchange.
func (a *ShopifySourceAdapter) ensureAccessToken(ctx context.Context) (string, error) {
	if a.staticToken != "" {
		return a.staticToken, nil
	}
	if a.accessToken != "" {
		return a.accessToken, nil
	}

	if token, expiresAt, ok := a.state.AccessToken(); ok {
		// unknown expiry means the token was cached without one; trust it
		if expiresAt == 0 || a.now().Unix() < expiresAt {
			a.accessToken = token
			return token, nil
		}
	}

	return a.refreshAccessToken(ctx)
}

func (a *ShopifySourceAdapter) refreshAccessToken(ctx context.Context) (string, error) {
	// The exchange itself is plain JSON over TLS, but it goes through
	// the executor so a rate-limited or flapping token endpoint gets the
	// same bounded retries as everything else.
	resp, err := a.executor.Execute(ctx, func(attempt int) (*http.Request, error) {
		body, err := json.Marshal(map[string]string{
			"client_id":     a.clientID,
			"client_secret": a.clientSecret,
			"grant_type":    "client_credentials",
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequest(http.MethodPost, a.tokenURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", errors.Wrap(err, "fetching Shopify access token")
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", &httpclient.APIError{Kind: httpclient.KindFatal, Err: errors.Wrap(err, "decoding Shopify token response")}
	}
	if tr.AccessToken == "" {
		return "", errors.New("Shopify token response missing access_token")
	}

	// Use expires_in when reported, else assume 24h; keep a safety
	// buffer so we refresh before Shopify actually cuts the token off.
	expiresIn := int64(24 * 3600)
	if tr.ExpiresIn != nil {
		expiresIn = *tr.ExpiresIn
	}
	if expiresIn < 60 {
		expiresIn = 60
	}
	expiresAt := a.now().Unix() + expiresIn - 60

	a.state.SetAccessToken(tr.AccessToken, expiresAt)
	a.accessToken = tr.AccessToken
	log.Printf("Shopify access token refreshed, expires at %d", expiresAt)

	return tr.AccessToken, nil
}

func (a *ShopifySourceAdapter) normalizeOrder(node orderNode) processor.Order {
	lines := make([]processor.OrderLine, 0, len(node.LineItems.Edges))
	for _, edge := range node.LineItems.Edges {
		unitPrice := edge.Node.OriginalUnitPriceSet.ShopMoney.Amount
		if unitPrice == "" {
			unitPrice = "0"
		}
		lines = append(lines, processor.OrderLine{
			Title:     edge.Node.Title,
			SKU:       edge.Node.SKU,
			Quantity:  edge.Node.Quantity,
			UnitPrice: unitPrice,
		})
	}

	total := node.TotalPriceSet.ShopMoney.Amount
	if total == "" {
		total = "0"
	}
	currency := node.TotalPriceSet.ShopMoney.CurrencyCode
	if currency == "" {
		currency = "EUR"
	}

	var customerName string
	var address processor.ShippingAddress
	if node.ShippingAddress != nil {
		customerName = node.ShippingAddress.Name
		address = processor.ShippingAddress{
			Address1: node.ShippingAddress.Address1,
			Address2: node.ShippingAddress.Address2,
			Zip:      node.ShippingAddress.Zip,
			City:     node.ShippingAddress.City,
			Country:  node.ShippingAddress.Country,
		}
	}
	if strings.TrimSpace(customerName) == "" && node.Customer != nil {
		customerName = strings.TrimSpace(node.Customer.FirstName + " " + node.Customer.LastName)
	}
	if strings.TrimSpace(customerName) == "" {
		customerName = a.customerPlaceholder
	}

	return processor.Order{
		ID:              node.ID,
		Name:            node.Name,
		UpdatedAt:       node.UpdatedAt,
		Currency:        currency,
		TotalAmount:     total,
		CustomerName:    customerName,
		ShippingAddress: address,
		Lines:           lines,
	}
}
