package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

// Standalone helper for operators setting up a new shop: performs the
// client-credentials exchange once and prints the token, so it can be
// pasted into the sync config as a static access_token.

func main() {
	shopDomain := flag.String("shop", "", "Shop domain, e.g. demo.myshopify.com")
	clientID := flag.String("client-id", os.Getenv("SHOPIFY_CLIENT_ID"), "App client id (defaults to SHOPIFY_CLIENT_ID)")
	clientSecret := flag.String("client-secret", os.Getenv("SHOPIFY_CLIENT_SECRET"), "App client secret (defaults to SHOPIFY_CLIENT_SECRET)")
	flag.Parse()

	if *shopDomain == "" || *clientID == "" || *clientSecret == "" {
		flag.Usage()
		os.Exit(2)
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     *clientID,
		"client_secret": *clientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		log.Fatalf("Error building token request: %v", err)
	}

	url := fmt.Sprintf("https://%s/admin/oauth/access_token", *shopDomain)
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Error calling token endpoint: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		log.Fatalf("Token endpoint returned HTTP %d: %s", resp.StatusCode, buf.String())
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   *int64 `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		log.Fatalf("Error decoding token response: %v", err)
	}
	if tr.AccessToken == "" {
		log.Fatalf("Token response missing access_token")
	}

	fmt.Printf("access_token: %s\n", tr.AccessToken)
	if tr.ExpiresIn != nil {
		expiry := time.Now().Add(time.Duration(*tr.ExpiresIn) * time.Second).UTC()
		fmt.Printf("expires_in: %ds (until %s)\n", *tr.ExpiresIn, expiry.Format(time.RFC3339))
	} else {
		fmt.Println("expires_in: not reported")
	}
}
