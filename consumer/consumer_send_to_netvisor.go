package consumer

import (
	"bytes"
	"context"
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/talvikko/shopify-netvisor-sync/internal/httpclient"
	"github.com/talvikko/shopify-netvisor-sync/utils"
)

const defaultNetvisorBaseURL = "https://isvapi.netvisor.fi"

// SendToNetvisor submits sales order XML documents to Netvisor's
// salesinvoice endpoint with signed headers. Transient failures are
// retried by the executor with a fresh signature on every attempt.
type SendToNetvisor struct {
	executor *httpclient.Executor
	signer   RequestSigner
	endpoint string
}

func NewSendToNetvisor(config map[string]interface{}) (*SendToNetvisor, error) {
	baseURL := defaultNetvisorBaseURL
	if v, ok := config["base_url"].(string); ok && v != "" {
		baseURL = v
	}

	auth := NetvisorAuth{UseHTTPStatusCodes: true}
	required := []struct {
		key  string
		dest *string
	}{
		{"sender", &auth.Sender},
		{"partner_id", &auth.PartnerID},
		{"customer_id", &auth.CustomerID},
		{"token", &auth.Token},
		{"mac_key", &auth.MACKey},
	}
	for _, field := range required {
		v, ok := config[field.key].(string)
		if !ok || v == "" {
			return nil, errors.Errorf("%s is required", field.key)
		}
		*field.dest = v
	}

	if v, ok := config["language"].(string); ok {
		auth.Language = v
	}
	if v, ok := config["organization_id"].(string); ok {
		auth.OrganizationID = v
	}
	if v, ok := config["use_http_status_codes"].(bool); ok {
		auth.UseHTTPStatusCodes = v
	}
	if v, ok := config["mac_algorithm"].(string); ok {
		auth.MACAlgorithm = v
	}

	timeout := 20 * time.Second
	if v, ok := config["http_timeout"].(string); ok && v != "" {
		parsed, err := utils.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "invalid http_timeout")
		}
		timeout = parsed
	}

	return &SendToNetvisor{
		executor: httpclient.NewExecutor(timeout),
		signer:   NewHMACSigner(auth),
		endpoint: strings.TrimRight(baseURL, "/") + "/salesinvoice.nv",
	}, nil
}

func (c *SendToNetvisor) SubmitSalesOrder(ctx context.Context, xmlDoc []byte) (SubmitResult, error) {
	resp, err := c.executor.Execute(ctx, func(attempt int) (*http.Request, error) {
		// Re-sign on every attempt: the MAC binds the timestamp and
		// transaction id, so a retried request needs fresh ones.
		headers, err := c.signer.SignedHeaders(http.MethodPost, c.endpoint, xmlDoc)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequest(http.MethodPost, c.endpoint, bytes.NewReader(xmlDoc))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return req, nil
	})
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "submitting sales order to Netvisor")
	}

	return SubmitResult{
		StatusCode:  resp.StatusCode,
		NetvisorKey: extractXMLElement(resp.Body, "netvisorkey"),
	}, nil
}

// extractXMLElement returns the text content of the first element whose
// local name matches (case-insensitively), or "" if the body has no such
// element or is not XML at all. The response body is otherwise opaque to
// the sync; the key is the only field it needs.
func extractXMLElement(body []byte, local string) string {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !strings.EqualFold(start.Name.Local, local) {
			continue
		}
		var content string
		if err := dec.DecodeElement(&content, &start); err != nil {
			return ""
		}
		return strings.TrimSpace(content)
	}
}
