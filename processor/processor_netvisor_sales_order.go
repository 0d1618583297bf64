package processor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NetvisorSalesOrderMapper renders a canonical Order into a Netvisor
// salesinvoice XML document (invoice type "order"). The element names,
// nesting and attributes are Netvisor's import contract and must not be
// reshaped.
type NetvisorSalesOrderMapper struct {
	customerCode    string
	paymentTermDays int
	vatPercent      float64
	vatCode         string
	productCode     string

	now func() time.Time
}

func NewNetvisorSalesOrderMapper(config map[string]interface{}) (*NetvisorSalesOrderMapper, error) {
	m := &NetvisorSalesOrderMapper{
		customerCode:    "CASH",
		paymentTermDays: 14,
		vatPercent:      25.5,
		vatCode:         "KOMY",
		productCode:     "SHOPIFY_ITEM",
		now:             time.Now,
	}

	if v, ok := config["customer_code"].(string); ok && v != "" {
		m.customerCode = v
	}
	if v, ok := config["payment_term_days"].(int); ok {
		m.paymentTermDays = v
	} else if v, ok := config["payment_term_days"].(float64); ok {
		m.paymentTermDays = int(v)
	}
	if v, ok := config["vat_percent"].(float64); ok {
		m.vatPercent = v
	} else if v, ok := config["vat_percent"].(int); ok {
		m.vatPercent = float64(v)
	}
	if v, ok := config["vat_code"].(string); ok && v != "" {
		m.vatCode = v
	}
	if v, ok := config["product_code"].(string); ok && v != "" {
		m.productCode = v
	}

	return m, nil
}

// ToSalesOrderXML builds the destination document for one order.
func (m *NetvisorSalesOrderMapper) ToSalesOrderXML(order Order) ([]byte, error) {
	currency := order.Currency
	if currency == "" {
		currency = "EUR"
	}
	total := formatMoney(order.TotalAmount)
	date := m.now().UTC().Format("2006-01-02")

	var lines strings.Builder
	for _, line := range order.Lines {
		title := line.Title
		if title == "" {
			title = "Item"
		}
		productCode := line.SKU
		if productCode == "" {
			productCode = m.productCode
		}
		qty := line.Quantity
		if qty == 0 {
			qty = 1
		}
		writeInvoiceLine(&lines, productCode, title, formatMoney(line.UnitPrice), m.vatCode, m.vatPercent, strconv.Itoa(qty))
	}

	// Netvisor rejects an invoice without lines; carry the order total
	// as a single synthetic line when Shopify sent none.
	if len(order.Lines) == 0 {
		writeInvoiceLine(&lines, m.productCode, "Shopify order", total, m.vatCode, m.vatPercent, "1")
	}

	var doc strings.Builder
	doc.WriteString(xml.Header)
	fmt.Fprintf(&doc, "<salesinvoice>\n")
	fmt.Fprintf(&doc, "  <invoicetype>order</invoicetype>\n")
	fmt.Fprintf(&doc, "  <salesinvoicedate>%s</salesinvoicedate>\n", date)
	fmt.Fprintf(&doc, "  <salesinvoicestatus type=\"netvisor\">undelivered</salesinvoicestatus>\n")
	fmt.Fprintf(&doc, "  <invoicingcustomeridentifier type=\"customer\">%s</invoicingcustomeridentifier>\n", escapeXML(m.customerCode))
	fmt.Fprintf(&doc, "  <invoicingcustomername>%s</invoicingcustomername>\n", escapeXML(customerNameOrDefault(order.CustomerName)))
	fmt.Fprintf(&doc, "  <deliveryaddressline1>%s</deliveryaddressline1>\n", escapeXML(order.ShippingAddress.Address1))
	fmt.Fprintf(&doc, "  <deliveryaddressline2>%s</deliveryaddressline2>\n", escapeXML(order.ShippingAddress.Address2))
	fmt.Fprintf(&doc, "  <deliverypostcode>%s</deliverypostcode>\n", escapeXML(order.ShippingAddress.Zip))
	fmt.Fprintf(&doc, "  <deliverycity>%s</deliverycity>\n", escapeXML(order.ShippingAddress.City))
	fmt.Fprintf(&doc, "  <deliverycountry>%s</deliverycountry>\n", escapeXML(order.ShippingAddress.Country))
	fmt.Fprintf(&doc, "  <salesinvoicereferencenumber>%s</salesinvoicereferencenumber>\n", escapeXML(order.Name))
	fmt.Fprintf(&doc, "  <paymenttermnetdays>%d</paymenttermnetdays>\n", m.paymentTermDays)
	fmt.Fprintf(&doc, "  <salesinvoiceamount iso4217currencycode=\"%s\">%s</salesinvoiceamount>\n", escapeXML(currency), total)
	fmt.Fprintf(&doc, "  <invoicelines>\n%s  </invoicelines>\n", lines.String())
	fmt.Fprintf(&doc, "</salesinvoice>\n")

	return []byte(doc.String()), nil
}

func writeInvoiceLine(w *strings.Builder, productCode, title, unitPrice, vatCode string, vatPercent float64, quantity string) {
	fmt.Fprintf(w, "    <invoiceline>\n")
	fmt.Fprintf(w, "      <salesinvoiceproductline>\n")
	fmt.Fprintf(w, "        <productidentifier type=\"customer\">%s</productidentifier>\n", escapeXML(productCode))
	fmt.Fprintf(w, "        <productname>%s</productname>\n", escapeXML(title))
	fmt.Fprintf(w, "        <productunitprice type=\"gross\">%s</productunitprice>\n", unitPrice)
	fmt.Fprintf(w, "        <productvatpercentage vatcode=\"%s\">%s</productvatpercentage>\n", escapeXML(vatCode), formatVat(vatPercent))
	fmt.Fprintf(w, "        <salesinvoiceproductlinequantity>%s</salesinvoiceproductlinequantity>\n", quantity)
	fmt.Fprintf(w, "      </salesinvoiceproductline>\n")
	fmt.Fprintf(w, "    </invoiceline>\n")
}

func customerNameOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return "Unknown"
	}
	return name
}

// formatMoney renders an amount as "0.00". Accepts both "721.9" and the
// comma-decimal "721,9"; anything unparseable collapses to "0.00".
func formatMoney(value string) string {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", ".")
	num, err := strconv.ParseFloat(value, 64)
	if err != nil {
		num = 0
	}
	return fmt.Sprintf("%.2f", num)
}

func formatVat(percent float64) string {
	return strconv.FormatFloat(percent, 'f', -1, 64)
}

func escapeXML(value string) string {
	var buf bytes.Buffer
	// EscapeText only errors on a failed write, which bytes.Buffer never does
	xml.EscapeText(&buf, []byte(value))
	return buf.String()
}
