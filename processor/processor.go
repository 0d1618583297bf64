package processor

// Order is the canonical in-memory representation of a Shopify order,
// produced once by the source adapter's normalization and immutable
// afterwards. Timestamps and amounts stay as the strings the API sent;
// parsing happens at the point of use.
type Order struct {
	ID              string
	Name            string
	UpdatedAt       string
	Currency        string
	TotalAmount     string
	CustomerName    string
	ShippingAddress ShippingAddress
	Lines           []OrderLine
}

type ShippingAddress struct {
	Address1 string
	Address2 string
	Zip      string
	City     string
	Country  string
}

type OrderLine struct {
	Title     string
	SKU       string
	Quantity  int
	UnitPrice string
}

// MapperConfig selects and configures the document mapper from YAML.
type MapperConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}
