package domain

// Row is a single result row keyed by column name. Values are scalars:
// string, float64, int64, bool or nil.
type Row map[string]any

// DataSource names the backend that produced a result.
type DataSource string

const (
	SourceShopifyQL       DataSource = "shopifyql"
	SourceGraphQLFallback DataSource = "graphql_fallback"
)

// ExecutionResult is the output of a successful execution.
type ExecutionResult struct {
	Rows         []Row      `json:"rows"`
	Columns      []string   `json:"columns,omitempty"`
	DataSource   DataSource `json:"data_source"`
	FallbackUsed bool       `json:"fallback_used"`
}

// CachedAnswer is the payload stored in the answer cache.
type CachedAnswer struct {
	Answer       string     `json:"answer"`
	Confidence   Confidence `json:"confidence"`
	QueryUsed    string     `json:"query_used"`
	DataSource   DataSource `json:"data_source"`
	FallbackUsed bool       `json:"fallback_used"`
	Rows         []Row      `json:"rows,omitempty"`
	StoredAt     int64      `json:"stored_at"`
}

// ResultSet is the tabular output of one remote call.
type ResultSet struct {
	Columns []string
	Rows    []Row
}

// Credentials authorize remote calls for one store. StoreID is the store's
// platform domain, e.g. "acme.myshopify.com".
type Credentials struct {
	StoreID     string
	AccessToken string
}
