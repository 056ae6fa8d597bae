package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shopify-analytics-agent/internal/domain"
)

var creds = domain.Credentials{StoreID: "acme.myshopify.com", AccessToken: "shpat_test"}

type captured struct {
	path  string
	token string
	req   graphqlRequest
}

// serve answers every request with status and body, recording the last one.
func serve(t *testing.T, status int, body string) (*Client, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.token = r.Header.Get("X-Shopify-Access-Token")
		_ = json.NewDecoder(r.Body).Decode(&got.req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewClient(WithBaseURL(srv.URL), WithHTTPClient(&http.Client{Timeout: 2 * time.Second})), got
}

func TestStoreHost(t *testing.T) {
	cases := map[string]string{
		"acme.myshopify.com":          "acme.myshopify.com",
		"ACME":                        "acme.myshopify.com",
		"https://acme.myshopify.com/": "acme.myshopify.com",
		"shop.example.com":            "shop.example.com",
	}
	for in, want := range cases {
		got, err := StoreHost(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got)
	}
	for _, bad := range []string{"", "  ", "acme/../admin", "evil.com:8080", "a b.myshopify.com"} {
		_, err := StoreHost(bad)
		require.Error(t, err, bad)
	}
}

func TestExecuteAnalytics_TableResponse(t *testing.T) {
	c, got := serve(t, 200, `{"data":{"shopifyqlQuery":{
		"__typename":"TableResponse",
		"tableData":{
			"columns":[{"name":"product_title","dataType":"STRING"},{"name":"total_sales","dataType":"MONEY"},{"name":"units_sold","dataType":"INTEGER"}],
			"rowData":[["Tee","120.50","4"],["Mug","30","2"]]
		},
		"parseErrors":[]
	}}}`)

	rs, err := c.ExecuteAnalytics(context.Background(), creds, "FROM sales SHOW sum(net_sales) AS total_sales")
	require.NoError(t, err)
	require.Equal(t, "/admin/api/2024-01/graphql.json", got.path)
	require.Equal(t, "shpat_test", got.token)
	require.Equal(t, "FROM sales SHOW sum(net_sales) AS total_sales", got.req.Variables["query"])

	require.Equal(t, []string{"product_title", "total_sales", "units_sold"}, rs.Columns)
	require.Equal(t, []domain.Row{
		{"product_title": "Tee", "total_sales": 120.5, "units_sold": 4.0},
		{"product_title": "Mug", "total_sales": 30.0, "units_sold": 2.0},
	}, rs.Rows)
}

func TestExecuteAnalytics_EmptyTable(t *testing.T) {
	c, _ := serve(t, 200, `{"data":{"shopifyqlQuery":{"__typename":"TableResponse","tableData":{"columns":[{"name":"total_sales","dataType":"MONEY"}],"rowData":[]}}}}`)
	rs, err := c.ExecuteAnalytics(context.Background(), creds, "FROM sales SHOW sum(net_sales)")
	require.NoError(t, err)
	require.Empty(t, rs.Rows)
}

func TestExecuteAnalytics_VizResponse(t *testing.T) {
	c, _ := serve(t, 200, `{"data":{"shopifyqlQuery":{"__typename":"PolarisVizResponse","data":[
		{"key":"net_sales","data":[{"key":"2024-03-01","value":"10.5"}]}
	]}}}`)
	rs, err := c.ExecuteAnalytics(context.Background(), creds, "q")
	require.NoError(t, err)
	require.Equal(t, []domain.Row{{"series": "net_sales", "key": "2024-03-01", "value": 10.5}}, rs.Rows)
}

func TestExecuteAnalytics_ErrorClassification(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   domain.ExecErrorKind
	}{
		"unauthorized":       {401, `{"errors":"Invalid API key"}`, domain.ExecAuth},
		"forbidden":          {403, ``, domain.ExecAuth},
		"not found":          {404, `Not Found`, domain.ExecCapabilityUnavailable},
		"too many requests":  {429, ``, domain.ExecRateLimited},
		"server error":       {502, `bad gateway`, domain.ExecTransport},
		"bad request":        {400, `{}`, domain.ExecMalformedQuery},
		"throttled":          {200, `{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`, domain.ExecRateLimited},
		"unavailable code":   {200, `{"errors":[{"message":"nope","extensions":{"code":"SHOPIFYQL_UNAVAILABLE"}}]}`, domain.ExecCapabilityUnavailable},
		"undefined field":    {200, `{"errors":[{"message":"x","extensions":{"code":"undefinedField","fieldName":"shopifyqlQuery"}}]}`, domain.ExecCapabilityUnavailable},
		"undefined other":    {200, `{"errors":[{"message":"x","extensions":{"code":"undefinedField","fieldName":"tableData"}}]}`, domain.ExecMalformedQuery},
		"feature code":       {200, `{"errors":[{"message":"x","extensions":{"code":"FEATURE_NOT_AVAILABLE"}}]}`, domain.ExecCapabilityUnavailable},
		"missing field text": {200, `{"errors":[{"message":"Field 'shopifyqlQuery' doesn't exist on type 'QueryRoot'"}]}`, domain.ExecMalformedQuery},
		"not supported text": {200, `{"errors":[{"message":"Aggregate avg on field order_id is not supported","extensions":{"code":"BAD_REQUEST"}}]}`, domain.ExecMalformedQuery},
		"access denied":      {200, `{"errors":[{"message":"denied","extensions":{"code":"ACCESS_DENIED"}}]}`, domain.ExecAuth},
		"other graphql":      {200, `{"errors":[{"message":"Variable $query is invalid"}]}`, domain.ExecMalformedQuery},
		"parse errors":       {200, `{"data":{"shopifyqlQuery":{"__typename":"TableResponse","parseErrors":[{"code":"SYNTAX","message":"unexpected token"}]}}}`, domain.ExecMalformedQuery},
		"null field":         {200, `{"data":{"shopifyqlQuery":null}}`, domain.ExecCapabilityUnavailable},
		"null data":          {200, `{"data":null}`, domain.ExecMalformedQuery},
		"garbage body":       {200, `<html>`, domain.ExecTransport},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := serve(t, tc.status, tc.body)
			_, err := c.ExecuteAnalytics(context.Background(), creds, "FROM sales SHOW sum(net_sales)")
			require.Error(t, err)
			require.Equal(t, tc.want, domain.ExecKind(err), err.Error())
		})
	}
}

func TestExecuteGraph_CapabilitySignalsDoNotApply(t *testing.T) {
	cases := map[string]struct {
		status int
		body   string
		want   domain.ExecErrorKind
	}{
		"not found":       {404, ``, domain.ExecAuth},
		"unavailable":     {200, `{"errors":[{"message":"x","extensions":{"code":"SHOPIFYQL_UNAVAILABLE"}}]}`, domain.ExecMalformedQuery},
		"throttled":       {200, `{"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`, domain.ExecRateLimited},
		"service failure": {503, ``, domain.ExecTransport},
	}
	req, err := NewBuilder(50).Build(salesPlan())
	require.NoError(t, err)
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := serve(t, tc.status, tc.body)
			_, err := c.ExecuteGraph(context.Background(), creds, req)
			require.Equal(t, tc.want, domain.ExecKind(err))
		})
	}
}

func TestExecute_NetworkAndStoreErrors(t *testing.T) {
	c := NewClient(WithBaseURL("http://127.0.0.1:1"), WithHTTPClient(&http.Client{Timeout: 100 * time.Millisecond}))
	_, err := c.ExecuteAnalytics(context.Background(), creds, "q")
	require.Equal(t, domain.ExecTransport, domain.ExecKind(err))

	_, err = c.ExecuteAnalytics(context.Background(), domain.Credentials{StoreID: "../etc"}, "q")
	require.Equal(t, domain.ExecAuth, domain.ExecKind(err))
}

func TestEndpoint_UsesStoreHostAndVersion(t *testing.T) {
	c := NewClient(WithAPIVersion("2024-04"))
	require.Equal(t, "https://acme.myshopify.com/admin/api/2024-04/graphql.json", c.endpoint("acme.myshopify.com"))
}
