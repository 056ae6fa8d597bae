package shopify

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"shopify-analytics-agent/internal/domain"
)

const analyticsDocument = `query AnalyticsQuery($query: String!) {
  shopifyqlQuery(query: $query) {
    __typename
    ... on TableResponse {
      tableData {
        columns { name dataType displayName }
        rowData
      }
      parseErrors { code message }
    }
    ... on PolarisVizResponse {
      data { key data { key value } }
      parseErrors { code message }
    }
  }
}`

type parseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyticsData struct {
	ShopifyQLQuery *struct {
		Typename  string `json:"__typename"`
		TableData *struct {
			Columns []struct {
				Name     string `json:"name"`
				DataType string `json:"dataType"`
			} `json:"columns"`
			RowData [][]any `json:"rowData"`
		} `json:"tableData"`
		Data []struct {
			Key  string `json:"key"`
			Data []struct {
				Key   any `json:"key"`
				Value any `json:"value"`
			} `json:"data"`
		} `json:"data"`
		ParseErrors []parseError `json:"parseErrors"`
	} `json:"shopifyqlQuery"`
}

var numericTypes = map[string]bool{
	"money": true, "number": true, "integer": true, "float": true,
	"decimal": true, "percent": true, "int": true,
}

// ExecuteAnalytics runs a ShopifyQL query and returns the table it produced.
func (c *Client) ExecuteAnalytics(ctx context.Context, creds domain.Credentials, query string) (domain.ResultSet, error) {
	const op = "shopifyql"
	var data analyticsData
	err := c.do(ctx, creds, op, true, graphqlRequest{
		Query:     analyticsDocument,
		Variables: map[string]any{"query": query},
	}, &data)
	if err != nil {
		return domain.ResultSet{}, err
	}

	res := data.ShopifyQLQuery
	if res == nil {
		return domain.ResultSet{}, domain.NewExecError(domain.ExecCapabilityUnavailable, op, errors.New("shopifyqlQuery returned null"))
	}
	if len(res.ParseErrors) > 0 {
		msgs := make([]string, 0, len(res.ParseErrors))
		for _, pe := range res.ParseErrors {
			msgs = append(msgs, pe.Message)
		}
		return domain.ResultSet{}, domain.NewExecError(domain.ExecMalformedQuery, op, errors.New(strings.Join(msgs, "; ")))
	}

	switch res.Typename {
	case "PolarisVizResponse":
		rs := domain.ResultSet{Columns: []string{"series", "key", "value"}}
		for _, series := range res.Data {
			for _, pt := range series.Data {
				rs.Rows = append(rs.Rows, domain.Row{"series": series.Key, "key": pt.Key, "value": scalar(pt.Value, true)})
			}
		}
		return rs, nil
	case "TableResponse", "":
	default:
		return domain.ResultSet{}, domain.NewExecError(domain.ExecMalformedQuery, op, errors.New("unknown response type "+res.Typename))
	}

	if res.TableData == nil {
		return domain.ResultSet{}, nil
	}
	rs := domain.ResultSet{Columns: make([]string, len(res.TableData.Columns))}
	numeric := make([]bool, len(res.TableData.Columns))
	for i, col := range res.TableData.Columns {
		rs.Columns[i] = col.Name
		numeric[i] = numericTypes[strings.ToLower(col.DataType)]
	}
	for _, raw := range res.TableData.RowData {
		row := make(domain.Row, len(rs.Columns))
		for i, v := range raw {
			if i >= len(rs.Columns) {
				break
			}
			row[rs.Columns[i]] = scalar(v, numeric[i])
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}

// scalar converts a decoded cell to a row value. Numeric cells arrive as
// strings and become float64.
func scalar(v any, numeric bool) any {
	s, ok := v.(string)
	if !ok || !numeric {
		return v
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}
	return s
}
