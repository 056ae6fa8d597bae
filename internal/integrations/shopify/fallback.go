package shopify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shopify-analytics-agent/internal/domain"
)

// MaxPageSize is the largest page the Admin API serves.
const MaxPageSize = 250

const ordersDocument = `query FallbackOrders($first: Int!, $after: String, $query: String) {
  orders(first: $first, after: $after, query: $query, sortKey: CREATED_AT, reverse: true) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        createdAt
        billingAddress { city }
        lineItems(first: 100) {
          edges {
            node {
              title
              variantTitle
              quantity
              discountedTotalSet { shopMoney { amount } }
            }
          }
        }
      }
    }
  }
}`

const productsDocument = `query FallbackInventory($first: Int!, $after: String, $query: String) {
  products(first: $first, after: $after, query: $query, sortKey: INVENTORY_TOTAL) {
    pageInfo { hasNextPage endCursor }
    edges {
      node {
        id
        title
        variants(first: 100) {
          edges { node { title inventoryQuantity } }
        }
      }
    }
  }
}`

// fallbackFields lists what each fallback connection can produce, keyed by
// analytics table.
var fallbackFields = map[string]map[string]bool{
	"sales": {
		"order_id": true, "day": true, "billing_city": true, "product_title": true,
		"variant_title": true, "net_sales": true, "net_quantity": true,
	},
	"inventory": {
		"product_title": true, "variant_title": true, "quantity_available": true,
	},
}

// Builder derives fallback GraphQL requests from query plans.
type Builder struct {
	pageSize int
}

// NewBuilder returns a Builder. pageSize is clamped to [1, MaxPageSize].
func NewBuilder(pageSize int) *Builder {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Builder{pageSize: pageSize}
}

// Build returns a request whose aggregated result answers the same question
// as plan.
func (b *Builder) Build(plan domain.QueryPlan) (domain.GraphRequest, error) {
	supported, ok := fallbackFields[plan.Table]
	if !ok {
		return domain.GraphRequest{}, fmt.Errorf("shopify: no fallback for table %q", plan.Table)
	}
	for _, f := range plan.Fields() {
		if !supported[f] {
			return domain.GraphRequest{}, fmt.Errorf("shopify: fallback cannot produce field %q", f)
		}
	}
	for _, f := range plan.Filters {
		if !supported[f.Field] {
			return domain.GraphRequest{}, fmt.Errorf("shopify: fallback cannot filter on %q", f.Field)
		}
	}

	req := domain.GraphRequest{
		Variables: map[string]any{"first": b.pageSize},
		Plan:      plan,
	}
	var terms []string
	switch plan.Table {
	case "inventory":
		req.Document = productsDocument
		for _, f := range plan.Filters {
			if f.Field == "product_title" {
				terms = append(terms, "title:"+quoteSearch(f.Value))
			}
		}
	default:
		req.Document = ordersDocument
		if !plan.TimeRange.IsZero() {
			terms = append(terms,
				"created_at:>="+plan.TimeRange.Start.Format(domain.DateLayout),
				"created_at:<"+plan.TimeRange.End.AddDate(0, 0, 1).Format(domain.DateLayout),
			)
		}
	}
	if len(terms) > 0 {
		req.Variables["query"] = strings.Join(terms, " ")
	}
	return req, nil
}

// quoteSearch renders v as a double-quoted search-syntax value.
func quoteSearch(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type money struct {
	ShopMoney struct {
		Amount string `json:"amount"`
	} `json:"shopMoney"`
}

type ordersData struct {
	Orders struct {
		PageInfo pageInfo `json:"pageInfo"`
		Edges    []struct {
			Node struct {
				ID             string    `json:"id"`
				CreatedAt      time.Time `json:"createdAt"`
				BillingAddress *struct {
					City string `json:"city"`
				} `json:"billingAddress"`
				LineItems struct {
					Edges []struct {
						Node struct {
							Title              string `json:"title"`
							VariantTitle       string `json:"variantTitle"`
							Quantity           int    `json:"quantity"`
							DiscountedTotalSet money  `json:"discountedTotalSet"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"lineItems"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"orders"`
}

type productsData struct {
	Products struct {
		PageInfo pageInfo `json:"pageInfo"`
		Edges    []struct {
			Node struct {
				ID       string `json:"id"`
				Title    string `json:"title"`
				Variants struct {
					Edges []struct {
						Node struct {
							Title             string `json:"title"`
							InventoryQuantity int    `json:"inventoryQuantity"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"variants"`
			} `json:"node"`
		} `json:"edges"`
	} `json:"products"`
}

// ExecuteGraph reads every page of the request's connection, bounded by the
// client's page limit, and aggregates the records per the request's plan.
func (c *Client) ExecuteGraph(ctx context.Context, creds domain.Credentials, req domain.GraphRequest) (domain.ResultSet, error) {
	const op = "graphql"
	if req.Document == "" {
		return domain.ResultSet{}, domain.NewExecError(domain.ExecMalformedQuery, op, errors.New("empty document"))
	}

	var facts []fact
	after := ""
	for page := 0; page < c.maxPages; page++ {
		vars := make(map[string]any, len(req.Variables)+1)
		for k, v := range req.Variables {
			vars[k] = v
		}
		if after != "" {
			vars["after"] = after
		}
		gr := graphqlRequest{Query: req.Document, Variables: vars}

		var info pageInfo
		if req.Plan.Table == "inventory" {
			var data productsData
			if err := c.do(ctx, creds, op, false, gr, &data); err != nil {
				return domain.ResultSet{}, err
			}
			facts = append(facts, productFacts(data)...)
			info = data.Products.PageInfo
		} else {
			var data ordersData
			if err := c.do(ctx, creds, op, false, gr, &data); err != nil {
				return domain.ResultSet{}, err
			}
			facts = append(facts, orderFacts(data)...)
			info = data.Orders.PageInfo
		}
		if !info.HasNextPage || info.EndCursor == "" {
			break
		}
		after = info.EndCursor
		if page == c.maxPages-1 {
			c.logger.Warn("fallback_truncated", "store_id", creds.StoreID, "pages", c.maxPages)
		}
	}
	return aggregate(req.Plan, facts), nil
}

func orderFacts(data ordersData) []fact {
	var out []fact
	for _, e := range data.Orders.Edges {
		o := e.Node
		base := fact{
			"order_id": o.ID,
			"day":      o.CreatedAt.UTC().Format(domain.DateLayout),
			"at":       o.CreatedAt,
		}
		if o.BillingAddress != nil && o.BillingAddress.City != "" {
			base["billing_city"] = o.BillingAddress.City
		}
		if len(o.LineItems.Edges) == 0 {
			out = append(out, base)
			continue
		}
		for _, li := range o.LineItems.Edges {
			f := make(fact, len(base)+4)
			for k, v := range base {
				f[k] = v
			}
			f["product_title"] = li.Node.Title
			f["variant_title"] = li.Node.VariantTitle
			f["net_quantity"] = float64(li.Node.Quantity)
			amount, _ := strconv.ParseFloat(li.Node.DiscountedTotalSet.ShopMoney.Amount, 64)
			f["net_sales"] = amount
			out = append(out, f)
		}
	}
	return out
}

func productFacts(data productsData) []fact {
	var out []fact
	for _, e := range data.Products.Edges {
		p := e.Node
		for _, v := range p.Variants.Edges {
			out = append(out, fact{
				"product_title":      p.Title,
				"variant_title":      v.Node.Title,
				"quantity_available": float64(v.Node.InventoryQuantity),
			})
		}
	}
	return out
}
