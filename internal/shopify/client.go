package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"kioskd/internal/models"
)

// RemoteOrder is the platform-side order created for a checkout.
type RemoteOrder struct {
	ID          string
	OrderNumber string
}

type Product struct {
	ID          string  `json:"id"`
	SKU         string  `json:"sku"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Available   int     `json:"available"`
	ImageURL    string  `json:"image_url,omitempty"`
}

type ProbeResult struct {
	Connected bool   `json:"connected"`
	ShopName  string `json:"shop_name,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 30 * time.Second
)

// Client talks to the Shopify admin API. Product listings are cached for
// cacheTTL behind a mutex; order creation and fulfillment are never cached
// and never retried here.
type Client struct {
	storeURL   string
	token      string
	apiVersion string
	locationID string

	readClient  *http.Client
	writeClient *http.Client

	mu       sync.Mutex
	cache    []Product
	cachedAt time.Time
	cacheTTL time.Duration
}

func NewClient(storeURL, token, apiVersion, locationID string, cacheTTL time.Duration) *Client {
	return &Client{
		storeURL:    storeURL,
		token:       token,
		apiVersion:  apiVersion,
		locationID:  locationID,
		readClient:  &http.Client{Timeout: readTimeout},
		writeClient: &http.Client{Timeout: writeTimeout},
		cacheTTL:    cacheTTL,
	}
}

func (c *Client) baseURL() string {
	base := c.storeURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/admin/api/%s", base, c.apiVersion)
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// ProbeConnection checks API reachability via the shop endpoint.
func (c *Client) ProbeConnection(ctx context.Context) ProbeResult {
	req, err := c.newRequest(ctx, http.MethodGet, c.baseURL()+"/shop.json", nil)
	if err != nil {
		return ProbeResult{Connected: false, Detail: err.Error()}
	}
	resp, err := c.readClient.Do(req)
	if err != nil {
		return ProbeResult{Connected: false, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProbeResult{Connected: false, Detail: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	var payload struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ProbeResult{Connected: false, Detail: fmt.Sprintf("decode shop: %v", err)}
	}
	return ProbeResult{Connected: true, ShopName: payload.Shop.Name}
}

func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = nil
	c.cachedAt = time.Time{}
	c.mu.Unlock()
}

const productsQuery = `
query getProductsWithInventory($locationId: ID!) {
    location(id: $locationId) {
        inventoryLevels(first: 100) {
            edges {
                node {
                    available
                    item {
                        sku
                        variant {
                            id
                            title
                            price
                            product {
                                title
                                description
                                images(first: 1) { edges { node { url } } }
                            }
                        }
                    }
                }
            }
        }
    }
}`

// ListAvailableProducts returns in-stock products at the kiosk location.
func (c *Client) ListAvailableProducts(ctx context.Context) ([]Product, error) {
	c.mu.Lock()
	if c.cache != nil && time.Since(c.cachedAt) < c.cacheTTL {
		cached := c.cache
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	body, err := json.Marshal(map[string]interface{}{
		"query": productsQuery,
		"variables": map[string]string{
			"locationId": "gid://shopify/Location/" + c.locationID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal graphql query: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL()+"/graphql.json", body)
	if err != nil {
		return nil, err
	}
	resp, err := c.readClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("products query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("products query: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Data struct {
			Location struct {
				InventoryLevels struct {
					Edges []struct {
						Node struct {
							Available int `json:"available"`
							Item      struct {
								SKU     string `json:"sku"`
								Variant struct {
									ID      string `json:"id"`
									Price   string `json:"price"`
									Product struct {
										Title       string `json:"title"`
										Description string `json:"description"`
										Images      struct {
											Edges []struct {
												Node struct {
													URL string `json:"url"`
												} `json:"node"`
											} `json:"edges"`
										} `json:"images"`
									} `json:"product"`
								} `json:"variant"`
							} `json:"item"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"inventoryLevels"`
			} `json:"location"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	if len(payload.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", payload.Errors[0].Message)
	}

	var products []Product
	for _, edge := range payload.Data.Location.InventoryLevels.Edges {
		node := edge.Node
		if node.Available <= 0 {
			continue
		}
		price, err := strconv.ParseFloat(node.Item.Variant.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price for sku %s: %w", node.Item.SKU, err)
		}
		p := Product{
			ID:          lastPathSegment(node.Item.Variant.ID),
			SKU:         node.Item.SKU,
			Title:       node.Item.Variant.Product.Title,
			Description: node.Item.Variant.Product.Description,
			Price:       price,
			Available:   node.Available,
		}
		if imgs := node.Item.Variant.Product.Images.Edges; len(imgs) > 0 {
			p.ImageURL = imgs[0].Node.URL
		}
		products = append(products, p)
	}

	c.mu.Lock()
	c.cache = products
	c.cachedAt = time.Now()
	c.mu.Unlock()
	return products, nil
}

func lastPathSegment(gid string) string {
	for i := len(gid) - 1; i >= 0; i-- {
		if gid[i] == '/' {
			return gid[i+1:]
		}
	}
	return gid
}

// CreateOrder creates a pre-paid platform order for the given line items.
func (c *Client) CreateOrder(ctx context.Context, items []models.OrderItem, orderType models.OrderType) (*RemoteOrder, error) {
	lineItems := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		lineItems = append(lineItems, map[string]interface{}{
			"sku":      item.SKU,
			"title":    item.Title,
			"price":    strconv.FormatFloat(item.UnitPrice, 'f', 2, 64),
			"quantity": item.Quantity,
		})
	}
	body, err := json.Marshal(map[string]interface{}{
		"order": map[string]interface{}{
			"line_items":       lineItems,
			"financial_status": "paid",
			"location_id":      c.locationID,
			"tags":             string(orderType) + "-order",
			"note":             fmt.Sprintf("Order created via %s interface", orderType),
			"source_name":      "kiosk",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL()+"/orders.json", body)
	if err != nil {
		return nil, err
	}
	resp, err := c.writeClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create order request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create order: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Order struct {
			ID          int64 `json:"id"`
			OrderNumber int64 `json:"order_number"`
		} `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &RemoteOrder{
		ID:          strconv.FormatInt(payload.Order.ID, 10),
		OrderNumber: strconv.FormatInt(payload.Order.OrderNumber, 10),
	}, nil
}

// FulfillOrder marks the platform order fulfilled. The call is not
// idempotent on the platform side, so callers must gate it on local status.
func (c *Client) FulfillOrder(ctx context.Context, remoteOrderID string) error {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/orders/%s.json", c.baseURL(), remoteOrderID), nil)
	if err != nil {
		return err
	}
	resp, err := c.readClient.Do(req)
	if err != nil {
		return fmt.Errorf("get order %s: %w", remoteOrderID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get order %s: unexpected status %d", remoteOrderID, resp.StatusCode)
	}

	var orderPayload struct {
		Order struct {
			LineItems []struct {
				ID       int64 `json:"id"`
				Quantity int   `json:"quantity"`
			} `json:"line_items"`
		} `json:"order"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&orderPayload); err != nil {
		return fmt.Errorf("decode order %s: %w", remoteOrderID, err)
	}

	lineItems := make([]map[string]interface{}, 0, len(orderPayload.Order.LineItems))
	for _, li := range orderPayload.Order.LineItems {
		lineItems = append(lineItems, map[string]interface{}{
			"id":       li.ID,
			"quantity": li.Quantity,
		})
	}
	body, err := json.Marshal(map[string]interface{}{
		"fulfillment": map[string]interface{}{
			"location_id":     c.locationID,
			"line_items":      lineItems,
			"notify_customer": false,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal fulfillment: %w", err)
	}

	req, err = c.newRequest(ctx, http.MethodPost, fmt.Sprintf("%s/orders/%s/fulfillments.json", c.baseURL(), remoteOrderID), body)
	if err != nil {
		return err
	}
	resp, err = c.writeClient.Do(req)
	if err != nil {
		return fmt.Errorf("fulfill order %s: %w", remoteOrderID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("fulfill order %s: unexpected status %d", remoteOrderID, resp.StatusCode)
	}
	return nil
}
