// Package repo talks to the remote order service over its REST surface
// and maps transport failures onto the shared error taxonomy. The server
// remains the source of truth; everything fetched here is a cache.
package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gasflow/orderflow/internal/identity"
	"github.com/gasflow/orderflow/internal/order"
)

// Client is the HTTP implementation of the order repository.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the order service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// --- Wire types (snake_case, money as decimal strings) ---

type lineItemDTO struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name"`
	Quantity  int32     `json:"quantity"`
	UnitPrice string    `json:"unit_price"`
}

type contactDTO struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type orderDTO struct {
	ID          uuid.UUID     `json:"id"`
	Status      string        `json:"status"`
	TotalPrice  string        `json:"total_price"`
	DeliveryFee *string       `json:"delivery_fee"`
	OrderedAt   time.Time     `json:"ordered_at"`
	DeliveredAt *time.Time    `json:"delivered_at"`
	Contact     contactDTO    `json:"contact"`
	SellerRef   uuid.UUID     `json:"seller_ref"`
	Items       []lineItemDTO `json:"items"`
}

type orderListDTO struct {
	Orders []orderDTO `json:"orders"`
}

type createOrderDTO struct {
	Items   []lineItemDTO `json:"items"`
	Contact contactDTO    `json:"contact"`
}

type updateStatusDTO struct {
	Status string `json:"status"`
}

// errorDTO is the service's error envelope. The optional fields carry
// structured detail for stock and transition conflicts.
type errorDTO struct {
	Error     string     `json:"error"`
	ProductID *uuid.UUID `json:"product_id,omitempty"`
	Available *int32     `json:"available,omitempty"`
	From      *string    `json:"from,omitempty"`
	To        *string    `json:"to,omitempty"`
}

// --- Operations ---

// FetchOrders returns all server-known orders for id, newest activity
// first. Transport failures map to order.ErrNetwork, 401 to order.ErrAuth.
func (c *Client) FetchOrders(ctx context.Context, id identity.Identity) ([]order.Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/orders", id, nil)
	if err != nil {
		return nil, err
	}
	var list orderListDTO
	if err := c.do(req, http.StatusOK, &list); err != nil {
		return nil, fmt.Errorf("fetch orders: %w", err)
	}
	return decodeOrders(list.Orders)
}

// FetchQueue returns the fulfillment queue for one seller, newest first.
func (c *Client) FetchQueue(ctx context.Context, id identity.Identity, sellerRef uuid.UUID) ([]order.Order, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/sellers/"+sellerRef.String()+"/orders", id, nil)
	if err != nil {
		return nil, err
	}
	var list orderListDTO
	if err := c.do(req, http.StatusOK, &list); err != nil {
		return nil, fmt.Errorf("fetch queue: %w", err)
	}
	return decodeOrders(list.Orders)
}

// CreateOrder checks out lines into one new PENDING order. The request
// is all-or-nothing: the server validates stock per line and either
// creates the whole order or fails without side effects.
func (c *Client) CreateOrder(ctx context.Context, id identity.Identity, lines []order.LineItem, contact order.Contact) (order.Order, error) {
	body := createOrderDTO{
		Contact: contactDTO(contact),
	}
	for _, l := range lines {
		body.Items = append(body.Items, lineItemDTO{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice.String(),
		})
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/orders", id, body)
	if err != nil {
		return order.Order{}, err
	}
	var dto orderDTO
	if err := c.do(req, http.StatusCreated, &dto); err != nil {
		return order.Order{}, fmt.Errorf("create order: %w", err)
	}
	return decodeOrder(dto)
}

// UpdateStatus asks the server to move orderID to target. The server
// re-validates the transition against its own current status, which
// guards against stale-client races.
func (c *Client) UpdateStatus(ctx context.Context, id identity.Identity, orderID uuid.UUID, target order.Status) (order.Order, error) {
	req, err := c.newRequest(ctx, http.MethodPatch, "/orders/"+orderID.String()+"/status", id, updateStatusDTO{Status: string(target)})
	if err != nil {
		return order.Order{}, err
	}
	var dto orderDTO
	if err := c.do(req, http.StatusOK, &dto); err != nil {
		return order.Order{}, fmt.Errorf("update status: %w", err)
	}
	return decodeOrder(dto)
}

// --- Transport plumbing ---

func (c *Client) newRequest(ctx context.Context, method, path string, id identity.Identity, body any) (*http.Request, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id.IsGuest() {
		req.Header.Set("X-Guest-ID", id.GuestID)
	} else {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", order.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return c.mapError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) mapError(resp *http.Response) error {
	var dto errorDTO
	_ = json.NewDecoder(resp.Body).Decode(&dto)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return order.ErrAuth
	case http.StatusNotFound:
		return &order.NotFoundError{}
	case http.StatusConflict:
		if dto.ProductID != nil {
			var available int32
			if dto.Available != nil {
				available = *dto.Available
			}
			return &order.InsufficientStockError{ProductID: *dto.ProductID, Available: available}
		}
		if dto.From != nil && dto.To != nil {
			return &order.InvalidTransitionError{From: order.Status(*dto.From), To: order.Status(*dto.To)}
		}
		return &order.InvalidTransitionError{}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", order.ErrNetwork, resp.StatusCode)
	}
	if dto.Error != "" {
		return fmt.Errorf("order service: %s", dto.Error)
	}
	return fmt.Errorf("order service: unexpected status %d", resp.StatusCode)
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// --- Decoding ---

func decodeOrders(dtos []orderDTO) ([]order.Order, error) {
	orders := make([]order.Order, 0, len(dtos))
	for _, dto := range dtos {
		o, err := decodeOrder(dto)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func decodeOrder(dto orderDTO) (order.Order, error) {
	o := order.Order{
		ID:          dto.ID,
		Status:      order.Status(dto.Status),
		OrderedAt:   dto.OrderedAt,
		DeliveredAt: dto.DeliveredAt,
		Contact:     order.Contact(dto.Contact),
		SellerRef:   dto.SellerRef,
	}
	if !o.Status.Valid() {
		return order.Order{}, fmt.Errorf("decode order %s: unknown status %q", dto.ID, dto.Status)
	}
	total, err := parseDecimal(dto.TotalPrice)
	if err != nil {
		return order.Order{}, fmt.Errorf("decode order %s: total price: %w", dto.ID, err)
	}
	o.TotalPrice = total
	if dto.DeliveryFee != nil {
		fee, err := parseDecimal(*dto.DeliveryFee)
		if err != nil {
			return order.Order{}, fmt.Errorf("decode order %s: delivery fee: %w", dto.ID, err)
		}
		o.DeliveryFee = &fee
	}
	o.Lines = make([]order.LineItem, 0, len(dto.Items))
	for _, item := range dto.Items {
		price, err := parseDecimal(item.UnitPrice)
		if err != nil {
			return order.Order{}, fmt.Errorf("decode order %s: unit price: %w", dto.ID, err)
		}
		o.Lines = append(o.Lines, order.LineItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}
	return o, nil
}
