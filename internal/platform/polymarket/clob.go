package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/updownbot/internal/crypto"
	"github.com/alanyoungcy/updownbot/internal/domain"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// usdcDecimals is the on-chain precision of both collateral and outcome
// tokens.
const usdcDecimals = 6

// ClobClient is the REST client for the CLOB execution venue. It implements
// domain.Venue for live trading and feed.Snapshotter for book backfills.
type ClobClient struct {
	baseURL       string
	httpClient    *http.Client
	signer        *crypto.Signer
	hmacAuth      *crypto.HMACAuth
	funder        string
	signatureType int
}

// NewClobClient creates a CLOB client. funder may be empty for EOA wallets;
// for proxy wallets it is the funding address that holds the collateral.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, funder string, signatureType int) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:        signer,
		hmacAuth:      hmac,
		funder:        funder,
		signatureType: signatureType,
	}
}

// DeriveAPIKey runs the L1 auth flow to obtain HMAC credentials when none
// were configured.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	timestamp := time.Now().Unix()
	sig, err := c.signer.SignAuthMessage(timestamp, 0)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", c.signer.Address().Hex())
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", "0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, body)
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(body, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}
	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}
	return nil
}

// PlaceOrder submits the intent as one marketable limit order, or two for a
// both-sides arbitrage intent. For arbitrage the returned order id joins
// both leg ids with a comma.
func (c *ClobClient) PlaceOrder(ctx context.Context, intent domain.TradeIntent) (string, error) {
	if intent.Direction != domain.DirectionBoth {
		tokenID, price := legForDirection(intent)
		return c.placeLeg(ctx, tokenID, price, intent.SizeUSD)
	}

	sum := intent.UpPrice + intent.DownPrice
	if sum <= 0 {
		return "", fmt.Errorf("polymarket/clob: %w: arbitrage intent without leg prices", domain.ErrInvalidOrder)
	}
	// Equal share count on both sides guarantees the payout regardless of
	// outcome; the total spend across both legs is SizeUSD.
	shares := intent.SizeUSD / sum

	upID, err := c.placeLeg(ctx, legToken(intent, domain.DirectionUp), intent.UpPrice, shares*intent.UpPrice)
	if err != nil {
		return "", err
	}
	downID, err := c.placeLeg(ctx, legToken(intent, domain.DirectionDown), intent.DownPrice, shares*intent.DownPrice)
	if err != nil {
		// The up leg is already working; surface both facts.
		return upID, fmt.Errorf("polymarket/clob: down leg after up leg %s: %w", upID, err)
	}
	return upID + "," + downID, nil
}

func legForDirection(intent domain.TradeIntent) (tokenID string, price float64) {
	return legToken(intent, intent.Direction), intent.EntryPrice
}

func legToken(intent domain.TradeIntent, dir domain.Direction) string {
	if dir == domain.DirectionUp {
		return intent.UpTokenID
	}
	return intent.DownTokenID
}

// placeLeg signs and posts one BUY order: spend sizeUSD at the given price.
func (c *ClobClient) placeLeg(ctx context.Context, tokenID string, price, sizeUSD float64) (string, error) {
	if tokenID == "" || price <= 0 || sizeUSD <= 0 {
		return "", fmt.Errorf("polymarket/clob: %w: token=%q price=%v size=%v",
			domain.ErrInvalidOrder, tokenID, price, sizeUSD)
	}

	// Amounts are fixed-point with 6 decimals. makerAmount is collateral
	// spent, takerAmount the shares received. Rounding the share count down
	// keeps the implied price at or below the requested one.
	unit := decimal.New(1, usdcDecimals)
	makerAmount := decimal.NewFromFloat(sizeUSD).Mul(unit).Round(0)
	takerAmount := decimal.NewFromFloat(sizeUSD).
		Div(decimal.NewFromFloat(price)).
		Mul(unit).
		RoundDown(0)

	maker := c.signer.Address().Hex()
	if c.funder != "" {
		maker = c.funder
	}
	payload := crypto.OrderPayload{
		Salt:          new(big.Int).SetInt64(rand.Int63()).String(),
		Maker:         maker,
		Signer:        c.signer.Address().Hex(),
		Taker:         zeroAddress,
		TokenID:       tokenID,
		MakerAmount:   makerAmount.String(),
		TakerAmount:   takerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0, // BUY
		SignatureType: c.signatureType,
	}
	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: %w: %v", domain.ErrSigningFailed, err)
	}

	reqBody := orderRequest{
		Order: orderBody{
			Salt:          payload.Salt,
			Maker:         payload.Maker,
			Signer:        payload.Signer,
			Taker:         payload.Taker,
			TokenID:       payload.TokenID,
			MakerAmount:   payload.MakerAmount,
			TakerAmount:   payload.TakerAmount,
			Expiration:    payload.Expiration,
			Nonce:         payload.Nonce,
			FeeRateBps:    payload.FeeRateBps,
			Side:          "BUY",
			SignatureType: payload.SignatureType,
			Signature:     sig,
		},
		Owner:     c.apiKeyOwner(),
		OrderType: "FAK",
	}

	body, err := c.doAuthenticated(ctx, http.MethodPost, "/order", reqBody)
	if err != nil {
		return "", fmt.Errorf("polymarket/clob: post order: %w", err)
	}
	var result orderResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("polymarket/clob: order rejected: %s", result.ErrorMsg)
	}
	return result.OrderID, nil
}

func (c *ClobClient) apiKeyOwner() string {
	if c.hmacAuth != nil {
		return c.hmacAuth.Key
	}
	return ""
}

// BookSnapshot fetches the full order book for one instrument over REST.
func (c *ClobClient) BookSnapshot(ctx context.Context, instrumentID string) (*domain.InstrumentBook, error) {
	params := url.Values{}
	params.Set("token_id", instrumentID)

	body, err := c.doPublic(ctx, "/book?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: book snapshot %s: %w", instrumentID, err)
	}
	var raw apiBook
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	book := &domain.InstrumentBook{
		InstrumentID: instrumentID,
		UpdatedAt:    time.Now(),
	}
	for _, l := range raw.Bids {
		if lvl, ok := parseLevel(l.Price, l.Size); ok {
			book.Bids = append(book.Bids, lvl)
		}
	}
	for _, l := range raw.Asks {
		if lvl, ok := parseLevel(l.Price, l.Size); ok {
			book.Asks = append(book.Asks, lvl)
		}
	}
	sortBook(book)
	return book, nil
}

func parseLevel(price, size string) (domain.OrderLevel, bool) {
	p, err1 := strconv.ParseFloat(price, 64)
	s, err2 := strconv.ParseFloat(size, 64)
	if err1 != nil || err2 != nil || p <= 0 || s <= 0 {
		return domain.OrderLevel{}, false
	}
	return domain.OrderLevel{Price: p, Size: s}, true
}

func sortBook(b *domain.InstrumentBook) {
	for i := 1; i < len(b.Bids); i++ {
		for j := i; j > 0 && b.Bids[j].Price > b.Bids[j-1].Price; j-- {
			b.Bids[j], b.Bids[j-1] = b.Bids[j-1], b.Bids[j]
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		for j := i; j > 0 && b.Asks[j].Price < b.Asks[j-1].Price; j-- {
			b.Asks[j], b.Asks[j-1] = b.Asks[j-1], b.Asks[j]
		}
	}
	if len(b.Bids) > 0 {
		b.BestBid = b.Bids[0].Price
	}
	if len(b.Asks) > 0 {
		b.BestAsk = b.Asks[0].Price
	}
}

// FillsForMarket returns the authenticated wallet's fills for one market.
func (c *ClobClient) FillsForMarket(ctx context.Context, conditionID string) ([]domain.VenueFill, error) {
	params := url.Values{}
	params.Set("market", conditionID)

	body, err := c.doAuthenticated(ctx, http.MethodGet, "/data/trades?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: fills for %s: %w", conditionID, err)
	}
	var trades []apiTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode trades: %w", err)
	}

	fills := make([]domain.VenueFill, 0, len(trades))
	for _, t := range trades {
		price, _ := strconv.ParseFloat(t.Price, 64)
		size, _ := strconv.ParseFloat(t.Size, 64)
		fill := domain.VenueFill{
			TradeID:      t.ID,
			TakerOrderID: t.TakerOrderID,
			Outcome:      outcomeDirection(t.Outcome),
			Side:         t.Side,
			Price:        price,
			Size:         size,
		}
		if len(t.MakerOrders) > 0 {
			fill.MakerOrderID = t.MakerOrders[0].OrderID
		}
		fills = append(fills, fill)
	}
	return fills, nil
}

func outcomeDirection(outcome string) domain.Direction {
	switch strings.ToLower(outcome) {
	case "up", "yes":
		return domain.DirectionUp
	case "down", "no":
		return domain.DirectionDown
	default:
		return ""
	}
}

// ResolutionNotes returns pending market-resolved notifications.
func (c *ClobClient) ResolutionNotes(ctx context.Context) ([]domain.ResolutionNote, error) {
	body, err := c.doAuthenticated(ctx, http.MethodGet, "/notifications", nil)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: notifications: %w", err)
	}
	var notes []apiNotification
	if err := json.Unmarshal(body, &notes); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode notifications: %w", err)
	}

	var out []domain.ResolutionNote
	for _, n := range notes {
		if n.Type != notificationTypeResolution {
			continue
		}
		out = append(out, domain.ResolutionNote{
			ID:          n.ID,
			ConditionID: n.Payload.ConditionID,
			Outcome:     outcomeDirection(n.Payload.Outcome),
		})
	}
	return out, nil
}

// AckNotes marks notifications as read so they stop being returned.
func (c *ClobClient) AckNotes(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))

	_, err := c.doAuthenticated(ctx, http.MethodDelete, "/notifications?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: ack notifications: %w", err)
	}
	return nil
}

// Balance returns the available collateral balance in USD.
func (c *ClobClient) Balance(ctx context.Context) (float64, error) {
	body, err := c.doAuthenticated(ctx, http.MethodGet, "/balance-allowance?asset_type=COLLATERAL", nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: balance: %w", err)
	}
	var resp struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("polymarket/clob: decode balance: %w", err)
	}
	raw, err := decimal.NewFromString(resp.Balance)
	if err != nil {
		return 0, fmt.Errorf("polymarket/clob: parse balance %q: %w", resp.Balance, err)
	}
	bal, _ := raw.Div(decimal.New(1, usdcDecimals)).Float64()
	return bal, nil
}

// doPublic sends an unauthenticated GET against the CLOB API.
func (c *ClobClient) doPublic(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// doAuthenticated builds, HMAC-signs, sends and reads a request against the
// CLOB API.
func (c *ClobClient) doAuthenticated(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.hmacAuth == nil {
		return nil, fmt.Errorf("%w: no API credentials", domain.ErrNotConfigured)
	}
	// The signature covers the path without query parameters.
	sigPath := path
	if i := strings.IndexByte(sigPath, '?'); i >= 0 {
		sigPath = sigPath[:i]
	}
	for k, v := range c.hmacAuth.L2Headers(c.signer.Address().Hex(), method, sigPath, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}
