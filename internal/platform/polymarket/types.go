// Package polymarket contains the REST clients for the Gamma market
// directory and the CLOB execution venue.
package polymarket

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// stringList decodes a JSON field that is either an array of strings or a
// JSON-encoded string containing such an array. The Gamma API serves both
// shapes for outcomePrices and clobTokenIds depending on the endpoint.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var arr []string
		if err := json.Unmarshal(data, &arr); err != nil {
			return err
		}
		*l = arr
		return nil
	}
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return err
	}
	if encoded == "" {
		*l = nil
		return nil
	}
	var arr []string
	if err := json.Unmarshal([]byte(encoded), &arr); err != nil {
		return err
	}
	*l = arr
	return nil
}

// APIMarket is the Gamma representation of one market.
type APIMarket struct {
	ID               string     `json:"id"`
	Slug             string     `json:"slug"`
	Question         string     `json:"question"`
	ConditionID      string     `json:"conditionId"`
	OutcomePrices    stringList `json:"outcomePrices"`
	ClobTokenIDs     stringList `json:"clobTokenIds"`
	Closed           bool       `json:"closed"`
	Active           bool       `json:"active"`
	AcceptingOrders  bool       `json:"acceptingOrders"`
	EndDate          string     `json:"endDate"`
	ResolutionSource string     `json:"resolutionSource"`
}

// orderRequest is the CLOB order submission envelope.
type orderRequest struct {
	Order     orderBody `json:"order"`
	Owner     string    `json:"owner"`
	OrderType string    `json:"orderType"`
}

type orderBody struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenID"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          string `json:"side"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

type orderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// apiBook is the CLOB GET /book response.
type apiBook struct {
	AssetID string `json:"asset_id"`
	Bids    []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price string `json:"price"`
		Size  string `json:"size"`
	} `json:"asks"`
}

// apiTrade is one CLOB trade history entry.
type apiTrade struct {
	ID           string `json:"id"`
	TakerOrderID string `json:"taker_order_id"`
	Market       string `json:"market"`
	AssetID      string `json:"asset_id"`
	Side         string `json:"side"`
	Size         string `json:"size"`
	Price        string `json:"price"`
	Outcome      string `json:"outcome"`
	MakerOrders  []struct {
		OrderID string `json:"order_id"`
	} `json:"maker_orders"`
}

// apiNotification is one CLOB notification. Type 4 is market resolution.
type apiNotification struct {
	ID      string `json:"id"`
	Type    int    `json:"type"`
	Payload struct {
		ConditionID string `json:"conditionId"`
		Outcome     string `json:"outcome"`
	} `json:"payload"`
}

const notificationTypeResolution = 4

// checkHTTPStatus maps non-2xx status codes to sentinel errors so callers
// can branch on rate limiting and missing markets.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, body)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, body)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, body)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, body)
	}
}
