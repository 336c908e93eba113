package broker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL  = "https://piconnect.flattrade.in/PiConnectTP"
	defaultTokenURL = "https://authapi.flattrade.in/trade/apitoken"
)

// Retry policy for authenticated requests.
const (
	maxAttempts    = 3
	initialBackoff = time.Second
	maxBackoff     = 10 * time.Second
)

// FlattradeAPI is the Flattrade Noren-style API client. Requests are form
// posts carrying a jData JSON payload and the jKey session token.
type FlattradeAPI struct {
	client    *http.Client
	baseURL   string
	tokenURL  string
	clientID  string
	apiKey    string
	apiSecret string
	authCode  string
	logger    *log.Logger
	backoff   time.Duration

	mu    sync.RWMutex
	token string
}

// FlattradeConfig holds the client credentials.
type FlattradeConfig struct {
	BaseURL   string // optional, defaults to the production endpoint
	ClientID  string
	APIKey    string
	APISecret string
	AuthCode  string
}

// NewFlattradeAPI creates a Flattrade client. Login must be called before any
// data or order request.
func NewFlattradeAPI(cfg FlattradeConfig, logger *log.Logger) *FlattradeAPI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &FlattradeAPI{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   strings.TrimRight(baseURL, "/"),
		tokenURL:  defaultTokenURL,
		clientID:  cfg.ClientID,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		authCode:  cfg.AuthCode,
		logger:    logger,
		backoff:   initialBackoff,
	}
}

var (
	_ Auth       = (*FlattradeAPI)(nil)
	_ MarketData = (*FlattradeAPI)(nil)
	_ OrderAPI   = (*FlattradeAPI)(nil)
)

// Login exchanges the one-time auth code for a session token. The checksum is
// the SHA-256 hash of api_key + auth_code + api_secret.
func (f *FlattradeAPI) Login(ctx context.Context) error {
	sum := sha256.Sum256([]byte(f.apiKey + f.authCode + f.apiSecret))
	payload := map[string]string{
		"api_key":      f.apiKey,
		"request_code": f.authCode,
		"api_secret":   hex.EncodeToString(sum[:]),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading login response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Token string `json:"token"`
		Stat  string `json:"stat"`
		EMsg  string `json:"emsg"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return fmt.Errorf("parsing login response: %w", err)
	}
	if result.Token == "" {
		return fmt.Errorf("login rejected: %s", result.EMsg)
	}

	f.mu.Lock()
	f.token = result.Token
	f.mu.Unlock()

	f.logger.Printf("Broker session established for %s", f.clientID)
	return nil
}

// AuthenticatedRequest posts a jData payload to an API endpoint and returns
// the decoded response map. Retryable failures are retried with backoff.
func (f *FlattradeAPI) AuthenticatedRequest(
	ctx context.Context,
	endpoint string,
	payload map[string]string,
) (map[string]any, error) {
	f.mu.RLock()
	token := f.token
	f.mu.RUnlock()
	if token == "" {
		return nil, fmt.Errorf("not authenticated, call Login first")
	}

	jData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request payload: %w", err)
	}
	form := "jData=" + string(jData) + "&jKey=" + token
	url := f.baseURL + "/" + strings.TrimLeft(endpoint, "/")

	var lastErr error
	backoff := f.backoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := f.post(ctx, url, form)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == maxAttempts {
			break
		}
		f.logger.Printf("Request to %s failed (attempt %d/%d), retrying in %v: %v",
			endpoint, attempt, maxAttempts, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff = time.Duration(float64(backoff) * 1.5)
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, lastErr
}

func (f *FlattradeAPI) post(ctx context.Context, url, form string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(form))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var result map[string]any
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return result, nil
}

// GetSymbolData fetches the latest quote for a trading symbol via GetQuotes.
func (f *FlattradeAPI) GetSymbolData(ctx context.Context, symbol string) (*SymbolData, error) {
	exch, tsym := splitSymbol(symbol)
	payload := map[string]string{
		"uid":  f.clientID,
		"exch": exch,
		"tsym": tsym,
	}

	result, err := f.AuthenticatedRequest(ctx, "GetQuotes", payload)
	if err != nil {
		return nil, err
	}
	if stat, _ := result["stat"].(string); stat != "Ok" {
		emsg, _ := result["emsg"].(string)
		return nil, fmt.Errorf("%w: %s", ErrNoData, emsg)
	}

	lp := parseQuoteFloat(result, "lp")
	if lp <= 0 {
		return nil, ErrNoData
	}

	return &SymbolData{
		Symbol:    symbol,
		LastPrice: lp,
		Open:      parseQuoteFloat(result, "o"),
		High:      parseQuoteFloat(result, "h"),
		Low:       parseQuoteFloat(result, "l"),
		Volume:    int64(parseQuoteFloat(result, "v")),
	}, nil
}

// PlaceOrder submits an order and returns the broker order number. A response
// with stat Ok carries the norenordno field.
func (f *FlattradeAPI) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	exch, tsym := splitSymbol(req.Symbol)
	prctyp := "MKT"
	if req.OrderType == "LMT" {
		prctyp = "LMT"
	}
	payload := map[string]string{
		"uid":      f.clientID,
		"actid":    f.clientID,
		"exch":     exch,
		"tsym":     tsym,
		"qty":      strconv.FormatInt(req.Quantity, 10),
		"prc":      strconv.FormatFloat(req.Price, 'f', 2, 64),
		"prd":      "M",
		"trantype": req.Side,
		"prctyp":   prctyp,
		"ret":      "DAY",
	}

	result, err := f.AuthenticatedRequest(ctx, "PlaceOrder", payload)
	if err != nil {
		return "", err
	}
	if stat, _ := result["stat"].(string); stat != "Ok" {
		emsg, _ := result["emsg"].(string)
		return "", fmt.Errorf("order rejected by broker: %s", emsg)
	}
	orderNo, _ := result["norenordno"].(string)
	if orderNo == "" {
		return "", fmt.Errorf("broker accepted order but returned no order number")
	}
	return orderNo, nil
}

// splitSymbol separates an "NSE:SYMBOL" trading symbol into exchange and
// trading symbol. A missing prefix defaults to NSE.
func splitSymbol(symbol string) (exch, tsym string) {
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		return symbol[:i], symbol[i+1:]
	}
	return "NSE", symbol
}

// parseQuoteFloat reads a numeric quote field, which the API returns as a
// string.
func parseQuoteFloat(result map[string]any, key string) float64 {
	switch v := result[key].(type) {
	case string:
		val, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return val
	case float64:
		return v
	default:
		return 0
	}
}
