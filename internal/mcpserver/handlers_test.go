package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewSentinelClient(Config{APIURL: ts.URL})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func txArgs() map[string]any {
	return map[string]any{
		"from_account": "ACC_001",
		"to_account":   "ACC_999",
		"amount":       "9800",
		"lat":          19.076,
		"lon":          72.8777,
	}
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "validation_failed",
			"message": "amount must be non-negative",
		})
	}))
	defer ts.Close()

	client := NewSentinelClient(Config{APIURL: ts.URL})
	_, err := client.Analyze(context.Background(), Transaction{From: "a", To: "b", Amount: "-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (400)")
	assert.Contains(t, err.Error(), "amount must be non-negative")
}

func TestClient_DoRequest_HTTPError_RawBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer ts.Close()

	client := NewSentinelClient(Config{APIURL: ts.URL})
	_, err := client.Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (502): upstream down")
}

func TestClient_Analyze_Body(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/analyze", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{"score":0.2,"decision":"APPROVED"}`))
	}))
	defer ts.Close()

	hour := 3
	client := NewSentinelClient(Config{APIURL: ts.URL})
	_, err := client.Analyze(context.Background(), Transaction{From: "a", To: "b", Amount: "12.50", Lat: 1, Lon: 2, Hour: &hour})
	require.NoError(t, err)
	assert.Equal(t, "a", got["fromAccount"])
	assert.Equal(t, "b", got["toAccount"])
	assert.Equal(t, "12.50", got["amount"])
	assert.Equal(t, float64(3), got["hour"])
}

func TestClient_Analyze_OmitsHour(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewSentinelClient(Config{APIURL: ts.URL})
	_, err := client.Analyze(context.Background(), Transaction{From: "a", To: "b", Amount: "1"})
	require.NoError(t, err)
	_, ok := got["hour"]
	assert.False(t, ok)
}

func TestClient_Assessments_NotFoundIsEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assessments/ACC 1", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found"}`))
	}))
	defer ts.Close()

	client := NewSentinelClient(Config{APIURL: ts.URL})
	raw, err := client.Assessments(context.Background(), "ACC 1", 5)
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestClient_SendsAPIKey(t *testing.T) {
	var got string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-API-Key")
		_, _ = w.Write([]byte(`{"assessments":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewSentinelClient(Config{APIURL: ts.URL, APIKey: "op_mcp_key"})
	_, err := client.Assessments(context.Background(), "ACC_1", 5)
	require.NoError(t, err)
	assert.Equal(t, "op_mcp_key", got)
}

func TestClient_SealPayment_BlockedIsNotError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audit/payment", r.URL.Path)
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"BLOCKED","risk":0.9,"reasons":["Impossible travel"]}`))
	}))
	defer ts.Close()

	client := NewSentinelClient(Config{APIURL: ts.URL})
	raw, err := client.SealPayment(context.Background(), Transaction{From: "a", To: "b", Amount: "1"})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "BLOCKED")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleAnalyzeTransaction(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"score":                      0.5,
			"decision":                   "REVIEW",
			"recommended_action":         "Queue for analyst review",
			"reasons":                    []string{"Potential structuring: Amount 9800 suspiciously close to 10000 reporting threshold"},
			"strategy_recommendation":    "TSA",
			"strategy_reason":            "Medium risk",
			"detection_layers_triggered": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(txArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Decision: REVIEW (score 0.500)")
	assert.Contains(t, text, "Potential structuring")
	assert.Contains(t, text, "Layers triggered: 2")
	assert.Contains(t, text, "Witness strategy: TSA (Medium risk)")
}

func TestHandleAnalyzeTransaction_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not call the API")
	}))
	defer cleanup()

	for _, key := range []string{"from_account", "to_account", "amount"} {
		args := txArgs()
		delete(args, key)
		result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError, key)
		assert.Contains(t, resultText(t, result), key+" is required")
	}
}

func TestHandleAnalyzeTransaction_BadHour(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not call the API")
	}))
	defer cleanup()

	for _, hour := range []float64{-1, 24, 3.5} {
		args := txArgs()
		args["hour"] = hour
		result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "hour %v", hour)
	}
}

func TestHandleAnalyzeTransaction_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"score": 1.0, "decision": "ERROR", "message": "boom"})
	}))
	defer cleanup()

	result, err := h.HandleAnalyzeTransaction(context.Background(), makeRequest(txArgs()))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "Failed to analyze transaction")
}

func TestHandleSealPayment_Sealed(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":        "SEALED",
			"strategy":      "TSA",
			"risk":          0.35,
			"decision":      "REVIEW",
			"transactionId": "tx_abc",
		})
	}))
	defer cleanup()

	result, err := h.HandleSealPayment(context.Background(), makeRequest(txArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Payment SEALED via TSA")
	assert.Contains(t, text, "Transaction: tx_abc")
	assert.Contains(t, text, "Risk: 0.350 (REVIEW)")
}

func TestHandleSealPayment_Pending(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"PENDING","strategy":"MERKLE","risk":0.05,"decision":"APPROVED","transactionId":"tx_1"}`))
	}))
	defer cleanup()

	result, err := h.HandleSealPayment(context.Background(), makeRequest(txArgs()))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "queued for the next Merkle batch")
}

func TestHandleSealPayment_Blocked(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status":"BLOCKED","risk":0.95,"reasons":["Impossible travel: 7200km in 1.0 hours"]}`))
	}))
	defer cleanup()

	result, err := h.HandleSealPayment(context.Background(), makeRequest(txArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Payment BLOCKED (risk 0.950)")
	assert.Contains(t, text, "Impossible travel")
}

func TestHandleVerifyWitness(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audit/witness/tx_abc", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"verified": true,
			"witness": {
				"event": {"id": "tx_abc", "fromAccount": "ACC_001", "toAccount": "ACC_999"},
				"strategy": "MULTISIG",
				"status": "SEALED",
				"signatures": [{"signer": "0x01"}, {"signer": "0x02"}]
			}
		}`))
	}))
	defer cleanup()

	result, err := h.HandleVerifyWitness(context.Background(), makeRequest(map[string]any{"transaction_id": "tx_abc"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Transaction tx_abc: ACC_001 -> ACC_999")
	assert.Contains(t, text, "Strategy: MULTISIG, status: SEALED")
	assert.Contains(t, text, "Signed by 0x02")
	assert.Contains(t, text, "Verification: PASSED")
}

func TestHandleVerifyWitness_NotFound(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"no witness for transaction"}`))
	}))
	defer cleanup()

	result, err := h.HandleVerifyWitness(context.Background(), makeRequest(map[string]any{"transaction_id": "tx_nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no witness for transaction")
}

func TestHandleVerifyWitness_MissingID(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleVerifyWitness(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListAuditBlocks(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"blocks":[{"height":2,"merkleRoot":"abcd","strategy":"MERKLE","transactionCount":3}],"count":1}`))
	}))
	defer cleanup()

	result, err := h.HandleListAuditBlocks(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Found 1 block(s)")
	assert.Contains(t, text, "#2 MERKLE root=abcd (3 tx)")
}

func TestHandleListAuditBlocks_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"blocks":[],"count":0}`))
	}))
	defer cleanup()

	result, err := h.HandleListAuditBlocks(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No audit blocks sealed yet.", resultText(t, result))
}

func TestHandleListAssessments(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assessments/ACC_001", r.URL.Path)
		_, _ = w.Write([]byte(`{"account":"ACC_001","count":1,"assessments":[
			{"account":"ACC_001","counterparty":"ACC_999","amount":"9800","decision":"REVIEW","score":0.5}
		]}`))
	}))
	defer cleanup()

	result, err := h.HandleListAssessments(context.Background(), makeRequest(map[string]any{"account": "ACC_001"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "1 assessment(s) for ACC_001")
	assert.Contains(t, text, "ACC_001 -> ACC_999 amount 9800: REVIEW (0.500)")
}

func TestHandleListAssessments_None(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer cleanup()

	result, err := h.HandleListAssessments(context.Background(), makeRequest(map[string]any{"account": "ACC_404"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "No assessments recorded for ACC_404.", resultText(t, result))
}

func TestHandleGetEngineConfig_PrettyPrints(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/config", r.URL.Path)
		_, _ = w.Write([]byte(`{"risk_thresholds":{"low":0.2}}`))
	}))
	defer cleanup()

	result, err := h.HandleGetEngineConfig(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "\n  \"risk_thresholds\": {")
}

func TestHandleGetEngineHealth(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"sentinel"}`))
	}))
	defer cleanup()

	result, err := h.HandleGetEngineHealth(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), `"status": "healthy"`)
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:0"})
	require.NotNil(t, s)
}
