package mcpserver

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *SentinelClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SentinelClient) *Handlers {
	return &Handlers{client: client}
}

// HandleAnalyzeTransaction scores a payment without sealing it.
func (h *Handlers) HandleAnalyzeTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx, errResult := transactionArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.Analyze(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to analyze transaction: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSealPayment scores a payment and records it in the audit ledger.
func (h *Handlers) HandleSealPayment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tx, errResult := transactionArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	raw, err := h.client.SealPayment(ctx, tx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to seal payment: %v", err)), nil
	}

	text, err := formatPayment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment result: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleVerifyWitness re-verifies the witness of a sealed transaction.
func (h *Handlers) HandleVerifyWitness(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("transaction_id", "")
	if id == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	raw, err := h.client.Witness(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to verify witness: %v", err)), nil
	}

	text, err := formatWitness(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse witness: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListAuditBlocks lists recent audit blocks.
func (h *Handlers) HandleListAuditBlocks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 10)

	raw, err := h.client.Blocks(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list audit blocks: %v", err)), nil
	}

	text, err := formatBlockList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse blocks: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetEngineHealth reports what the engine has loaded.
func (h *Handlers) HandleGetEngineHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Health(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get engine health: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleGetEngineConfig returns the scoring configuration.
func (h *Handlers) HandleGetEngineConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.EngineConfig(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get engine config: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

// HandleListAssessments lists recent assessments for an account.
func (h *Handlers) HandleListAssessments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	account := req.GetString("account", "")
	if account == "" {
		return mcp.NewToolResultError("account is required"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.Assessments(ctx, account, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assessments: %v", err)), nil
	}
	if raw == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No assessments recorded for %s.", account)), nil
	}

	text, err := formatAssessmentList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Argument helpers ---

// transactionArgs reads the arguments shared by analyze and seal. A
// non-nil result is a tool error to hand back to the caller.
func transactionArgs(req mcp.CallToolRequest) (Transaction, *mcp.CallToolResult) {
	tx := Transaction{
		From:   req.GetString("from_account", ""),
		To:     req.GetString("to_account", ""),
		Amount: req.GetString("amount", ""),
		Lat:    req.GetFloat("lat", 0),
		Lon:    req.GetFloat("lon", 0),
	}
	if tx.From == "" {
		return tx, mcp.NewToolResultError("from_account is required")
	}
	if tx.To == "" {
		return tx, mcp.NewToolResultError("to_account is required")
	}
	if tx.Amount == "" {
		return tx, mcp.NewToolResultError("amount is required")
	}
	if _, ok := req.GetArguments()["hour"]; ok {
		hour := req.GetFloat("hour", -1)
		if hour < 0 || hour > 23 || hour != math.Trunc(hour) {
			return tx, mcp.NewToolResultError("hour must be a whole number between 0 and 23")
		}
		hr := int(hour)
		tx.Hour = &hr
	}
	return tx, nil
}

// --- Response formatters ---

type assessmentView struct {
	Score     float64            `json:"score"`
	Decision  string             `json:"decision"`
	Action    string             `json:"recommended_action"`
	Reasons   []string           `json:"reasons"`
	Breakdown map[string]float64 `json:"risk_breakdown"`
	Strategy  string             `json:"strategy_recommendation"`
	Why       string             `json:"strategy_reason"`
	Layers    int                `json:"detection_layers_triggered"`
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var a assessmentView
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", fmt.Errorf("unexpected assessment format")
	}
	if a.Decision == "" {
		return "", fmt.Errorf("assessment has no decision")
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Decision: %s (score %.3f)\n", a.Decision, a.Score))
	if a.Action != "" {
		sb.WriteString(fmt.Sprintf("Action: %s\n", a.Action))
	}
	sb.WriteString(fmt.Sprintf("Layers triggered: %d\n", a.Layers))
	if len(a.Reasons) > 0 {
		sb.WriteString("Reasons:\n")
		for _, r := range a.Reasons {
			sb.WriteString(fmt.Sprintf("  - %s\n", r))
		}
	}
	if a.Strategy != "" {
		sb.WriteString(fmt.Sprintf("Witness strategy: %s", a.Strategy))
		if a.Why != "" {
			sb.WriteString(fmt.Sprintf(" (%s)", a.Why))
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatPayment(raw json.RawMessage) (string, error) {
	var resp struct {
		Status        string   `json:"status"`
		Strategy      string   `json:"strategy"`
		Risk          float64  `json:"risk"`
		Decision      string   `json:"decision"`
		TransactionID string   `json:"transactionId"`
		Reasons       []string `json:"reasons"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected payment format")
	}

	var sb strings.Builder
	if resp.Status == "BLOCKED" {
		sb.WriteString(fmt.Sprintf("Payment BLOCKED (risk %.3f). Nothing was recorded.\n", resp.Risk))
		for _, r := range resp.Reasons {
			sb.WriteString(fmt.Sprintf("  - %s\n", r))
		}
		return sb.String(), nil
	}

	sb.WriteString(fmt.Sprintf("Payment %s via %s\n", resp.Status, resp.Strategy))
	sb.WriteString(fmt.Sprintf("Transaction: %s\n", resp.TransactionID))
	sb.WriteString(fmt.Sprintf("Risk: %.3f (%s)\n", resp.Risk, resp.Decision))
	if resp.Status == "PENDING" {
		sb.WriteString("The payment is queued for the next Merkle batch.\n")
	}
	return sb.String(), nil
}

func formatWitness(raw json.RawMessage) (string, error) {
	var resp struct {
		Verified bool `json:"verified"`
		Witness  struct {
			Event struct {
				ID   string `json:"id"`
				From string `json:"fromAccount"`
				To   string `json:"toAccount"`
			} `json:"event"`
			Strategy    string `json:"strategy"`
			Status      string `json:"status"`
			BlockHeight int64  `json:"blockHeight"`
			MerkleRoot  string `json:"merkleRoot"`
			Signatures  []struct {
				Signer string `json:"signer"`
			} `json:"signatures"`
		} `json:"witness"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected witness format")
	}
	w := resp.Witness

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Transaction %s: %s -> %s\n", w.Event.ID, w.Event.From, w.Event.To))
	sb.WriteString(fmt.Sprintf("Strategy: %s, status: %s\n", w.Strategy, w.Status))
	if w.BlockHeight > 0 {
		sb.WriteString(fmt.Sprintf("Block %d, root %s\n", w.BlockHeight, w.MerkleRoot))
	}
	for _, s := range w.Signatures {
		sb.WriteString(fmt.Sprintf("Signed by %s\n", s.Signer))
	}
	if resp.Verified {
		sb.WriteString("Verification: PASSED\n")
	} else {
		sb.WriteString("Verification: FAILED\n")
	}
	return sb.String(), nil
}

func formatBlockList(raw json.RawMessage) (string, error) {
	var resp struct {
		Blocks []map[string]any `json:"blocks"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected blocks response format")
	}
	if len(resp.Blocks) == 0 {
		return "No audit blocks sealed yet.", nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d block(s):\n\n", len(resp.Blocks)))
	for _, b := range resp.Blocks {
		height, _ := getFloat(b, "height")
		count, _ := getFloat(b, "transactionCount")
		sb.WriteString(fmt.Sprintf("#%d %s root=%s (%d tx)\n",
			int64(height), getString(b, "strategy"), getString(b, "merkleRoot"), int(count)))
	}
	return sb.String(), nil
}

func formatAssessmentList(raw json.RawMessage) (string, error) {
	var resp struct {
		Account     string           `json:"account"`
		Assessments []map[string]any `json:"assessments"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected assessments response format")
	}
	if len(resp.Assessments) == 0 {
		return fmt.Sprintf("No assessments recorded for %s.", resp.Account), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d assessment(s) for %s:\n\n", len(resp.Assessments), resp.Account))
	for i, a := range resp.Assessments {
		score, _ := getFloat(a, "score")
		sb.WriteString(fmt.Sprintf("%d. %s -> %s amount %s: %s (%.3f)\n",
			i+1, getString(a, "account"), getString(a, "counterparty"), getString(a, "amount"),
			getString(a, "decision"), score))
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
