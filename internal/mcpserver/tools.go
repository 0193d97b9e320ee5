package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the sentinel MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolAnalyzeTransaction = mcp.NewTool("analyze_transaction",
	mcp.WithDescription(
		"Score a payment for fraud risk. Runs seven detection layers (spending anomaly, impossible travel, "+
			"unknown beneficiary, velocity, structuring, amount deviation, odd hour) and returns a score in [0,1], "+
			"a decision (APPROVED, REVIEW, STEP_UP_AUTH, BLOCKED), the reasons and the recommended witness strategy. "+
			"Scoring is not side-effect free: it counts toward the sender's velocity window."),
	mcp.WithString("from_account",
		mcp.Required(),
		mcp.Description("Sender account id")),
	mcp.WithString("to_account",
		mcp.Required(),
		mcp.Description("Receiver account id")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in currency units (e.g. '9800' or '125.50')")),
	mcp.WithNumber("lat",
		mcp.Description("Latitude where the payment originated")),
	mcp.WithNumber("lon",
		mcp.Description("Longitude where the payment originated")),
	mcp.WithNumber("hour",
		mcp.Description("Hour of day 0-23; defaults to the server clock")),
)

var ToolSealPayment = mcp.NewTool("seal_payment",
	mcp.WithDescription(
		"Score a payment and, unless it is blocked, seal it into the tamper-evident audit ledger. "+
			"Low-risk payments are batched under a Merkle root, medium-risk payments get a timestamped "+
			"signature and high-risk payments a 2-of-3 multi-signature. Returns the transaction id to verify later."),
	mcp.WithString("from_account",
		mcp.Required(),
		mcp.Description("Paying account id")),
	mcp.WithString("to_account",
		mcp.Required(),
		mcp.Description("Receiving account id")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount in currency units")),
	mcp.WithNumber("lat",
		mcp.Description("Latitude where the payment originated")),
	mcp.WithNumber("lon",
		mcp.Description("Longitude where the payment originated")),
	mcp.WithNumber("hour",
		mcp.Description("Hour of day 0-23; defaults to the server clock")),
)

var ToolVerifyWitness = mcp.NewTool("verify_witness",
	mcp.WithDescription(
		"Look up the audit witness for a sealed transaction and re-verify its Merkle proof or signatures."),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("Transaction id returned by seal_payment (e.g. 'tx_...')")),
)

var ToolListAuditBlocks = mcp.NewTool("list_audit_blocks",
	mcp.WithDescription("List the most recent audit ledger blocks, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of blocks to return (default 10)")),
)

var ToolGetEngineHealth = mcp.NewTool("get_engine_health",
	mcp.WithDescription(
		"Check that the risk engine is up and report what it loaded: the anomaly model, "+
			"trust graph size, user profiles and pending audit events."),
)

var ToolGetEngineConfig = mcp.NewTool("get_engine_config",
	mcp.WithDescription("Show the layer weights, decision thresholds and model settings the engine scores with."),
)

var ToolListAssessments = mcp.NewTool("list_assessments",
	mcp.WithDescription("List recent risk assessments for an account, newest first."),
	mcp.WithString("account",
		mcp.Required(),
		mcp.Description("Account id to look up")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of assessments to return (default 20)")),
)
