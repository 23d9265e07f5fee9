package enclave

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/shadowswap/engine/pkg/batch"
	"github.com/shadowswap/engine/pkg/order"
)

const (
	appName    = "ShadowSwap Order Processor"
	appVersion = "1.0.0"
)

// ProcessedOrder is the per-order outcome in the processor output.
type ProcessedOrder struct {
	Status     string `json:"status"` // "validated" | "rejected"
	Reason     string `json:"reason,omitempty"`
	OrderID    string `json:"orderId"`
	OrderType  string `json:"orderType,omitempty"`
	TokenIn    string `json:"tokenIn,omitempty"`
	TokenOut   string `json:"tokenOut,omitempty"`
	AmountIn   string `json:"amountIn,omitempty"`
	LimitPrice string `json:"limitPrice,omitempty"`
	Expiry     string `json:"expiry,omitempty"`
	Owner      string `json:"owner,omitempty"`
}

// Settlement is one pair's clearing instruction in the processor output.
type Settlement struct {
	Pair          string `json:"pair"`
	ClearingPrice string `json:"clearingPrice"`
	MatchedBuys   int    `json:"matchedBuys"`
	MatchedSells  int    `json:"matchedSells"`
	TotalVolume   string `json:"totalVolume"`
}

// Result is the deterministic output written to result.json.
type Result struct {
	AppName        string           `json:"appName"`
	Version        string           `json:"version"`
	Mode           string           `json:"mode"` // "single-order" | "batch" | "info"
	Timestamp      string           `json:"timestamp"`
	BatchID        uint64           `json:"batchId,omitempty"`
	TotalOrders    int              `json:"totalOrders,omitempty"`
	ValidOrders    int              `json:"validOrders,omitempty"`
	RejectedOrders int              `json:"rejectedOrders,omitempty"`
	Order          *ProcessedOrder  `json:"order,omitempty"`
	Orders         []ProcessedOrder `json:"orders,omitempty"`
	Settlements    []Settlement     `json:"settlements,omitempty"`
	Error          string           `json:"error,omitempty"`
}

// BatchInput is the batch-mode argument payload: plaintext orders already
// inside the trust boundary, plus the window they belong to.
type BatchInput struct {
	BatchID uint64      `json:"batchId"`
	Orders  []order.Raw `json:"orders"`
}

// Processor drives one enclave run: read protected input, validate,
// match, emit results. Per-order failures never abort the run; the only
// fatal errors are I/O on the output directory.
type Processor struct {
	dec    Decryptor
	log    *zap.SugaredLogger
	now    func() time.Time
	outDir string
}

func NewProcessor(dec Decryptor, outDir string, log *zap.SugaredLogger) *Processor {
	return &Processor{dec: dec, log: log, now: time.Now, outDir: outDir}
}

// RunProtected processes a single sealed order from the protected dataset
// file, the DataProtector path.
func (p *Processor) RunProtected(datasetPath, datasetRef string) (Result, error) {
	result := Result{
		AppName:   appName,
		Version:   appVersion,
		Mode:      "single-order",
		Timestamp: p.now().UTC().Format(time.RFC3339),
	}

	sealed, err := os.ReadFile(datasetPath)
	if err != nil {
		return Result{}, fmt.Errorf("read protected data: %w", err)
	}

	processed := p.processSealed(sealed, datasetRef)
	result.Order = &processed

	return result, p.writeOutput(result)
}

// RunBatch validates a batch of plaintext orders and matches them at the
// uniform clearing price.
func (p *Processor) RunBatch(input BatchInput) (Result, error) {
	result := Result{
		AppName:     appName,
		Version:     appVersion,
		Mode:        "batch",
		Timestamp:   p.now().UTC().Format(time.RFC3339),
		BatchID:     input.BatchID,
		TotalOrders: len(input.Orders),
	}

	b := batch.New(input.BatchID, time.Time{}, p.now())
	for _, raw := range input.Orders {
		processed, validated, ok := p.processRaw(raw)
		result.Orders = append(result.Orders, processed)
		if ok {
			b.Add(validated)
			result.ValidOrders++
		} else {
			result.RejectedOrders++
		}
	}

	for _, r := range b.Match() {
		result.Settlements = append(result.Settlements, Settlement{
			Pair:          r.Pair.String(),
			ClearingPrice: r.ClearingPrice.String(),
			MatchedBuys:   r.MatchedBuyCount,
			MatchedSells:  r.MatchedSellCount,
			TotalVolume:   r.TotalVolume.String(),
		})
	}

	p.log.Infow("batch_processed",
		"batch_id", input.BatchID,
		"total", result.TotalOrders,
		"valid", result.ValidOrders,
		"rejected", result.RejectedOrders,
		"settlements", len(result.Settlements))

	return result, p.writeOutput(result)
}

// RunInfo emits the capability document when no input was provided.
func (p *Processor) RunInfo() (Result, error) {
	result := Result{
		AppName:   appName,
		Version:   appVersion,
		Mode:      "info",
		Timestamp: p.now().UTC().Format(time.RFC3339),
	}
	return result, p.writeOutput(result)
}

func (p *Processor) processSealed(sealed []byte, datasetRef string) ProcessedOrder {
	raw, err := p.dec.Decrypt(sealed, datasetRef)
	if err != nil {
		p.log.Warnw("decrypt_failed", "dataset", datasetRef, "err", err)
		return ProcessedOrder{Status: "rejected", Reason: "decrypt failed: " + err.Error(), OrderID: "unknown"}
	}
	processed, _, _ := p.processRaw(raw)
	return processed
}

func (p *Processor) processRaw(raw order.Raw) (ProcessedOrder, order.Order, bool) {
	o, err := order.Validate(raw, p.now())
	if err != nil {
		reason := err.Error()
		if re, ok := err.(*order.RejectError); ok {
			reason = re.Reason
		}
		p.log.Infow("order_rejected", "reason", reason)

		id := raw.Nonce
		if id == "" {
			id = "unknown"
		}
		return ProcessedOrder{Status: "rejected", Reason: reason, OrderID: id}, order.Order{}, false
	}

	processed := ProcessedOrder{
		Status:    "validated",
		OrderID:   o.ID.Hex(),
		OrderType: o.Kind.String(),
		TokenIn:   o.TokenIn.Hex(),
		TokenOut:  o.TokenOut.Hex(),
		AmountIn:  o.AmountIn.String(),
		Owner:     o.Owner.Hex(),
	}
	if o.Kind == order.Limit {
		processed.LimitPrice = o.LimitPrice.String()
		processed.Expiry = fmt.Sprintf("%d", o.Expiry)
	}
	return processed, o, true
}

// writeOutput writes result.json plus the computed.json pointer the
// enclave callback expects.
func (p *Processor) writeOutput(result Result) error {
	if err := os.MkdirAll(p.outDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	resultPath := filepath.Join(p.outDir, "result.json")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := os.WriteFile(resultPath, data, 0644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	computed, err := json.Marshal(map[string]string{"deterministic-output-path": resultPath})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(p.outDir, "computed.json"), computed, 0644); err != nil {
		return fmt.Errorf("write computed.json: %w", err)
	}

	p.log.Infow("result_written", "path", resultPath)
	return nil
}
