package main

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/shadowswap/engine/params"
	"github.com/shadowswap/engine/pkg/enclave"
	"github.com/shadowswap/engine/pkg/util"
)

// The matcher is the enclave entrypoint. Mode selection follows the TEE
// runtime conventions: a protected dataset in the input directory means
// single-order mode, a JSON argument means batch mode, nothing means the
// capability document.
func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	dec, err := decryptorFromEnv()
	if err != nil {
		sugar.Fatalw("decryptor_init_failed", "err", err)
	}

	p := enclave.NewProcessor(dec, cfg.Matcher.OutputDir, sugar)

	switch {
	case cfg.Matcher.DatasetFilename != "":
		if dec == nil {
			sugar.Fatalw("missing_enclave_key", "hint", "single-order mode needs ENCLAVE_KEY")
		}
		datasetPath := filepath.Join(cfg.Matcher.InputDir, cfg.Matcher.DatasetFilename)
		datasetRef := os.Getenv("IEXEC_DATASET_ADDRESS")
		if datasetRef == "" {
			datasetRef = cfg.Matcher.DatasetFilename
		}
		sugar.Infow("mode_selected", "mode", "single-order", "dataset", datasetPath)
		if _, err := p.RunProtected(datasetPath, datasetRef); err != nil {
			sugar.Fatalw("run_failed", "mode", "single-order", "err", err)
		}

	case len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "":
		var input enclave.BatchInput
		if err := json.Unmarshal([]byte(os.Args[1]), &input); err != nil {
			sugar.Fatalw("invalid_batch_argument", "err", err)
		}
		sugar.Infow("mode_selected", "mode", "batch", "orders", len(input.Orders))
		if _, err := p.RunBatch(input); err != nil {
			sugar.Fatalw("run_failed", "mode", "batch", "err", err)
		}

	default:
		sugar.Infow("mode_selected", "mode", "info")
		if _, err := p.RunInfo(); err != nil {
			sugar.Fatalw("run_failed", "mode", "info", "err", err)
		}
	}
}

// decryptorFromEnv builds the dataset decryptor from ENCLAVE_KEY
// (hex-encoded 32-byte master key). Batch and info mode never decrypt,
// so a missing key only matters in single-order mode; the processor
// reports it as a rejection.
func decryptorFromEnv() (enclave.Decryptor, error) {
	keyHex := strings.TrimPrefix(os.Getenv("ENCLAVE_KEY"), "0x")
	if keyHex == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, err
	}
	return enclave.NewAESDecryptor(key)
}
