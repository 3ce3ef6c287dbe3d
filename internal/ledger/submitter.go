package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signalrelay/internal/config"
)

// ExecutionSchemaVersion is the event schema the relay records; version 2
// events carry the plan hash alongside the intent hash.
const ExecutionSchemaVersion = 2

// AnchorResult is the uniform shape both the real and simulated anchor paths
// produce. Verified is true only on the simulated path, where there is no
// chain to read back from.
type AnchorResult struct {
	TxHash   string
	Seq      uint64
	Verified bool
}

// ExecResult is the outcome of an execution submission. Simulated results
// carry a deterministic pseudo tx hash derived from the intent hash.
type ExecResult struct {
	TxHash    string
	Simulated bool
}

// Submitter decides real-vs-simulated submission once, at construction, from
// configuration. Pipelines hold the strategy and never re-check credentials
// per call.
type Submitter struct {
	client      Client
	logger      *zap.Logger
	submitReal  bool
	executeReal bool
}

func NewSubmitter(cfg config.LedgerConfig, client Client, logger *zap.Logger) *Submitter {
	credentialed := cfg.PrivateKey != "" && cfg.ModuleAddress != "" && client != nil
	s := &Submitter{
		client:      client,
		logger:      logger,
		submitReal:  cfg.SubmitEnabled && credentialed,
		executeReal: cfg.ExecuteEnabled && credentialed,
	}
	if logger != nil {
		logger.Info("ledger submitter configured",
			zap.Bool("anchor_onchain", s.submitReal),
			zap.Bool("execution_onchain", s.executeReal))
	}
	return s
}

// SubmitAnchor commits payloadHash for the trader, or simulates it. The
// returned Seq is the ledger-assigned ordinal (next-sequence minus one) on
// the real path, or locally derived from lastKnownSeq on the simulated path.
func (s *Submitter) SubmitAnchor(ctx context.Context, traderAddress string, lastKnownSeq uint64, payloadHash string) (AnchorResult, error) {
	if !s.submitReal {
		return AnchorResult{
			TxHash:   "0xSIM" + strings.ReplaceAll(uuid.NewString(), "-", ""),
			Seq:      lastKnownSeq + 1,
			Verified: true,
		}, nil
	}

	raw, err := decodeHash(payloadHash)
	if err != nil {
		return AnchorResult{}, err
	}
	txHash, err := s.client.SubmitAnchor(ctx, traderAddress, raw)
	if err != nil {
		return AnchorResult{}, err
	}
	seq := lastKnownSeq + 1
	if nextSeq, err := s.client.NextSequence(ctx, traderAddress); err == nil && nextSeq > 0 {
		seq = nextSeq - 1
	} else if err != nil && s.logger != nil {
		s.logger.Warn("next sequence read failed after anchor",
			zap.String("trader_address", traderAddress), zap.Error(err))
	}
	return AnchorResult{TxHash: txHash, Seq: seq}, nil
}

// SubmitExecution records the execution attestation, or derives the
// deterministic pseudo tx when execution is simulated.
func (s *Submitter) SubmitExecution(ctx context.Context, intentHash, planHash string, followerCount int) (ExecResult, error) {
	if !s.executeReal {
		return ExecResult{TxHash: SimulatedExecutionTx(intentHash), Simulated: true}, nil
	}

	intentRaw, err := decodeHash(intentHash)
	if err != nil {
		return ExecResult{}, err
	}
	planRaw, err := decodeHash(planHash)
	if err != nil {
		return ExecResult{}, err
	}
	txHash, err := s.client.SubmitExecution(ctx, intentRaw, planRaw, uint64(followerCount), ExecutionSchemaVersion)
	if err != nil {
		return ExecResult{}, err
	}
	return ExecResult{TxHash: txHash}, nil
}

// SimulatedExecutionTx is the deterministic pseudo tx hash for a simulated
// execution of intentHash.
func SimulatedExecutionTx(intentHash string) string {
	h := strings.TrimPrefix(NormalizeHex(intentHash), "0x")
	if len(h) > 24 {
		h = h[:24]
	}
	return "0xSIM_" + h
}

func decodeHash(h string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(NormalizeHex(h), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode hash %q: %w", h, err)
	}
	return raw, nil
}
