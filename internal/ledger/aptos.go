package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/aptos-labs/aptos-go-sdk"
	"github.com/aptos-labs/aptos-go-sdk/api"
	"github.com/aptos-labs/aptos-go-sdk/bcs"
	"github.com/aptos-labs/aptos-go-sdk/crypto"
	"go.uber.org/zap"

	"signalrelay/internal/config"
)

const moduleName = "registry"

// AptosClient implements Client against an Aptos fullnode. Per-call network
// timeouts are the SDK's concern; context cancellation between submissions is
// handled by the pipeline loops.
type AptosClient struct {
	client        *aptos.Client
	moduleAddress aptos.AccountAddress
	signer        *aptos.Account
	logger        *zap.Logger
}

func NewAptosClient(cfg config.LedgerConfig, logger *zap.Logger) (*AptosClient, error) {
	network := networkFor(cfg)
	client, err := aptos.NewClient(network)
	if err != nil {
		return nil, fmt.Errorf("ledger client: %w", err)
	}

	c := &AptosClient{client: client, logger: logger}

	if cfg.ModuleAddress != "" {
		if err := c.moduleAddress.ParseStringRelaxed(cfg.ModuleAddress); err != nil {
			return nil, fmt.Errorf("parse module address: %w", err)
		}
	}
	if cfg.PrivateKey != "" {
		key := &crypto.Ed25519PrivateKey{}
		if err := key.FromHex(cfg.PrivateKey); err != nil {
			return nil, fmt.Errorf("parse relay private key: %w", err)
		}
		signer, err := aptos.NewAccountFromSigner(key)
		if err != nil {
			return nil, fmt.Errorf("derive relay account: %w", err)
		}
		c.signer = signer
	}
	return c, nil
}

func networkFor(cfg config.LedgerConfig) aptos.NetworkConfig {
	var network aptos.NetworkConfig
	switch cfg.Network {
	case "mainnet":
		network = aptos.MainnetConfig
	case "devnet":
		network = aptos.DevnetConfig
	case "localnet":
		network = aptos.LocalnetConfig
	default:
		network = aptos.TestnetConfig
	}
	if cfg.NodeURL != "" {
		network.NodeUrl = cfg.NodeURL
	}
	return network
}

// ModuleAccount is the account whose transactions the reconciliation engine
// scans: the relay submits under the module address.
func (c *AptosClient) ModuleAccount() string {
	return c.moduleAddress.String()
}

func (c *AptosClient) NextSequence(ctx context.Context, address string) (uint64, error) {
	data, err := c.resourceData(address, c.moduleAddress.String()+"::"+moduleName+"::Trader")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return numberField(data, "next_signal_seq"), nil
}

func (c *AptosClient) LastAnchor(ctx context.Context, address string) (AnchorMetadata, error) {
	data, err := c.resourceData(address, c.moduleAddress.String()+"::"+moduleName+"::LastAnchor")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AnchorMetadata{}, nil
		}
		return AnchorMetadata{}, err
	}
	meta := AnchorMetadata{
		Exists:        true,
		LastSeq:       numberField(data, "last_seq"),
		LastTimestamp: numberField(data, "last_ts"),
	}
	if hash, ok := HashField(data, "last_hash"); ok {
		meta.LastHash = hash
	}
	return meta, nil
}

func (c *AptosClient) TransactionByHash(ctx context.Context, txHash string) (*Transaction, error) {
	txn, err := c.client.TransactionByHash(txHash)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("transaction by hash: %w", err)
	}
	userTxn, err := txn.UserTransaction()
	if err != nil {
		// Pending or non-user transaction: not observable yet.
		return nil, ErrNotFound
	}
	out := convertTransaction(userTxn)
	return &out, nil
}

func (c *AptosClient) AccountTransactions(ctx context.Context, address string, limit int) ([]Transaction, error) {
	var addr aptos.AccountAddress
	if err := addr.ParseStringRelaxed(address); err != nil {
		return nil, fmt.Errorf("parse account address: %w", err)
	}
	limit64 := uint64(limit)
	txns, err := c.client.AccountTransactions(addr, nil, &limit64)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("account transactions: %w", err)
	}
	out := make([]Transaction, 0, len(txns))
	for _, txn := range txns {
		userTxn, err := txn.UserTransaction()
		if err != nil {
			continue
		}
		out = append(out, convertTransaction(userTxn))
	}
	return out, nil
}

func (c *AptosClient) SubmitAnchor(ctx context.Context, traderAddress string, payloadHash []byte) (string, error) {
	if c.signer == nil {
		return "", errors.New("ledger: relay signer not configured")
	}
	var traderAddr aptos.AccountAddress
	if err := traderAddr.ParseStringRelaxed(traderAddress); err != nil {
		return "", fmt.Errorf("parse trader address: %w", err)
	}
	addrArg, err := bcs.Serialize(&traderAddr)
	if err != nil {
		return "", err
	}
	hashArg, err := bcs.SerializeBytes(payloadHash)
	if err != nil {
		return "", err
	}
	return c.submitEntry("anchor_signal_relay", [][]byte{addrArg, hashArg})
}

func (c *AptosClient) SubmitExecution(ctx context.Context, intentHash, planHash []byte, followerCount, schemaVersion uint64) (string, error) {
	if c.signer == nil {
		return "", errors.New("ledger: relay signer not configured")
	}
	intentArg, err := bcs.SerializeBytes(intentHash)
	if err != nil {
		return "", err
	}
	planArg, err := bcs.SerializeBytes(planHash)
	if err != nil {
		return "", err
	}
	countArg, err := bcs.SerializeU64(followerCount)
	if err != nil {
		return "", err
	}
	versionArg, err := bcs.SerializeU64(schemaVersion)
	if err != nil {
		return "", err
	}
	return c.submitEntry("record_execution", [][]byte{intentArg, planArg, countArg, versionArg})
}

// submitEntry signs, submits and waits for finality. The submitted hash is
// returned even when the wait reports failure so callers can retry lookups.
func (c *AptosClient) submitEntry(function string, args [][]byte) (string, error) {
	payload := aptos.TransactionPayload{Payload: &aptos.EntryFunction{
		Module:   aptos.ModuleId{Address: c.moduleAddress, Name: moduleName},
		Function: function,
		ArgTypes: []aptos.TypeTag{},
		Args:     args,
	}}
	resp, err := c.client.BuildSignAndSubmitTransaction(c.signer, payload)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", function, err)
	}
	userTxn, err := c.client.WaitForTransaction(resp.Hash)
	if err != nil {
		return "", fmt.Errorf("wait for %s finality: %w", function, err)
	}
	if !userTxn.Success {
		return "", fmt.Errorf("ledger: %s aborted: %s", function, userTxn.VmStatus)
	}
	return resp.Hash, nil
}

func (c *AptosClient) resourceData(address, resourceType string) (map[string]any, error) {
	var addr aptos.AccountAddress
	if err := addr.ParseStringRelaxed(address); err != nil {
		return nil, fmt.Errorf("parse account address: %w", err)
	}
	res, err := c.client.AccountResource(addr, resourceType)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("account resource %s: %w", resourceType, err)
	}
	if data, ok := res["data"].(map[string]any); ok {
		return data, nil
	}
	return res, nil
}

func convertTransaction(txn *api.UserTransaction) Transaction {
	out := Transaction{
		Version: txn.Version,
		Hash:    txn.Hash,
		Events:  make([]Event, 0, len(txn.Events)),
	}
	for _, ev := range txn.Events {
		if ev == nil {
			continue
		}
		out.Events = append(out.Events, Event{Type: ev.Type, Data: ev.Data})
	}
	return out
}

func isNotFound(err error) bool {
	var httpErr *aptos.HttpError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusNotFound
	}
	return false
}

// numberField reads a u64-ish resource field; fullnodes encode u64 as a JSON
// string.
func numberField(data map[string]any, key string) uint64 {
	switch t := data[key].(type) {
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			return 0
		}
		return n
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case json.Number:
		n, err := strconv.ParseUint(t.String(), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}
