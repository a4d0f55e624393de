package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"SkillRouter/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// erc20ABI covers the subset of the ERC-20 interface the router touches.
const erc20ABI = `[
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"}
]`

var (
	parsedERC20   abi.ABI
	parseABIOnce  sync.Once
	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

func erc20() abi.ABI {
	parseABIOnce.Do(func() {
		parsed, err := abi.JSON(strings.NewReader(erc20ABI))
		if err != nil {
			panic(fmt.Sprintf("parse erc20 abi: %v", err))
		}
		parsedERC20 = parsed
	})
	return parsedERC20
}

// Config describes how to construct an EVM compatible gateway.
type Config struct {
	Name         string
	RPCURL       string
	PollInterval time.Duration
	Notes        string
}

// Backend mirrors the subset of ethclient methods the gateway requires, so a
// non-networked backend can be substituted in tests.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*coretypes.Transaction, bool, error)
}

// Client implements the web3.Gateway interface for EVM compatible chains.
type Client struct {
	name         string
	notes        string
	rpcClient    *gethrpc.Client
	backend      Backend
	pollInterval time.Duration
	commit       func()

	mu      sync.Mutex
	chainID *big.Int
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use
// gateway.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &Client{
		name:         cfg.Name,
		notes:        cfg.Notes,
		rpcClient:    rpcClient,
		backend:      ethclient.NewClient(rpcClient),
		pollInterval: interval,
	}, nil
}

// NewWithBackend wraps an arbitrary backend, typically a simulated chain in
// tests. The optional commit callback is invoked after every submitted
// transaction and on every receipt poll so block production advances.
func NewWithBackend(name string, chainID *big.Int, backend Backend, commit func()) *Client {
	client := &Client{
		name:         name,
		backend:      backend,
		pollInterval: 50 * time.Millisecond,
		commit:       commit,
		notes:        "in-process backend",
	}
	if chainID != nil {
		client.chainID = new(big.Int).Set(chainID)
	}
	return client
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	if c == nil {
		return
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// TokenBalance reads the ERC-20 balance of owner in base units.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	contract := bind.NewBoundContract(token, erc20(), c.backend, c.backend, c.backend)

	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("查询代币余额失败: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("balanceOf 未返回结果")
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf 返回了意外的类型 %T", out[0])
	}
	return balance, nil
}

// TransferToken submits an ERC-20 transfer signed by the provided key. It
// returns as soon as the transaction is accepted by the node.
func (c *Client) TransferToken(ctx context.Context, token common.Address, key *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error) {
	if c == nil || c.backend == nil {
		return common.Hash{}, errors.New("未初始化的以太坊客户端")
	}
	if key == nil {
		return common.Hash{}, errors.New("未提供转账私钥")
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, errors.New("转账金额必须大于零")
	}

	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("构造交易签名器失败: %w", err)
	}
	opts.Context = ctx

	contract := bind.NewBoundContract(token, erc20(), c.backend, c.backend, c.backend)
	tx, err := contract.Transact(opts, "transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("发送代币转账失败: %w", err)
	}
	if c.commit != nil {
		c.commit()
	}
	return tx.Hash(), nil
}

// WaitForTransfer polls for the receipt of txHash until ctx expires and
// checks its logs for a Transfer of at least minAmount of token to the
// expected recipient.
func (c *Client) WaitForTransfer(ctx context.Context, txHash common.Hash, token, to common.Address, minAmount *big.Int) (*web3.TransferProof, error) {
	receipt, err := c.waitForReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}

	value, logFrom, ok := matchTransferLog(receipt.Logs, token, to, minAmount)
	if !ok {
		return nil, fmt.Errorf("交易 %s 中未找到符合条件的 Transfer 事件", txHash.Hex())
	}

	from := logFrom
	if sender, senderErr := c.transactionSender(ctx, txHash); senderErr == nil {
		from = sender
	}

	return &web3.TransferProof{From: from, To: to, Value: value}, nil
}

// HasReceipt reports whether a receipt for txHash is retrievable yet. A
// missing receipt is not an error.
func (c *Client) HasReceipt(ctx context.Context, txHash common.Hash) (bool, error) {
	if c == nil || c.backend == nil {
		return false, errors.New("未初始化的以太坊客户端")
	}
	receipt, err := c.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, gethcore.NotFound) {
			return false, nil
		}
		return false, fmt.Errorf("查询交易回执失败: %w", err)
	}
	return receipt != nil, nil
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	if c == nil || c.backend == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, gethcore.NotFound) {
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待交易 %s 确认超时: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
			if c.commit != nil {
				c.commit()
			}
		}
	}
}

func (c *Client) transactionSender(ctx context.Context, txHash common.Hash) (common.Address, error) {
	tx, _, err := c.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		return common.Address{}, err
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return coretypes.Sender(coretypes.LatestSignerForChainID(chainID), tx)
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	chainID, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = chainID
	return new(big.Int).Set(chainID), nil
}

// matchTransferLog scans receipt logs for an ERC-20 Transfer emitted by token
// that pays the recipient at least minAmount. It returns the transferred
// value and the from address recorded in the event.
func matchTransferLog(logs []*coretypes.Log, token, to common.Address, minAmount *big.Int) (*big.Int, common.Address, bool) {
	for _, entry := range logs {
		if entry == nil || entry.Address != token {
			continue
		}
		if len(entry.Topics) != 3 || entry.Topics[0] != transferTopic {
			continue
		}
		recipient := common.BytesToAddress(entry.Topics[2].Bytes())
		if recipient != to {
			continue
		}
		value := new(big.Int).SetBytes(entry.Data)
		if minAmount != nil && value.Cmp(minAmount) < 0 {
			continue
		}
		from := common.BytesToAddress(entry.Topics[1].Bytes())
		return value, from, true
	}
	return nil, common.Address{}, false
}

// ParseKey decodes an operator private key supplied via the environment,
// accepting an optional 0x prefix.
func ParseKey(raw string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "0x")
	if trimmed == "" {
		return nil, errors.New("私钥不能为空")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	return key, nil
}

var _ web3.Gateway = (*Client)(nil)
