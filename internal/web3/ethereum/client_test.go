package ethereum

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	testToken     = common.HexToAddress("0xdE9e4C3ce781b4bA68120d6261cbad65ce0aB00b")
	testRecipient = common.HexToAddress("0xEE8b59794Ee3A6aeeCE9aa09a118bB6ba1029e3c")
	testSender    = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func transferLog(token common.Address, from, to common.Address, value *big.Int) *coretypes.Log {
	return &coretypes.Log{
		Address: token,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(value.Bytes(), 32),
	}
}

func TestMatchTransferLog(t *testing.T) {
	amount := new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	logs := []*coretypes.Log{
		// Unrelated contract emitting the same topic.
		transferLog(common.HexToAddress("0x2222222222222222222222222222222222222222"), testSender, testRecipient, amount),
		// Right token, wrong recipient.
		transferLog(testToken, testSender, testSender, amount),
		// The matching transfer.
		transferLog(testToken, testSender, testRecipient, amount),
	}

	value, from, ok := matchTransferLog(logs, testToken, testRecipient, amount)
	if !ok {
		t.Fatal("expected a matching transfer log")
	}
	if value.Cmp(amount) != 0 {
		t.Fatalf("unexpected value: got %s want %s", value, amount)
	}
	if from != testSender {
		t.Fatalf("unexpected from address: %s", from.Hex())
	}
}

func TestMatchTransferLogRejectsSmallAmount(t *testing.T) {
	paid := big.NewInt(1)
	required := big.NewInt(2)

	logs := []*coretypes.Log{transferLog(testToken, testSender, testRecipient, paid)}
	if _, _, ok := matchTransferLog(logs, testToken, testRecipient, required); ok {
		t.Fatal("expected transfer below the required amount to be rejected")
	}
}

func TestMatchTransferLogIgnoresMalformedTopics(t *testing.T) {
	malformed := &coretypes.Log{
		Address: testToken,
		Topics:  []common.Hash{transferTopic},
		Data:    common.LeftPadBytes(big.NewInt(10).Bytes(), 32),
	}
	if _, _, ok := matchTransferLog([]*coretypes.Log{malformed}, testToken, testRecipient, big.NewInt(1)); ok {
		t.Fatal("expected log with missing indexed topics to be skipped")
	}
}

func TestTransferCalldataEncoding(t *testing.T) {
	amount := big.NewInt(42)
	packed, err := erc20().Pack("transfer", testRecipient, amount)
	if err != nil {
		t.Fatalf("pack transfer: %v", err)
	}
	// 4-byte selector for transfer(address,uint256).
	if got := hex.EncodeToString(packed[:4]); got != "a9059cbb" {
		t.Fatalf("unexpected selector %s", got)
	}
	if len(packed) != 4+32+32 {
		t.Fatalf("unexpected calldata length %d", len(packed))
	}
}

func TestParseKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	raw := hex.EncodeToString(crypto.FromECDSA(key))

	for _, input := range []string{raw, "0x" + raw, "  " + raw + " "} {
		parsed, err := ParseKey(input)
		if err != nil {
			t.Fatalf("parse key %q: %v", input, err)
		}
		if crypto.PubkeyToAddress(parsed.PublicKey) != crypto.PubkeyToAddress(key.PublicKey) {
			t.Fatal("parsed key does not match original")
		}
	}

	if _, err := ParseKey(""); err == nil {
		t.Fatal("expected empty key to be rejected")
	}
	if _, err := ParseKey("not-a-key"); err == nil {
		t.Fatal("expected malformed key to be rejected")
	}
}
