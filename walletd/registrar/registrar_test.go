package registrar

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/custodia/walletd/walletd/chain"
	dbtest "github.com/custodia/walletd/walletd/db/testing"
	"github.com/custodia/walletd/walletd/notifier"
	"github.com/custodia/walletd/walletd/types"
	"github.com/custodia/walletd/walletd/wallet"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "test test test test test test test test test test test junk"

type fakeVerifier struct {
	tx       *gethTypes.Transaction
	pending  bool
	txErr    error
	receipt  *gethTypes.Receipt
	rcptErr  error
	symbol   string
	decimals uint8
	name     string
}

func (f *fakeVerifier) TransactionByHash(_ context.Context, _ common.Hash) (*gethTypes.Transaction, bool, error) {
	return f.tx, f.pending, f.txErr
}

func (f *fakeVerifier) TransactionReceipt(_ context.Context, _ common.Hash) (*gethTypes.Receipt, error) {
	return f.receipt, f.rcptErr
}

func (f *fakeVerifier) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if f.symbol == "" {
		return nil, errors.New("execution reverted")
	}
	stringType, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}
	uint8Type, err := abi.NewType("uint8", "", nil)
	if err != nil {
		return nil, err
	}
	switch {
	case len(msg.Data) >= 4 && string(msg.Data[:4]) == string(crypto.Keccak256([]byte("symbol()"))[:4]):
		return abi.Arguments{{Type: stringType}}.Pack(f.symbol)
	case len(msg.Data) >= 4 && string(msg.Data[:4]) == string(crypto.Keccak256([]byte("name()"))[:4]):
		return abi.Arguments{{Type: stringType}}.Pack(f.name)
	case len(msg.Data) >= 4 && string(msg.Data[:4]) == string(crypto.Keccak256([]byte("decimals()"))[:4]):
		return abi.Arguments{{Type: uint8Type}}.Pack(f.decimals)
	}
	return nil, errors.New("unexpected call")
}

type fakeFaucet struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeFaucet) Fund(_ context.Context, _ common.Address) (common.Hash, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return common.HexToHash("0xfa"), f.err
}

func (f *fakeFaucet) fundCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type webhookRecorder struct {
	mu     sync.Mutex
	events []map[string]interface{}
}

func (w *webhookRecorder) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	w.mu.Lock()
	w.events = append(w.events, payload)
	w.mu.Unlock()
	rw.WriteHeader(http.StatusOK)
}

func (w *webhookRecorder) byEvent(event string) []map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []map[string]interface{}
	for _, ev := range w.events {
		if ev["event"] == event {
			out = append(out, ev)
		}
	}
	return out
}

func setupRegistrar(t *testing.T, client ChainClient) (*Service, *fakeFaucet, *webhookRecorder, string) {
	database := dbtest.SetupDB(t)
	hdWallet, err := wallet.New(testMnemonic)
	require.NoError(t, err)
	hooks := &webhookRecorder{}
	hookSrv := httptest.NewServer(hooks)
	t.Cleanup(hookSrv.Close)
	faucet := &fakeFaucet{}
	srv := NewService(context.Background(), &Config{
		Database: database,
		Wallet:   hdWallet,
		Client:   client,
		Faucet:   faucet,
		Notifier: notifier.New(""),
	})
	return srv, faucet, hooks, hookSrv.URL
}

func TestDerivationIndex_StableAndInRange(t *testing.T) {
	ids := []string{"user_1", "user_2", "", "a", strings.Repeat("x", 512)}
	for _, id := range ids {
		index := DerivationIndex(id)
		assert.Less(t, uint64(index), uint64(1)<<31)
		assert.Equal(t, index, DerivationIndex(id), "index must be stable for %q", id)
	}
	assert.NotEqual(t, DerivationIndex("user_1"), DerivationIndex("user_2"))
}

func TestRegister_Idempotent(t *testing.T) {
	srv, faucet, hooks, hookURL := setupRegistrar(t, &fakeVerifier{})
	ctx := context.Background()

	first, err := srv.Register(ctx, "user_1", hookURL)
	require.NoError(t, err)
	require.NotEmpty(t, first.Address)

	require.Eventually(t, func() bool {
		return len(hooks.byEvent(notifier.EventFaucetFunding)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	events := hooks.byEvent(notifier.EventFaucetFunding)
	assert.Equal(t, first.Address, events[0]["account_id"])
	assert.Equal(t, "user_1", events[0]["registration_id"])
	assert.Equal(t, "user_1:funding", events[0]["id"])
	assert.Equal(t, true, events[0]["success"])

	// Re-registering, even with a new webhook URL, returns the same
	// address and keeps the first URL authoritative.
	second, err := srv.Register(ctx, "user_1", "http://somewhere.else/hook")
	require.NoError(t, err)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, faucet.fundCalls(), "re-register must not fund again")

	acct, err := srv.cfg.Database.LookupByID(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, acct)
	assert.Equal(t, hookURL, acct.WebhookURL)

	// Address reverse index round trip.
	id, err := srv.cfg.Database.LookupByAddress(ctx, strings.ToUpper(acct.Address))
	require.NoError(t, err)
	assert.Equal(t, "user_1", id)
}

func TestRegister_MatchesWalletDerivation(t *testing.T) {
	srv, _, _, hookURL := setupRegistrar(t, &fakeVerifier{})
	ctx := context.Background()

	result, err := srv.Register(ctx, "user_1", hookURL)
	require.NoError(t, err)

	want, err := srv.cfg.Wallet.DeriveAddress(DerivationIndex("user_1"))
	require.NoError(t, err)
	assert.Equal(t, want.Hex(), result.Address)
}

func TestRegister_FundingFailureReportedOnWebhook(t *testing.T) {
	srv, faucet, hooks, hookURL := setupRegistrar(t, &fakeVerifier{})
	faucet.err = errors.New("faucet balance below existential deposit")
	ctx := context.Background()

	// Registration itself must not fail for funding.
	_, err := srv.Register(ctx, "user_1", hookURL)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(hooks.byEvent(notifier.EventFaucetFunding)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	events := hooks.byEvent(notifier.EventFaucetFunding)
	assert.Equal(t, false, events[0]["success"])
	assert.Contains(t, events[0]["error"], "existential deposit")
}

func nativeTx(to common.Address, value *big.Int) *gethTypes.Transaction {
	return gethTypes.NewTx(&gethTypes.DynamicFeeTx{
		Nonce: 0,
		Gas:   21000,
		To:    &to,
		Value: value,
	})
}

func TestVerifyTransfer_NativeSuccess(t *testing.T) {
	to := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	client := &fakeVerifier{
		tx:      nativeTx(to, big.NewInt(2000)),
		receipt: &gethTypes.Receipt{Status: gethTypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12)},
	}
	srv, _, _, _ := setupRegistrar(t, client)

	resp := srv.VerifyTransfer(context.Background(), &VerifyTransferRequest{
		TxHash:    "0x01",
		ToAddress: strings.ToLower(to.Hex()),
		Amount:    "1500",
		TokenType: types.TokenTypeNative,
	})
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, to.Hex(), resp.ActualTo)
	assert.Equal(t, "2000", resp.ActualAmount)
	assert.Equal(t, types.TokenTypeNative, resp.TokenType)
	assert.Equal(t, uint64(12), resp.BlockNumber)
}

func TestVerifyTransfer_NativeAmountBelowExpected(t *testing.T) {
	to := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	client := &fakeVerifier{
		tx:      nativeTx(to, big.NewInt(100)),
		receipt: &gethTypes.Receipt{Status: gethTypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(12)},
	}
	srv, _, _, _ := setupRegistrar(t, client)

	resp := srv.VerifyTransfer(context.Background(), &VerifyTransferRequest{
		TxHash:    "0x01",
		ToAddress: to.Hex(),
		Amount:    "1500",
		TokenType: types.TokenTypeNative,
	})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "below expected")
}

func TestVerifyTransfer_Reverted(t *testing.T) {
	to := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	client := &fakeVerifier{
		tx:      nativeTx(to, big.NewInt(2000)),
		receipt: &gethTypes.Receipt{Status: gethTypes.ReceiptStatusFailed, BlockNumber: big.NewInt(12)},
	}
	srv, _, _, _ := setupRegistrar(t, client)

	resp := srv.VerifyTransfer(context.Background(), &VerifyTransferRequest{
		TxHash:    "0x01",
		ToAddress: to.Hex(),
		Amount:    "2000",
		TokenType: types.TokenTypeNative,
	})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "reverted")
	assert.Equal(t, uint64(12), resp.BlockNumber)
}

func transferLog(token, from, to common.Address, amount *big.Int) *gethTypes.Log {
	return &gethTypes.Log{
		Address: token,
		Topics: []common.Hash{
			chain.TransferTopic,
			common.BytesToHash(common.LeftPadBytes(from.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(to.Bytes(), 32)),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestVerifyTransfer_Erc20Success(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	from := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	to := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	client := &fakeVerifier{
		tx: nativeTx(token, big.NewInt(0)),
		receipt: &gethTypes.Receipt{
			Status:      gethTypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(34),
			Logs:        []*gethTypes.Log{transferLog(token, from, to, big.NewInt(1000000))},
		},
		symbol:   "USDT",
		decimals: 6,
		name:     "Tether USD",
	}
	srv, _, _, _ := setupRegistrar(t, client)

	resp := srv.VerifyTransfer(context.Background(), &VerifyTransferRequest{
		TxHash:       "0x01",
		ToAddress:    to.Hex(),
		Amount:       "1000000",
		TokenType:    types.TokenTypeErc20,
		TokenAddress: token.Hex(),
		TokenSymbol:  "usdt",
	})
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, to.Hex(), resp.ActualTo)
	assert.Equal(t, "1000000", resp.ActualAmount)
	assert.Equal(t, "USDT", resp.TokenSymbol)
	assert.Equal(t, uint64(34), resp.BlockNumber)
}

func TestVerifyTransfer_Erc20SymbolMismatch(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	from := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	to := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	client := &fakeVerifier{
		tx: nativeTx(token, big.NewInt(0)),
		receipt: &gethTypes.Receipt{
			Status:      gethTypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(34),
			Logs:        []*gethTypes.Log{transferLog(token, from, to, big.NewInt(1000000))},
		},
		symbol:   "WETH",
		decimals: 18,
		name:     "Wrapped Ether",
	}
	srv, _, _, _ := setupRegistrar(t, client)

	resp := srv.VerifyTransfer(context.Background(), &VerifyTransferRequest{
		TxHash:       "0x01",
		ToAddress:    to.Hex(),
		Amount:       "1000000",
		TokenType:    types.TokenTypeErc20,
		TokenAddress: token.Hex(),
		TokenSymbol:  "USDT",
	})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "symbol mismatch")
}

func TestVerifyTransfer_Erc20NoMatchingLog(t *testing.T) {
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	from := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	to := common.HexToAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	client := &fakeVerifier{
		tx: nativeTx(token, big.NewInt(0)),
		receipt: &gethTypes.Receipt{
			Status:      gethTypes.ReceiptStatusSuccessful,
			BlockNumber: big.NewInt(34),
			Logs:        []*gethTypes.Log{transferLog(other, from, to, big.NewInt(1000000))},
		},
	}
	srv, _, _, _ := setupRegistrar(t, client)

	resp := srv.VerifyTransfer(context.Background(), &VerifyTransferRequest{
		TxHash:       "0x01",
		ToAddress:    to.Hex(),
		Amount:       "1000000",
		TokenType:    types.TokenTypeErc20,
		TokenAddress: token.Hex(),
	})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "no matching transfer")
}

func TestVerifyTransfer_PendingTransaction(t *testing.T) {
	client := &fakeVerifier{
		tx:      nativeTx(common.Address{}, big.NewInt(1)),
		pending: true,
	}
	srv, _, _, _ := setupRegistrar(t, client)

	resp := srv.VerifyTransfer(context.Background(), &VerifyTransferRequest{
		TxHash:    "0x01",
		ToAddress: common.Address{}.Hex(),
		Amount:    "1",
		TokenType: types.TokenTypeNative,
	})
	assert.Equal(t, "error", resp.Status)
	assert.Contains(t, resp.Message, "pending")
}
