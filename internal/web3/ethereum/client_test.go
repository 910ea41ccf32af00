package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type fakeBackend struct {
	gasErr error
}

func (fakeBackend) ChainID(context.Context) (*big.Int, error)   { return big.NewInt(1337), nil }
func (fakeBackend) BlockNumber(context.Context) (uint64, error) { return 255, nil }
func (f fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasErr != nil {
		return nil, f.gasErr
	}
	return big.NewInt(1_000_000_000), nil
}
func (fakeBackend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	if account == (common.Address{}) {
		return big.NewInt(0), nil
	}
	return big.NewInt(16), nil
}

func TestFetchChainSnapshot(t *testing.T) {
	client := NewClientWithBackend("local", "dev chain", fakeBackend{})
	snapshot, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" || snapshot.BlockNumber != "0xff" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot.GasPrice != "0x3b9aca00" {
		t.Fatalf("unexpected gas price %s", snapshot.GasPrice)
	}
	if snapshot.Chain != "local" || snapshot.Notes != "dev chain" {
		t.Fatalf("metadata not carried: %+v", snapshot)
	}
}

func TestFetchChainSnapshotToleratesGasPriceFailure(t *testing.T) {
	client := NewClientWithBackend("local", "", fakeBackend{gasErr: errors.New("unsupported")})
	snapshot, err := client.FetchChainSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.GasPrice != "" {
		t.Fatalf("expected empty gas price, got %s", snapshot.GasPrice)
	}
}

func TestBalanceOfValidatesAddress(t *testing.T) {
	client := NewClientWithBackend("local", "", fakeBackend{})
	if _, err := client.BalanceOf(context.Background(), "not-an-address"); err == nil {
		t.Fatal("expected invalid address error")
	}
	balance, err := client.BalanceOf(context.Background(), "0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != "0x10" {
		t.Fatalf("unexpected balance %s", balance)
	}
}
