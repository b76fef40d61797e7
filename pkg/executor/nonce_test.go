package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var testWallet = common.HexToAddress("0x1111111111111111111111111111111111111111")

// seededNonceManager bypasses the chain fetch by pre-populating state.
func seededNonceManager(chainID uint64, next uint64) *NonceManager {
	m := NewNonceManager(nil)
	key := nonceKey(chainID, testWallet)
	m.next[key] = next
	m.pending[key] = make(map[uint64]bool)
	return m
}

func TestNonceReserveIsSequential(t *testing.T) {
	m := seededNonceManager(1, 7)

	for want := uint64(7); want < 12; want++ {
		got, err := m.Reserve(context.Background(), 1, testWallet)
		if err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if got != want {
			t.Errorf("nonce = %d, want %d", got, want)
		}
	}
	if n := m.Outstanding(1, testWallet); n != 5 {
		t.Errorf("outstanding = %d, want 5", n)
	}
}

func TestNonceCompleteShrinksPending(t *testing.T) {
	m := seededNonceManager(1, 0)

	n1, _ := m.Reserve(context.Background(), 1, testWallet)
	n2, _ := m.Reserve(context.Background(), 1, testWallet)

	m.Complete(1, testWallet, n1)
	if n := m.Outstanding(1, testWallet); n != 1 {
		t.Errorf("outstanding = %d, want 1", n)
	}
	m.Complete(1, testWallet, n2)
	if n := m.Outstanding(1, testWallet); n != 0 {
		t.Errorf("outstanding = %d, want 0", n)
	}
}

func TestNonceReleaseRollsBackUnsent(t *testing.T) {
	m := seededNonceManager(1, 7)

	n, _ := m.Reserve(context.Background(), 1, testWallet)
	if n != 7 {
		t.Fatalf("nonce = %d, want 7", n)
	}
	// The transaction never reached the chain; releasing must not
	// leave a gap that strands every later broadcast.
	m.Release(1, testWallet, n)
	if got := m.Outstanding(1, testWallet); got != 0 {
		t.Errorf("outstanding = %d, want 0", got)
	}
	again, _ := m.Reserve(context.Background(), 1, testWallet)
	if again != 7 {
		t.Errorf("nonce after release = %d, want 7 again", again)
	}
}

func TestNonceReleaseOfOlderNonceKeepsCounter(t *testing.T) {
	m := seededNonceManager(1, 7)

	n1, _ := m.Reserve(context.Background(), 1, testWallet) // 7
	n2, _ := m.Reserve(context.Background(), 1, testWallet) // 8

	// 7 is no longer the newest reservation; only the pending entry
	// clears, the counter stays so 8 is not reissued.
	m.Release(1, testWallet, n1)
	if got := m.Outstanding(1, testWallet); got != 1 {
		t.Errorf("outstanding = %d, want 1", got)
	}
	n3, _ := m.Reserve(context.Background(), 1, testWallet)
	if n3 != 9 {
		t.Errorf("nonce = %d, want 9", n3)
	}
	_ = n2
}

func TestNonceReserveConcurrent(t *testing.T) {
	const workers = 16
	m := seededNonceManager(1, 100)

	var wg sync.WaitGroup
	got := make([]uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := m.Reserve(context.Background(), 1, testWallet)
			if err != nil {
				t.Errorf("Reserve: %v", err)
				return
			}
			got[i] = n
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool, workers)
	for _, n := range got {
		if seen[n] {
			t.Fatalf("nonce %d handed out twice", n)
		}
		seen[n] = true
		if n < 100 || n >= 100+workers {
			t.Errorf("nonce %d outside expected range [100,%d)", n, 100+workers)
		}
	}
	if o := m.Outstanding(1, testWallet); o != workers {
		t.Errorf("outstanding = %d, want %d", o, workers)
	}
}

func TestNonceKeyIsolatesChainsAndWallets(t *testing.T) {
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	if nonceKey(1, testWallet) == nonceKey(42161, testWallet) {
		t.Error("nonce key must include chain id")
	}
	if nonceKey(1, testWallet) == nonceKey(1, other) {
		t.Error("nonce key must include wallet")
	}
}
