package game

import (
	"testing"

	"copycatch/internal/config"
)

func TestComputeSharesProportional(t *testing.T) {
	cfg := config.Default()
	// 3 votes on the original at 1x, 2 on one copy at 2x: 3 + 4 = 7 points.
	tally := voteTally{Original: 3, Copy1: 2, Copy2: 0}
	shares := computeShares(200, tally, cfg)

	if shares.Original != 200*3/7 {
		t.Fatalf("expected original share %d, got %d", 200*3/7, shares.Original)
	}
	if shares.Copy1 != 200*4/7 {
		t.Fatalf("expected copy1 share %d, got %d", 200*4/7, shares.Copy1)
	}
	if shares.Copy2 != 0 {
		t.Fatalf("expected untouched copy share 0, got %d", shares.Copy2)
	}
}

func TestComputeSharesConservation(t *testing.T) {
	cfg := config.Default()
	pools := []int64{1, 2, 3, 200, 215, 1000}
	tallies := []voteTally{
		{Original: 3, Copy1: 2},
		{Original: 1, Copy1: 1, Copy2: 1},
		{Copy1: 5},
		{Original: 20},
		{},
	}
	for _, pool := range pools {
		for _, tally := range tallies {
			shares := computeShares(pool, tally, cfg)
			paid := shares.Original + shares.Copy1 + shares.Copy2
			if paid > pool {
				t.Fatalf("pool %d tally %+v: paid %d exceeds pool", pool, tally, paid)
			}
			if pool-paid > 2 {
				t.Fatalf("pool %d tally %+v: rounding shortfall %d exceeds 2", pool, tally, pool-paid)
			}
		}
	}
}

func TestComputeSharesZeroVotesSplitsEvenly(t *testing.T) {
	shares := computeShares(200, voteTally{}, config.Default())
	if shares.Original != 66 || shares.Copy1 != 66 || shares.Copy2 != 66 {
		t.Fatalf("expected 66/66/66 split, got %+v", shares)
	}
}

func TestSplitPayout(t *testing.T) {
	// Payout below cost: everything is a liquid refund.
	liquid, locked := splitPayout(30, 50, 80)
	if liquid != 30 || locked != 0 {
		t.Fatalf("expected 30/0, got %d/%d", liquid, locked)
	}

	// Payout above cost: profit splits 80/20.
	liquid, locked = splitPayout(150, 50, 80)
	if liquid != 50+80 || locked != 20 {
		t.Fatalf("expected 130/20, got %d/%d", liquid, locked)
	}

	// Split always conserves the payout exactly.
	for amount := int64(0); amount <= 120; amount++ {
		liquid, locked = splitPayout(amount, 50, 80)
		if liquid+locked != amount && amount > 0 {
			t.Fatalf("amount %d: split %d+%d does not conserve", amount, liquid, locked)
		}
	}
}

func TestSplitPayoutZero(t *testing.T) {
	liquid, locked := splitPayout(0, 50, 80)
	if liquid != 0 || locked != 0 {
		t.Fatalf("expected 0/0, got %d/%d", liquid, locked)
	}
}
