package pricing

import "testing"

func TestMidPriceUsesBookMidpointWhenSpreadTight(t *testing.T) {
	bid, ask := int64(690_000), int64(700_000)
	yes, no := MidPrice(&bid, &ask, nil, 500_000, DefaultSpreadThresholdBps)
	if yes != 695_000 {
		t.Errorf("yes = %d, want 695000", yes)
	}
	if yes+no != 1_000_000 {
		t.Errorf("yes+no = %d, want 1000000", yes+no)
	}
}

func TestMidPriceFallsBackToLastTradeWhenSpreadWide(t *testing.T) {
	bid, ask := int64(400_000), int64(900_000)
	last := int64(650_000)
	yes, _ := MidPrice(&bid, &ask, &last, 500_000, DefaultSpreadThresholdBps)
	if yes != 650_000 {
		t.Errorf("yes = %d, want 650000 (last trade)", yes)
	}
}

func TestMidPriceKeepsCurrentWithNoSignal(t *testing.T) {
	yes, no := MidPrice(nil, nil, nil, 420_000, DefaultSpreadThresholdBps)
	if yes != 420_000 || no != 580_000 {
		t.Errorf("got yes=%d no=%d, want unchanged 420000/580000", yes, no)
	}
}

func TestRoundHalfEvenDiv2(t *testing.T) {
	cases := []struct{ sum, want int64 }{
		{10, 5},
		{11, 6},  // round half up to even (5 is odd, 6 is even)
		{9, 4},   // 4.5 rounds to even 4
		{0, 0},
		{-11, -6},
	}
	for _, c := range cases {
		if got := roundHalfEvenDiv2(c.sum); got != c.want {
			t.Errorf("roundHalfEvenDiv2(%d) = %d, want %d", c.sum, got, c.want)
		}
	}
}

func TestRoundHalfEvenRatio(t *testing.T) {
	// 1/3 as basis points of 10000 = 3333.33 -> 3333
	if got := RoundHalfEvenRatio(1, 10_000, 3); got != 3333 {
		t.Errorf("got %d, want 3333", got)
	}
}
