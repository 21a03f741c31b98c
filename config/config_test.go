package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PAPER_TRADING", "1")

	cfg := Load()
	if cfg.ProtectiveOrders {
		t.Error("ProtectiveOrders on by default")
	}
	if cfg.VolumeConfirm {
		t.Error("VolumeConfirm on by default")
	}
	if cfg.MaxPositions != 9 || cfg.MaxPerInstrument != 6 || cfg.MaxLossStreak != 3 {
		t.Errorf("risk defaults = %d/%d/%d, want 9/6/3",
			cfg.MaxPositions, cfg.MaxPerInstrument, cfg.MaxLossStreak)
	}
	if cfg.MaxDrawdownPct != 18 {
		t.Errorf("MaxDrawdownPct = %v, want 18", cfg.MaxDrawdownPct)
	}
}

func TestLoad_ProtectiveOrdersFlag(t *testing.T) {
	t.Setenv("PAPER_TRADING", "1")
	t.Setenv("PROTECTIVE_ORDERS", "1")

	if !Load().ProtectiveOrders {
		t.Error("PROTECTIVE_ORDERS=1 did not enable protective orders")
	}
}

func TestParseWatchlist(t *testing.T) {
	cfg := &Config{Watchlist: "NSE:SBIN:779521, NSE:INFY:408065 ,bad-entry,NSE:X:notanumber"}

	got := cfg.ParseWatchlist()
	if len(got) != 2 {
		t.Fatalf("parsed %d instruments, want 2", len(got))
	}
	if got[0].Key() != "NSE:SBIN" || got[0].Token != 779521 {
		t.Errorf("first instrument = %+v", got[0])
	}
	if got[1].Key() != "NSE:INFY" || got[1].Token != 408065 {
		t.Errorf("second instrument = %+v", got[1])
	}
}
