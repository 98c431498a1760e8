package marketdata

import "testing"

func TestNormalizeBinanceSymbol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"BTCUSDT", "BTC/USDT"},
		{"ETHUSDC", "ETH/USDC"},
		{"SOLBUSD", "SOL/BUSD"},
		{"ETHBTC", "ETH/BTC"},
		{"LINKETH", "LINK/ETH"},
		{"USDT", "USDT"},
		{"XYZ", "XYZ"},
	}

	for _, tt := range tests {
		if got := normalizeBinanceSymbol(tt.in); got != tt.want {
			t.Errorf("normalizeBinanceSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
