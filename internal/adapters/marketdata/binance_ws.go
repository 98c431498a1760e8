package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

const binanceWSURL = "wss://stream.binance.com:9443/stream"

// BinanceWebSocket streams confirmed klines for a set of symbols
type BinanceWebSocket struct {
	conn           *websocket.Conn
	url            string
	symbols        []string
	timeframe      string
	candleChan     chan models.Candle
	errorChan      chan error
	mu             sync.Mutex
	reconnectDelay time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
}

type binanceWSEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type binanceKlineEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		Start    int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		Close    string `json:"c"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// NewBinanceWebSocket creates new kline stream for symbols like "BTC/USDT"
func NewBinanceWebSocket(symbols []string, timeframe string) *BinanceWebSocket {
	ctx, cancel := context.WithCancel(context.Background())

	return &BinanceWebSocket{
		url:            binanceWSURL,
		symbols:        symbols,
		timeframe:      timeframe,
		candleChan:     make(chan models.Candle, 1000),
		errorChan:      make(chan error, 10),
		reconnectDelay: 5 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Connect establishes the WebSocket connection and subscribes to klines
func (bw *BinanceWebSocket) Connect() error {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	streams := bw.streamNames()
	if len(streams) == 0 {
		return fmt.Errorf("no symbols to stream")
	}

	url := bw.url + "?streams=" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Binance WebSocket: %w", err)
	}

	bw.conn = conn

	go bw.readMessages()
	go bw.pingHandler()

	logger.Info("Binance WebSocket connected",
		zap.Strings("symbols", bw.symbols),
		zap.String("timeframe", bw.timeframe),
	)

	return nil
}

// streamNames builds combined-stream names: BTC/USDT -> btcusdt@kline_1d
func (bw *BinanceWebSocket) streamNames() []string {
	streams := make([]string, 0, len(bw.symbols))
	for _, symbol := range bw.symbols {
		pair := strings.ToLower(strings.ReplaceAll(symbol, "/", ""))
		if pair == "" {
			continue
		}
		streams = append(streams, fmt.Sprintf("%s@kline_%s", pair, bw.timeframe))
	}
	return streams
}

func (bw *BinanceWebSocket) readMessages() {
	defer func() {
		bw.mu.Lock()
		if bw.conn != nil {
			bw.conn.Close()
		}
		bw.mu.Unlock()

		if bw.ctx.Err() == nil {
			logger.Info("attempting to reconnect Binance WebSocket")
			time.Sleep(bw.reconnectDelay)
			if err := bw.Connect(); err != nil {
				logger.Error("failed to reconnect", zap.Error(err))
			}
		}
	}()

	for {
		select {
		case <-bw.ctx.Done():
			return
		default:
		}

		_, message, err := bw.conn.ReadMessage()
		if err != nil {
			logger.Error("websocket read error", zap.Error(err))
			bw.errorChan <- err
			return
		}

		var envelope binanceWSEnvelope
		if err := json.Unmarshal(message, &envelope); err != nil {
			logger.Warn("failed to parse websocket message", zap.Error(err))
			continue
		}
		if len(envelope.Data) == 0 {
			continue
		}

		bw.handleKlineMessage(envelope.Data)
	}
}

func (bw *BinanceWebSocket) handleKlineMessage(data json.RawMessage) {
	var event binanceKlineEvent
	if err := json.Unmarshal(data, &event); err != nil {
		logger.Warn("failed to parse kline event", zap.Error(err))
		return
	}
	if event.EventType != "kline" || !event.Kline.Closed {
		return
	}

	candle := models.Candle{
		Symbol:    normalizeBinanceSymbol(event.Symbol),
		Timeframe: event.Kline.Interval,
		Timestamp: time.UnixMilli(event.Kline.Start).UTC(),
		Open:      models.NewDecimalFromString(event.Kline.Open),
		High:      models.NewDecimalFromString(event.Kline.High),
		Low:       models.NewDecimalFromString(event.Kline.Low),
		Close:     models.NewDecimalFromString(event.Kline.Close),
		Volume:    models.NewDecimalFromString(event.Kline.Volume),
	}

	select {
	case bw.candleChan <- candle:
	default:
		logger.Warn("candle channel full, dropping candle")
	}
}

func (bw *BinanceWebSocket) pingHandler() {
	ticker := time.NewTicker(3 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-bw.ctx.Done():
			return
		case <-ticker.C:
			bw.mu.Lock()
			if bw.conn != nil {
				deadline := time.Now().Add(10 * time.Second)
				if err := bw.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					logger.Error("failed to send ping", zap.Error(err))
				}
			}
			bw.mu.Unlock()
		}
	}
}

// Candles returns the channel of confirmed candles
func (bw *BinanceWebSocket) Candles() <-chan models.Candle {
	return bw.candleChan
}

// Errors returns the channel of stream errors
func (bw *BinanceWebSocket) Errors() <-chan error {
	return bw.errorChan
}

// Close tears down the connection and stops reconnecting
func (bw *BinanceWebSocket) Close() error {
	bw.cancel()

	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.conn != nil {
		return bw.conn.Close()
	}

	return nil
}

// normalizeBinanceSymbol converts BTCUSDT back to BTC/USDT for the
// quote assets we stream against.
func normalizeBinanceSymbol(symbol string) string {
	for _, quote := range []string{"USDT", "USDC", "BUSD", "BTC", "ETH"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "/" + quote
		}
	}
	return symbol
}
