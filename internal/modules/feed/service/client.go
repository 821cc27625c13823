package service

import (
	"net/http"
	"time"

	"trade_engine/internal/modules/config"

	"github.com/gorilla/websocket"
)

// Client — транспорт рыночных данных: WS-стрим свечей + REST-бэкфилл.
// Один Client на процесс; стримы per-symbol полностью независимы.
type Client struct {
	cfg config.FeedConfig

	http     *http.Client
	wsDialer *websocket.Dialer
}

func NewClient(cfg config.FeedConfig) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: 10 * time.Second},
		wsDialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}
