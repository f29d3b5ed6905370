package skadapter

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
)

// ConnectionCache persists the last successful session so the join engine
// can skip the channel scan on restart. A single record, overwritten on
// each successful join; deleting the file forces a full rescan.
type ConnectionCache struct {
	path string
}

type cachedSession struct {
	Channel  string `json:"channel"`
	PanID    string `json:"pan_id"`
	Addr     string `json:"addr"`
	IPv6Addr string `json:"ipv6_addr,omitempty"`
}

func NewConnectionCache(path string) *ConnectionCache {
	return &ConnectionCache{path: path}
}

// Load returns the cached session, or (nil, nil) when no cache exists.
func (c *ConnectionCache) Load() (*Session, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cached cachedSession
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	if cached.Channel == "" || cached.PanID == "" || cached.Addr == "" {
		return nil, errors.New("skadapter: incomplete connection cache")
	}
	return &Session{
		Channel:  cached.Channel,
		PanID:    cached.PanID,
		MacAddr:  cached.Addr,
		IPv6Addr: cached.IPv6Addr,
	}, nil
}

func (c *ConnectionCache) Save(s *Session) error {
	data, err := json.Marshal(cachedSession{
		Channel:  s.Channel,
		PanID:    s.PanID,
		Addr:     s.MacAddr,
		IPv6Addr: s.IPv6Addr,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o644)
}

func (c *ConnectionCache) Invalidate() error {
	err := os.Remove(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
