package feedcache

import (
	"net/url"
	"path/filepath"
)

// Key names one channel's cache: the local account and the channel address
type Key struct {
	Account string
	Channel string
}

func (k Key) String() string { return k.Account + "/" + k.Channel }

// BoltPath is the deterministic file for k under dir
func (k Key) BoltPath(dir string) string {
	return filepath.Join(dir, url.PathEscape(k.Account), url.PathEscape(k.Channel)+".db")
}
