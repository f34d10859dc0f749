// Package discover finds agent backends advertised on the local network via
// mDNS. Backends announce a _parley._tcp service whose TXT records carry the
// websocket URL.
package discover

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/agusx1211/parley/internal/debug"
)

const (
	serviceType    = "_parley._tcp"
	defaultTimeout = 3 * time.Second
)

// Backend is one discovered agent backend.
type Backend struct {
	Name string
	Host string
	Port int
	URL  string
}

// Backends queries the local network and returns the backends that answered
// within timeout (zero means the default). Entries without a usable address
// are skipped.
func Backends(timeout time.Duration) ([]Backend, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan []Backend, 1)
	go func() {
		var found []Backend
		for entry := range entries {
			b, ok := fromEntry(entry)
			if !ok {
				debug.Logf("discover", "skipping unusable entry %q", entry.Name)
				continue
			}
			found = append(found, b)
		}
		done <- found
	}()

	params := mdns.DefaultParams(serviceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	found := <-done
	if err != nil {
		return found, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

func fromEntry(entry *mdns.ServiceEntry) (Backend, bool) {
	b := Backend{
		Name: strings.TrimSuffix(entry.Name, "."+serviceType+".local."),
		Host: strings.TrimSuffix(entry.Host, "."),
		Port: entry.Port,
	}
	for _, field := range entry.InfoFields {
		if url, ok := strings.CutPrefix(field, "url="); ok {
			b.URL = url
		}
	}
	if b.URL == "" {
		addr := b.Host
		if entry.AddrV4 != nil {
			addr = entry.AddrV4.String()
		}
		if addr == "" || b.Port <= 0 {
			return Backend{}, false
		}
		b.URL = fmt.Sprintf("ws://%s:%d", addr, b.Port)
	}
	return b, true
}
