package connections

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/rudransh-shrivastava/peer-link/internal/coordinator"
)

const (
	txtID        = "id="
	txtName      = "name="
	txtNamespace = "ns="
)

// StartAdvertising registers this endpoint over mDNS and lets incoming
// connection requests through.
func (l *LAN) StartAdvertising(ctx context.Context, name, serviceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.advertising {
		return ErrAlreadyRunning
	}

	port := l.Addr().(*net.UDPAddr).Port
	txt := []string{txtID + l.id, txtName + name, txtNamespace + serviceID}
	server, err := zeroconf.Register(l.id, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	l.server = server
	l.advertising = true
	l.serviceID = serviceID
	l.logger.Info("Advertising", "name", name, "service", serviceID, "port", port)
	return nil
}

func (l *LAN) StopAdvertising() {
	l.mu.Lock()
	server := l.server
	l.server = nil
	l.advertising = false
	l.mu.Unlock()

	if server != nil {
		server.Shutdown()
		l.logger.Debug("Stopped advertising")
	}
}

// StartDiscovery browses for endpoints advertising serviceID.
func (l *LAN) StartDiscovery(ctx context.Context, serviceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browse != nil {
		return ErrAlreadyRunning
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("create mdns resolver: %w", err)
	}

	browseCtx, cancel := context.WithCancel(l.ctx)
	entries := make(chan *zeroconf.ServiceEntry, 32)
	if err := resolver.Browse(browseCtx, ServiceType, ServiceDomain, entries); err != nil {
		cancel()
		return fmt.Errorf("browse %s: %w", ServiceType, err)
	}

	l.browse = cancel
	l.serviceID = serviceID
	go l.watch(browseCtx, serviceID, entries)

	// The resolver only reports endpoints once per browse, so replay the
	// ones already known to this session.
	for id, ep := range l.endpoints {
		l.queue.push(coordinator.EndpointFound{
			EndpointID: id,
			Info:       coordinator.EndpointInfo{Name: ep.name, ServiceID: serviceID},
		})
	}

	l.logger.Info("Discovering", "service", serviceID)
	return nil
}

func (l *LAN) StopDiscovery() {
	l.mu.Lock()
	cancel := l.browse
	l.browse = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
		l.logger.Debug("Stopped discovery")
	}
}

func (l *LAN) watch(ctx context.Context, serviceID string, entries <-chan *zeroconf.ServiceEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			l.handleEntry(serviceID, entry)
		}
	}
}

func (l *LAN) handleEntry(serviceID string, entry *zeroconf.ServiceEntry) {
	id, name, ns := parseTXT(entry.Text)
	if id == "" {
		id = entry.Instance
	}
	if id == l.id || ns != serviceID {
		return
	}

	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		l.logger.Debug("Endpoint without address", "endpoint", id)
		return
	}
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port))

	if entry.TTL == 0 {
		l.lose(id)
		return
	}

	l.logger.Debug("Endpoint found", "endpoint", id, "name", name, "addr", addr)
	l.AddEndpoint(id, name, addr)
}

func (l *LAN) lose(id string) {
	l.mu.Lock()
	_, known := l.endpoints[id]
	delete(l.endpoints, id)
	l.mu.Unlock()

	if known {
		l.queue.push(coordinator.EndpointLost{EndpointID: id})
	}
}

func parseTXT(txt []string) (id, name, ns string) {
	for _, kv := range txt {
		switch {
		case strings.HasPrefix(kv, txtID):
			id = strings.TrimPrefix(kv, txtID)
		case strings.HasPrefix(kv, txtName):
			name = strings.TrimPrefix(kv, txtName)
		case strings.HasPrefix(kv, txtNamespace):
			ns = strings.TrimPrefix(kv, txtNamespace)
		}
	}
	return id, name, ns
}
