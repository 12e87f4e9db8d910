// Package link is the boundary to the host network: it optionally joins the
// configured Wi-Fi network and blocks until the interface has an address.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strings"
	"time"
)

const readyPoll = 100 * time.Millisecond

// Waiter blocks until a network interface is up with a usable address.
type Waiter struct {
	iface  string
	logger *slog.Logger
	lookup func(name string) (up bool, addrs []net.Addr, err error)
}

// NewWaiter watches the named interface. With an empty name any non-loopback
// interface qualifies.
func NewWaiter(iface string, logger *slog.Logger) *Waiter {
	return &Waiter{
		iface:  iface,
		logger: logger.With("component", "link"),
		lookup: lookupInterface,
	}
}

// WaitReady polls until the link is ready or ctx is done.
func (w *Waiter) WaitReady(ctx context.Context) error {
	w.logger.Info("waiting for network address", "interface", w.iface)
	ticker := time.NewTicker(readyPoll)
	defer ticker.Stop()
	for {
		up, addrs, err := w.lookup(w.iface)
		if err != nil {
			w.logger.Debug("interface lookup", "err", err)
		} else if up && hasUsableAddr(addrs) {
			w.logger.Info("network is up", "interface", w.iface, "addrs", fmt.Sprint(addrs))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func lookupInterface(name string) (bool, []net.Addr, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return false, nil, err
		}
		addrs, err := iface.Addrs()
		return iface.Flags&net.FlagUp != 0, addrs, err
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return false, nil, err
	}
	var all []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		all = append(all, addrs...)
	}
	return len(all) > 0, all, nil
}

// hasUsableAddr reports whether any address is a global unicast IP, which is
// what a completed DHCP lease or static config looks like.
func hasUsableAddr(addrs []net.Addr) bool {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip != nil && ip.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

// Joiner connects the host to a Wi-Fi network through NetworkManager.
type Joiner struct {
	iface  string
	retry  time.Duration
	logger *slog.Logger
	run    func(ctx context.Context, stdin, name string, args ...string) ([]byte, error)
}

// NewJoiner creates a joiner that retries every retry interval.
func NewJoiner(iface string, retry time.Duration, logger *slog.Logger) *Joiner {
	return &Joiner{
		iface:  iface,
		retry:  retry,
		logger: logger.With("component", "link"),
		run: func(ctx context.Context, stdin, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Stdin = strings.NewReader(stdin)
			return cmd.CombinedOutput()
		},
	}
}

// Join retries until the network is joined or ctx is done. The password is
// answered on nmcli's --ask prompt so it never appears in the process list.
func (j *Joiner) Join(ctx context.Context, ssid, password string) error {
	args := []string{"--ask", "device", "wifi", "connect", ssid}
	if j.iface != "" {
		args = append(args, "ifname", j.iface)
	}
	for attempt := 1; ; attempt++ {
		out, err := j.run(ctx, password+"\n", "nmcli", args...)
		if err == nil {
			j.logger.Info("joined network", "ssid", ssid, "attempt", attempt)
			return nil
		}
		j.logger.Warn("join failed", "ssid", ssid, "attempt", attempt, "err", err,
			"output", strings.TrimSpace(string(out)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(j.retry):
		}
	}
}
