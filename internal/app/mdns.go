package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_rollcall._tcp"
	mdnsDomain      = "local."
)

// startMDNS advertises the HTTP API so scanners can discover the server
// instead of carrying a hardcoded address in firmware.
func (a *App) startMDNS() error {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "rollcall"
	}

	instance := sanitizeMDNSInstance(fmt.Sprintf("Rollcall Attendance (%s)", hostname))

	txt := []string{
		fmt.Sprintf("http_port=%d", a.cfg.HTTPPort),
		"api=v1",
		"path=/api/attendance",
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, a.cfg.HTTPPort, txt, nil)
	if err != nil {
		return err
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "port", a.cfg.HTTPPort)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

func sanitizeMDNSInstance(name string) string {
	cleaned := strings.TrimSpace(name)
	replacer := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ")
	cleaned = replacer.Replace(cleaned)
	if cleaned == "" {
		cleaned = "Rollcall Attendance"
	}
	// Instance labels must be <=63 characters.
	runes := []rune(cleaned)
	if len(runes) > 63 {
		cleaned = string(runes[:63])
	}
	return cleaned
}
