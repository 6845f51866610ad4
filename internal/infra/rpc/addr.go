package rpc

import (
	"errors"
	"strings"
)

// parseListenAddress accepts host:port, tcp://host:port and unix:///path forms.
func parseListenAddress(addr string) (string, string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", "", errors.New("rpc.listenAddress is required")
	}
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		if path == "" {
			return "", "", errors.New("rpc.listenAddress unix path is empty")
		}
		return "unix", path, nil
	}
	if host, ok := strings.CutPrefix(addr, "tcp://"); ok {
		if host == "" {
			return "", "", errors.New("rpc.listenAddress tcp host is empty")
		}
		return "tcp", host, nil
	}
	return "tcp", addr, nil
}
