package httptransport

import (
	"fmt"
	"net"
	"os"

	"github.com/skip2/go-qrcode"
)

// PrintPairingQR writes an ASCII QR code encoding host:port:token to
// stderr, the same pairing flow hub.printConnectionQR offers for
// connecting a remote client without retyping the token by hand.
func PrintPairingQR(bindAddr string, port int, token string) {
	host := bindAddr
	if host == "0.0.0.0" || host == "" {
		if ips := LocalIPs(); len(ips) > 0 {
			host = ips[0]
		} else {
			host = "localhost"
		}
	}

	payload := fmt.Sprintf("coreagentd://%s:%d?token=%s", host, port, token)
	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rpc: generate pairing QR: %v\n", err)
		return
	}

	fmt.Fprintf(os.Stderr, "\nScan to connect:\n%s\n", qr.ToSmallString(false))
	fmt.Fprintf(os.Stderr, "  endpoint: %s:%d\n", host, port)
	fmt.Fprintf(os.Stderr, "  token:    %s\n", token)
	if ips := LocalIPs(); len(ips) > 1 {
		fmt.Fprintf(os.Stderr, "  also available on:")
		for _, ip := range ips {
			if ip != host {
				fmt.Fprintf(os.Stderr, " %s", ip)
			}
		}
		fmt.Fprintf(os.Stderr, "\n")
	}
	fmt.Fprintf(os.Stderr, "\n")
}

// LocalIPs returns the host's non-loopback IPv4 addresses.
func LocalIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []string
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			ips = append(ips, v4.String())
		}
	}
	return ips
}
