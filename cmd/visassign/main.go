// Command visassign pushes a new IP configuration to a Visionary device
// selected by MAC address, over the discovery broadcast channel. It is
// the recovery path for devices that are not reachable on their current
// address.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/banshee-data/visionary/cola"
	"github.com/banshee-data/visionary/discovery"
	"github.com/banshee-data/visionary/internal/version"
)

var (
	cidr        = flag.String("cidr", "", "Host address and network in CIDR form, e.g. 192.168.1.100/24 (required unless -target is set)")
	target      = flag.String("target", "", "Explicit destination host:port, overriding the CIDR broadcast")
	port        = flag.Int("port", discovery.DefaultPort, "Discovery broadcast port")
	mac         = flag.String("mac", "", "MAC address of the device to configure (required)")
	addr        = flag.String("ip", "", "New device address and prefix in CIDR form, e.g. 192.168.1.10/24 (required)")
	gateway     = flag.String("gw", "", "Gateway for the device (default none)")
	dhcp        = flag.Bool("dhcp", false, "Enable DHCP instead of the static address")
	colaVer     = flag.Int("cola", 2, "Control protocol the device serves after the change (1 = CoLa B, 2 = CoLa 2)")
	timeout     = flag.Duration("timeout", 5*time.Second, "How long to wait for the device to acknowledge")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("visassign %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *mac == "" || *addr == "" {
		fmt.Fprintln(os.Stderr, "Error: -mac and -ip are required")
		flag.Usage()
		os.Exit(1)
	}
	if *cidr == "" && *target == "" {
		fmt.Fprintln(os.Stderr, "Error: -cidr or -target is required")
		flag.Usage()
		os.Exit(1)
	}

	hwAddr, err := net.ParseMAC(*mac)
	if err != nil {
		log.Fatalf("Invalid MAC address %q: %v", *mac, err)
	}

	ip, ipnet, err := net.ParseCIDR(*addr)
	if err != nil {
		log.Fatalf("Invalid device address %q: %v", *addr, err)
	}
	prefixLen, _ := ipnet.Mask.Size()

	var gw net.IP
	if *gateway != "" {
		gw = net.ParseIP(*gateway)
		if gw == nil {
			log.Fatalf("Invalid gateway address %q", *gateway)
		}
	}

	var variant cola.Variant
	switch *colaVer {
	case 1:
		variant = cola.VariantB
	case 2:
		variant = cola.Variant2
	default:
		log.Fatalf("Invalid -cola value %d (must be 1 or 2)", *colaVer)
	}

	scanner, err := discovery.NewScanner(discovery.Config{
		CIDR:   *cidr,
		Port:   *port,
		Target: *target,
	})
	if err != nil {
		log.Fatalf("Failed to set up scanner: %v", err)
	}

	cfg := discovery.AssignConfig{
		IP:        ip,
		PrefixLen: uint8(prefixLen),
		Gateway:   gw,
		DHCP:      *dhcp,
		Variant:   variant,
	}
	if err := scanner.Assign(hwAddr, cfg, *timeout); err != nil {
		log.Fatalf("Assignment failed: %v", err)
	}

	if *dhcp {
		fmt.Printf("Device %s switched to DHCP\n", hwAddr)
	} else {
		fmt.Printf("Device %s assigned %s/%d\n", hwAddr, ip, prefixLen)
	}
}
