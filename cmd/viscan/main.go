// Command viscan broadcasts a discovery scan and lists the Visionary
// devices that answer.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/visionary/discovery"
	"github.com/banshee-data/visionary/internal/version"
)

var (
	cidr        = flag.String("cidr", "", "Host address and network in CIDR form, e.g. 192.168.1.100/24 (required unless -target is set)")
	target      = flag.String("target", "", "Explicit destination host:port, overriding the CIDR broadcast")
	port        = flag.Int("port", discovery.DefaultPort, "Discovery broadcast port")
	window      = flag.Duration("window", 5*time.Second, "How long to collect scan replies")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("viscan %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	if *cidr == "" && *target == "" {
		fmt.Fprintln(os.Stderr, "Error: -cidr or -target is required")
		flag.Usage()
		os.Exit(1)
	}

	scanner, err := discovery.NewScanner(discovery.Config{
		CIDR:   *cidr,
		Port:   *port,
		Target: *target,
	})
	if err != nil {
		log.Fatalf("Failed to set up scanner: %v", err)
	}

	log.Printf("Scanning for devices (window %v)...", *window)
	devices, err := scanner.Scan(*window)
	if err != nil {
		log.Fatalf("Scan failed: %v", err)
	}

	if len(devices) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMAC\tIP\tNETMASK\tGATEWAY\tDHCP\tCONTROL PORT")
		for _, d := range devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%d\n",
				d.Name, d.MAC, d.IP, d.Netmask, d.Gateway, d.DHCP, d.ControlPort)
		}
		w.Flush()
	}

	fmt.Printf("\nFound %d device(s)\n", len(devices))
}
