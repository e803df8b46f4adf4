package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"tailscale.com/client/tailscale"
)

// tsDiscover lists the hostnames of all devices in tailnet. The API key is
// read from TS_API_KEY.
func tsDiscover(ctx context.Context, tailnet string) ([]string, error) {
	key := os.Getenv("TS_API_KEY")
	if key == "" {
		return nil, errors.New("TS_API_KEY is not set")
	}

	tailscale.I_Acknowledge_This_API_Is_Unstable = true
	client := tailscale.NewClient(tailnet, tailscale.APIKey(key))

	devices, err := client.Devices(ctx, tailscale.DeviceAllFields)
	if err != nil {
		return nil, fmt.Errorf("could not list tailnet devices: %w", err)
	}

	hosts := make([]string, 0, len(devices))
	for _, dev := range devices {
		if dev.Hostname != "" {
			hosts = append(hosts, dev.Hostname)
		}
	}
	log.Infof("Discovered %d targets in tailnet %s", len(hosts), tailnet)

	return hosts, nil
}
