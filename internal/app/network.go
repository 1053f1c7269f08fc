package app

import (
	"os"
	"strconv"

	"github.com/sweeney/sensor-node/internal/status"
)

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
	envNetworkWifiRSSI   = "NETWORK_WIFI_RSSI"
)

// ReadNetworkInfo reads host network state from the environment. It returns
// nil when the helper has not reported a status.
func ReadNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	info := &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
	if rssi, err := strconv.ParseInt(os.Getenv(envNetworkWifiRSSI), 10, 32); err == nil {
		info.RSSI = int32(rssi)
	}
	return info
}
