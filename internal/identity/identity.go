// Package identity derives the stable device identity sent with every report.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
)

// ErrNoHardwareAddr is returned when no suitable interface has a MAC address.
var ErrNoHardwareAddr = errors.New("no interface with a hardware address")

// Identity is fixed at boot and never changes afterwards.
type Identity struct {
	SensorID        string
	FirmwareVersion string
	AuthToken       string
}

// Derive renders the hardware address as lowercase hex without separators.
func Derive(hw net.HardwareAddr, firmwareVersion, authToken string) Identity {
	return Identity{
		SensorID:        SensorID(hw),
		FirmwareVersion: firmwareVersion,
		AuthToken:       authToken,
	}
}

// SensorID returns the hex form of a hardware address, two digits per byte.
func SensorID(hw net.HardwareAddr) string {
	return hex.EncodeToString(hw)
}

// FromInterface returns the hardware address of the named interface. With an
// empty name it picks the first non-loopback interface with a 6-byte MAC.
func FromInterface(name string) (net.HardwareAddr, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("lookup interface %s: %w", name, err)
		}
		if len(iface.HardwareAddr) == 0 {
			return nil, fmt.Errorf("interface %s: %w", name, ErrNoHardwareAddr)
		}
		return iface.HardwareAddr, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	return pickHardwareAddr(ifaces)
}

func pickHardwareAddr(ifaces []net.Interface) (net.HardwareAddr, error) {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 6 {
			return iface.HardwareAddr, nil
		}
	}
	return nil, ErrNoHardwareAddr
}
