package identity

import (
	"errors"
	"net"
	"testing"
)

func TestDerive(t *testing.T) {
	hw := net.HardwareAddr{0x28, 0xCD, 0xC1, 0x0A, 0x0B, 0xFF}
	id := Derive(hw, "1.2.3", "secret")

	if id.SensorID != "28cdc10a0bff" {
		t.Errorf("SensorID = %q, want %q", id.SensorID, "28cdc10a0bff")
	}
	if id.FirmwareVersion != "1.2.3" {
		t.Errorf("FirmwareVersion = %q", id.FirmwareVersion)
	}
	if id.AuthToken != "secret" {
		t.Errorf("AuthToken = %q", id.AuthToken)
	}
}

func TestSensorIDFixedWidth(t *testing.T) {
	hw := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	if got := SensorID(hw); got != "000000000001" {
		t.Errorf("SensorID = %q, want zero-padded 12 digits", got)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	hw := net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0x01}
	a := Derive(hw, "v", "t")
	b := Derive(hw, "v", "t")
	if a != b {
		t.Errorf("Derive not deterministic: %+v vs %+v", a, b)
	}
}

func TestPickHardwareAddr(t *testing.T) {
	ifaces := []net.Interface{
		{Name: "lo", Flags: net.FlagLoopback | net.FlagUp},
		{Name: "tun0", Flags: net.FlagUp},
		{Name: "wlan0", Flags: net.FlagUp, HardwareAddr: net.HardwareAddr{1, 2, 3, 4, 5, 6}},
		{Name: "eth0", Flags: net.FlagUp, HardwareAddr: net.HardwareAddr{9, 9, 9, 9, 9, 9}},
	}

	hw, err := pickHardwareAddr(ifaces)
	if err != nil {
		t.Fatal(err)
	}
	if SensorID(hw) != "010203040506" {
		t.Errorf("picked %s, want wlan0's address", hw)
	}
}

func TestPickHardwareAddrNone(t *testing.T) {
	_, err := pickHardwareAddr([]net.Interface{{Name: "lo", Flags: net.FlagLoopback}})
	if !errors.Is(err, ErrNoHardwareAddr) {
		t.Errorf("err = %v, want ErrNoHardwareAddr", err)
	}
}
