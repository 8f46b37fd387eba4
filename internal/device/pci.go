package device

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PCIDevicesPath is where Linux exposes PCI devices.
const PCIDevicesPath = "/sys/bus/pci/devices"

// PCIDevice represents a PCI device with its identifiers
type PCIDevice struct {
	// VendorID is the PCI vendor ID (e.g., "0x19e5")
	VendorID string

	// DeviceID is the PCI device ID
	DeviceID string

	// BusAddress is the PCI bus address (e.g., "0000:01:00.0")
	BusAddress string

	// Class is the PCI device class (e.g., "0x120000")
	Class string
}

// IsAccelerator reports whether the device is a compute accelerator of a
// known vendor. Devices without a class (lspci output) are judged by vendor.
func (d PCIDevice) IsAccelerator() bool {
	if _, ok := lookupVendor(d.VendorID); !ok {
		return false
	}
	if d.Class == "" {
		return true
	}
	for _, prefix := range acceleratorClasses {
		if strings.HasPrefix(d.Class, prefix) {
			return true
		}
	}
	return false
}

// ScanPCIDevices scans root (normally PCIDevicesPath) for PCI devices.
//
// Entries that cannot be read are skipped.
//
// Returns:
//   - Slice of PCIDevice found under root
//   - Error if root cannot be read
func ScanPCIDevices(root string) ([]PCIDevice, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, fmt.Errorf("PCI devices path not found: %s", root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCI devices: %w", err)
	}

	var devices []PCIDevice
	for _, entry := range entries {
		// PCI device entries are symlinks, not directories
		device, err := readPCIDevice(filepath.Join(root, entry.Name()), entry.Name())
		if err != nil {
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// readPCIDevice reads PCI device information from sysfs
func readPCIDevice(devicePath, busAddress string) (PCIDevice, error) {
	device := PCIDevice{BusAddress: busAddress}

	vendorID, err := readPCIFile(filepath.Join(devicePath, "vendor"))
	if err != nil {
		return device, err
	}
	device.VendorID = vendorID

	deviceID, err := readPCIFile(filepath.Join(devicePath, "device"))
	if err != nil {
		return device, err
	}
	device.DeviceID = deviceID

	// Class is optional
	if class, err := readPCIFile(filepath.Join(devicePath, "class")); err == nil {
		device.Class = class
	}
	return device, nil
}

// readPCIFile reads a single line from a PCI sysfs file
func readPCIFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(string(data))), nil
}

// ParseLspciOutput parses the output of `lspci -nn`, used by Counter when
// sysfs cannot be read. Lines look like
// "bus:dev.fn Class [class]: Vendor Device [vid:did]".
func ParseLspciOutput(output string) []PCIDevice {
	var devices []PCIDevice

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		if device := parseLspciLine(scanner.Text()); device != nil {
			devices = append(devices, *device)
		}
	}
	return devices
}

// parseLspciLine parses a single line from lspci -nn output
func parseLspciLine(line string) *PCIDevice {
	// Example: "01:00.0 Processing accelerators [1200]: Huawei Technologies Co., Ltd. Device [19e5:d802]"
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil
	}

	lastOpen := strings.LastIndex(line, "[")
	lastClose := strings.LastIndex(line, "]")
	if lastOpen == -1 || lastClose <= lastOpen {
		return nil
	}
	parts := strings.Split(line[lastOpen+1:lastClose], ":")
	if len(parts) != 2 {
		return nil
	}

	device := &PCIDevice{
		BusAddress: fields[0],
		VendorID:   "0x" + strings.ToLower(strings.TrimSpace(parts[0])),
		DeviceID:   "0x" + strings.ToLower(strings.TrimSpace(parts[1])),
	}

	// The class code is the first bracket, right after the class name.
	if open := strings.Index(line, "["); open != -1 && open < lastOpen {
		if end := strings.Index(line[open:], "]"); end > 0 {
			device.Class = "0x" + strings.ToLower(line[open+1:open+end])
		}
	}
	return device
}
