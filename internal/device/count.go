package device

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/tsingmao/xwm/internal/logger"
)

// Environment variables consulted before scanning PCI.
const (
	EnvCUDAVisibleDevices   = "CUDA_VISIBLE_DEVICES"
	EnvAscendVisibleDevices = "ASCEND_RT_VISIBLE_DEVICES"
	EnvLocalWorldSize       = "LOCAL_WORLD_SIZE"
)

// Counter counts accelerators. The zero value reads the process environment
// and PCIDevicesPath.
type Counter struct {
	// Getenv defaults to os.Getenv.
	Getenv func(string) string

	// PCIRoot defaults to PCIDevicesPath.
	PCIRoot string

	// Lspci returns `lspci -nn` output. It is consulted when PCIRoot cannot
	// be read and defaults to running lspci.
	Lspci func() (string, error)
}

func (c Counter) getenv(key string) (string, bool) {
	if c.Getenv != nil {
		v := c.Getenv(key)
		return v, v != ""
	}
	return os.LookupEnv(key)
}

// Accelerators returns the kind and number of accelerators visible to the
// process. Visibility variables win over the PCI scan, which reads sysfs and
// falls back to lspci; with neither, the process runs on the CPU.
func (c Counter) Accelerators() (Kind, int) {
	if v, ok := c.getenv(EnvCUDAVisibleDevices); ok {
		return KindCUDA, countVisible(v)
	}
	if v, ok := c.getenv(EnvAscendVisibleDevices); ok {
		return KindNPU, countVisible(v)
	}

	root := c.PCIRoot
	if root == "" {
		root = PCIDevicesPath
	}
	devices, err := ScanPCIDevices(root)
	if err != nil {
		logger.Debug("sysfs PCI scan failed, trying lspci: %v", err)
		if devices, err = c.lspciDevices(); err != nil {
			logger.Debug("PCI scan skipped: %v", err)
			return KindCPU, 0
		}
	}

	counts := make(map[Kind]int)
	var first Kind
	for _, d := range devices {
		if !d.IsAccelerator() {
			continue
		}
		v, _ := lookupVendor(d.VendorID)
		if first == "" {
			first = v.Kind
		}
		counts[v.Kind]++
	}
	if first == "" {
		return KindCPU, 0
	}
	return first, counts[first]
}

func (c Counter) lspciDevices() ([]PCIDevice, error) {
	run := c.Lspci
	if run == nil {
		run = runLspci
	}
	out, err := run()
	if err != nil {
		return nil, err
	}
	return ParseLspciOutput(out), nil
}

func runLspci() (string, error) {
	out, err := exec.Command("lspci", "-nn").Output()
	if err != nil {
		return "", fmt.Errorf("lspci -nn: %w", err)
	}
	return string(out), nil
}

// LocalWorldSize returns the number of processes on this node, at least 1.
func (c Counter) LocalWorldSize() int {
	v, ok := c.getenv(EnvLocalWorldSize)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		logger.Warn("Ignoring invalid %s=%q", EnvLocalWorldSize, v)
		return 1
	}
	return n
}

// DevicesPerReplica is the number of accelerators one model replica spans
// when every local process loads its own copy.
func (c Counter) DevicesPerReplica() int {
	_, n := c.Accelerators()
	return n / c.LocalWorldSize()
}

// DevicesPerReplica counts with the default Counter.
func DevicesPerReplica() int {
	return Counter{}.DevicesPerReplica()
}

// countVisible counts the ids in a visibility list such as "0,1,3".
// "-1" hides every device.
func countVisible(v string) int {
	n := 0
	for _, id := range strings.Split(v, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if id == "-1" {
			break
		}
		n++
	}
	return n
}
