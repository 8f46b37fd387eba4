// Package device counts the accelerators visible to this process.
//
// The count decides how many devices one model replica spans, which in turn
// selects device-placement corrections for sharded vision towers.
package device

// Kind is the device type prefix used in placements ("cuda:0", "npu:1").
type Kind string

const (
	KindCPU  Kind = "cpu"
	KindCUDA Kind = "cuda"
	KindNPU  Kind = "npu"
)

// ChipVendor maps a PCI vendor to the device kind its accelerators expose.
type ChipVendor struct {
	// VendorID is the PCI vendor ID (e.g., "0x19e5" for Huawei)
	VendorID string

	// VendorName is the human-readable vendor name
	VendorName string

	// Kind is the framework device type of the vendor's accelerators
	Kind Kind
}

// KnownVendors lists accelerator vendors recognized during PCI scans.
var KnownVendors = []ChipVendor{
	{VendorID: "0x10de", VendorName: "NVIDIA", Kind: KindCUDA},
	{VendorID: "0x19e5", VendorName: "Huawei", Kind: KindNPU},
}

// acceleratorClasses are the PCI class prefixes of compute devices:
// 0x0302 is a 3D controller, 0x1200 a processing accelerator.
var acceleratorClasses = []string{"0x0302", "0x1200"}

func lookupVendor(vendorID string) (ChipVendor, bool) {
	for _, v := range KnownVendors {
		if v.VendorID == vendorID {
			return v, true
		}
	}
	return ChipVendor{}, false
}
