package sdk

import (
	"fmt"
	"sync"

	"github.com/google/gousb"
)

// DefaultUSBVendorID is the vendor id the detectors enumerate with
const DefaultUSBVendorID = 0x2c8b

// OpenFunc binds a scanned device to the vendor SDK
type OpenFunc func(DeviceInfo) (Device, error)

var (
	bindingMu sync.Mutex
	binding   OpenFunc
)

// RegisterBinding installs the function USBDriver uses to open devices.
// Builds linked against the vendor SDK call it from an init function.
func RegisterBinding(f OpenFunc) {
	bindingMu.Lock()
	defer bindingMu.Unlock()
	binding = f
}

// ScanUSB lists the devices on the USB bus with the given vendor id.  No
// device is opened.
func ScanUSB(vendor uint16) ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var out []DeviceInfo
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor == gousb.ID(vendor) {
			out = append(out, DeviceInfo{
				Interface: InterfaceUSB,
				Model:     fmt.Sprintf("%s:%s", desc.Vendor, desc.Product),
				Serial:    fmt.Sprintf("usb-%d-%d", desc.Bus, desc.Address),
				Bus:       desc.Bus,
				Address:   desc.Address})
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("scanning USB bus: %w", err)
	}
	return out, nil
}

// USBDriver finds detectors on the USB bus and opens them through the
// registered binding
type USBDriver struct {
	VendorID uint16
}

// Scan lists detectors on the bus
func (u USBDriver) Scan() ([]DeviceInfo, error) {
	vid := u.VendorID
	if vid == 0 {
		vid = DefaultUSBVendorID
	}
	return ScanUSB(vid)
}

// Open opens a scanned detector.  Without a registered binding it returns
// ErrNotSupported.
func (u USBDriver) Open(info DeviceInfo) (Device, error) {
	bindingMu.Lock()
	f := binding
	bindingMu.Unlock()
	if f == nil {
		return nil, ErrNotSupported
	}
	return f(info)
}
