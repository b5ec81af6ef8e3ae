package device

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"
)

// Settings are the link parameters passed to a factory. Zero values
// select the device defaults.
type Settings struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// Factory creates an unopened device bound to a serial port name.
type Factory func(portName string, settings Settings) (Facade, error)

// Info describes a registered device type.
type Info struct {
	Name      string
	VendorID  uint16
	ProductID uint16
	Factory   Factory
}

var (
	registryMu sync.Mutex
	registered []Info
	named      = map[string]Factory{}
)

// Register registers a device factory with its USB VID/PID.
func Register(name string, vendorID, productID uint16, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registered = append(registered, Info{
		Name:      name,
		VendorID:  vendorID,
		ProductID: productID,
		Factory:   factory,
	})
}

// RegisterPort registers a factory selected by an exact port name,
// for devices that do not live on the serial bus.
func RegisterPort(portName string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	named[portName] = factory
}

// Registered returns a copy of the registered device types.
func Registered() []Info {
	registryMu.Lock()
	defer registryMu.Unlock()
	out := make([]Info, len(registered))
	copy(out, registered)
	return out
}

// Open returns a device for portName. Names registered with RegisterPort
// take precedence; any other name is matched against the serial bus and
// the factory of the matching VID/PID is used.
func Open(portName string, settings Settings) (Facade, string, error) {
	registryMu.Lock()
	factory, ok := named[portName]
	registryMu.Unlock()
	if ok {
		dev, err := factory(portName, settings)
		return dev, portName, err
	}

	ports, err := ListPorts()
	if err != nil {
		return nil, "", err
	}
	for _, port := range ports {
		if portName != "" && port.Name != portName {
			continue
		}
		info, ok := lookup(port.VendorID, port.ProductID)
		if !ok {
			continue
		}
		dev, err := info.Factory(port.Name, settings)
		if err != nil {
			continue // Try next port
		}
		return dev, port.Name, nil
	}

	if portName != "" {
		return nil, "", fmt.Errorf("no supported stimulator found on port %s", portName)
	}
	return nil, "", fmt.Errorf("no supported stimulator found")
}

func lookup(vid, pid uint16) (Info, bool) {
	for _, info := range Registered() {
		if info.VendorID == vid && info.ProductID == pid {
			return info, true
		}
	}
	return Info{}, false
}

// Port describes one serial port on the host.
type Port struct {
	Name         string
	IsUSB        bool
	VendorID     uint16
	ProductID    uint16
	SerialNumber string
	Product      string
	Supported    string // registered device name, if any
}

// ListPorts enumerates serial ports with their USB identifiers.
func ListPorts() ([]Port, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	ports := make([]Port, 0, len(details))
	for _, d := range details {
		p := Port{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		}
		if vid, err := strconv.ParseUint(d.VID, 16, 16); err == nil {
			p.VendorID = uint16(vid)
		}
		if pid, err := strconv.ParseUint(d.PID, 16, 16); err == nil {
			p.ProductID = uint16(pid)
		}
		if info, ok := lookup(p.VendorID, p.ProductID); ok && p.IsUSB {
			p.Supported = info.Name
		}
		ports = append(ports, p)
	}
	return ports, nil
}
