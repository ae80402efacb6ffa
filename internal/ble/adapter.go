// Package ble provides the Bluetooth Low Energy transport for a SOLEM BLIP
// irrigation controller: adapter abstraction, connection setup with retries,
// and the write/notify characteristic pair the protocol runs over.
package ble

import "context"

// BLIP GATT UUIDs. Fixed by the device firmware.
const (
	ServiceUUID    = "108b0001-eab5-bc09-d0ea-0b8f467ce8ee"
	WriteCharUUID  = "108b0002-eab5-bc09-d0ea-0b8f467ce8ee"
	NotifyCharUUID = "108b0003-eab5-bc09-d0ea-0b8f467ce8ee"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data, optionally waiting for the peripheral's write response.
	Write(data []byte, withResponse bool) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Connect establishes a connection to the device with the given address.
	// On Linux the address is a MAC; on macOS it is a CoreBluetooth UUID.
	Connect(ctx context.Context, address string) (Connection, error)
}
