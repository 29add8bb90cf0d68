package capture

import (
	"fmt"
	"sync"
)

// devices tracks capture device indices held by open sources in this process.
var devices = struct {
	sync.Mutex
	held map[int]bool
}{held: make(map[int]bool)}

// claimDevice marks a device index as in use. The returned release func
// frees it and may be called more than once.
func claimDevice(index int) (func(), error) {
	devices.Lock()
	defer devices.Unlock()

	if devices.held[index] {
		return nil, fmt.Errorf("%w: device %d is held by another session", ErrDeviceBusy, index)
	}
	devices.held[index] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			devices.Lock()
			delete(devices.held, index)
			devices.Unlock()
		})
	}, nil
}

// DeviceHeld reports whether a device index is currently claimed.
func DeviceHeld(index int) bool {
	devices.Lock()
	defer devices.Unlock()
	return devices.held[index]
}
