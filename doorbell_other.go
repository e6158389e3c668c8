//go:build !linux

package rtkernel

func newDoorbell() doorbell {
	return newChanDoorbell()
}
