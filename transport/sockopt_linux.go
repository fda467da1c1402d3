//go:build linux

package transport

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/Axixi2233/chiaki-android/errs"
)

// setSocketOptions sizes the receive buffer to the advertised window and
// optionally forbids fragmentation via path MTU discovery.
func setSocketOptions(conn *net.UDPConn, rcvbuf int, dontFragment bool, logger logrus.FieldLogger) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("socket handle: %v: %w", err, errs.ErrNetwork)
	}

	var sockErr error
	err = raw.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, rcvbuf); sockErr != nil {
			sockErr = fmt.Errorf("setsockopt SO_RCVBUF: %v: %w", sockErr, errs.ErrNetwork)
			return
		}
		if dontFragment {
			if sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO); sockErr != nil {
				sockErr = fmt.Errorf("setsockopt IP_MTU_DISCOVER: %v: %w", sockErr, errs.ErrNetwork)
			}
		}
	})
	if err != nil {
		return fmt.Errorf("socket control: %v: %w", err, errs.ErrNetwork)
	}
	if sockErr != nil {
		logger.WithFields(logrus.Fields{
			"function": "setSocketOptions",
			"error":    sockErr.Error(),
		}).Error("Takion failed to set socket options")
		return sockErr
	}
	if dontFragment {
		logger.WithField("function", "setSocketOptions").Info("Takion enabled Don't Fragment Bit")
	}
	return nil
}
