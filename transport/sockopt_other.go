//go:build !linux

package transport

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/Axixi2233/chiaki-android/errs"
)

func setSocketOptions(conn *net.UDPConn, rcvbuf int, dontFragment bool, logger logrus.FieldLogger) error {
	if err := conn.SetReadBuffer(rcvbuf); err != nil {
		return fmt.Errorf("set read buffer: %v: %w", err, errs.ErrNetwork)
	}
	if dontFragment {
		logger.WithField("function", "setSocketOptions").
			Warn("Don't fragment is not supported on this platform, MTU values may be incorrect")
	}
	return nil
}
