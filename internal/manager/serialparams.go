package manager

import "github.com/openrigd/rigd/serial"

// toCFlag maps a baud rate in bits/second, the unit rigs.toml stores it in,
// to the termios speed constant the serial package wants. Rates
// outside this table fall back to B9600, the default for almost every CI-V
// and CAT protocol.
func toCFlag(baud uint32) serial.CFlag {
	switch baud {
	case 1200:
		return serial.B1200
	case 2400:
		return serial.B2400
	case 4800:
		return serial.B4800
	case 9600:
		return serial.B9600
	case 19200:
		return serial.B19200
	case 38400:
		return serial.B38400
	case 57600:
		return serial.B57600
	case 115200:
		return serial.B115200
	case 230400:
		return serial.B230400
	default:
		return serial.B9600
	}
}

func toParity(s string) serial.Parity {
	if s == "even" {
		return serial.ParityEven
	}
	return serial.ParityNone
}
