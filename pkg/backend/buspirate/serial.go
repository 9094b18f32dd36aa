package buspirate

import (
	"time"

	"github.com/tarm/serial"

	"hwh/pkg/frame"
)

// consoleBaud and binaryBaud mirror backend_buspirate.py's _enter_binary_mode
// (115200 for the terminal) and its BPIOClient construction (3,000,000 for
// the BPIO2 binary endpoint).
const (
	consoleBaud = 115200
	binaryBaud  = 3_000_000
)

// serialOpener implements bpio2.Opener over two tarm/serial ports: the
// console (buspirateN) and the BPIO2 binary endpoint (buspirateN+2), the
// same two-port layout backend_buspirate.py derives by string-replacing
// "buspirate1" with "buspirate3".
type serialOpener struct {
	consolePath string
	binaryPath  string
}

func (o *serialOpener) OpenConsole() (frame.Conn, error) {
	port, err := serial.OpenPort(&serial.Config{Name: o.consolePath, Baud: consoleBaud, ReadTimeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	return port, nil
}

func (o *serialOpener) OpenBinary() (frame.Conn, error) {
	port, err := serial.OpenPort(&serial.Config{Name: o.binaryPath, Baud: binaryBaud, ReadTimeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	return port, nil
}
