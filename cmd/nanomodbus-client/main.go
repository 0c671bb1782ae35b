// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command nanomodbus-client is a one-shot MODBUS master: each
// invocation dials one server, issues exactly one request and prints
// the result.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grid-x/serial"
	"github.com/spf13/cobra"

	"github.com/ffutop/nanomodbus-go/modbus"
	serialadapter "github.com/ffutop/nanomodbus-go/transport/serial"
	tcpadapter "github.com/ffutop/nanomodbus-go/transport/tcpconn"
)

var (
	tcpAddr    string
	serialDev  string
	baudRate   int
	unitAddr   uint8
	rtuOverTCP bool
	timeout    time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nanomodbus-client",
		Short: "One-shot MODBUS master CLI",
	}

	rootCmd.PersistentFlags().StringVar(&tcpAddr, "tcp", "", "dial this MODBUS/TCP address (host:port)")
	rootCmd.PersistentFlags().StringVar(&serialDev, "device", "", "open this serial device for MODBUS-RTU")
	rootCmd.PersistentFlags().IntVar(&baudRate, "baud", 9600, "serial baud rate")
	rootCmd.PersistentFlags().Uint8Var(&unitAddr, "unit", 1, "destination unit/slave id")
	rootCmd.PersistentFlags().BoolVar(&rtuOverTCP, "rtu-over-tcp", false, "frame --tcp as MODBUS-RTU instead of MODBUS/TCP")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Second, "request timeout")

	rootCmd.AddCommand(
		newReadCmd("read-coils", "Read coil states (FC 01)", readCoils),
		newReadCmd("read-discrete-inputs", "Read discrete input states (FC 02)", readDiscreteInputs),
		newReadCmd("read-holding-registers", "Read holding registers (FC 03)", readHoldingRegisters),
		newReadCmd("read-input-registers", "Read input registers (FC 04)", readInputRegisters),
		newWriteSingleCmd("write-coil", "Write a single coil (FC 05)", writeSingleCoil),
		newWriteSingleCmd("write-register", "Write a single register (FC 06)", writeSingleRegister),
		newWriteMultiCmd("write-coils", "Write multiple coils (FC 15)", writeMultipleCoils),
		newWriteMultiCmd("write-registers", "Write multiple registers (FC 16)", writeMultipleRegisters),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type readFunc func(client *modbus.Engine, address, quantity uint16) (string, error)

func newReadCmd(use, short string, fn readFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <address> <quantity>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, quantity, err := parseAddrQty(args)
			if err != nil {
				return err
			}
			return withClient(func(client *modbus.Engine) error {
				out, err := fn(client, address, quantity)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			})
		},
	}
}

func newWriteSingleCmd(use, short string, fn func(client *modbus.Engine, address uint16, value string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <address> <value>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16(args[0])
			if err != nil {
				return err
			}
			return withClient(func(client *modbus.Engine) error {
				return fn(client, address, args[1])
			})
		},
	}
}

func newWriteMultiCmd(use, short string, fn func(client *modbus.Engine, address uint16, values []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <address> <value> [value...]",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16(args[0])
			if err != nil {
				return err
			}
			return withClient(func(client *modbus.Engine) error {
				return fn(client, address, args[1:])
			})
		},
	}
}

// withClient opens the configured transport, builds a client Engine,
// stamps a correlation id for this invocation and runs fn.
func withClient(fn func(client *modbus.Engine) error) error {
	correlationID := uuid.New().String()
	logger := slog.With("correlation_id", correlationID)

	conf, closeFn, err := openTransport()
	if err != nil {
		return err
	}
	defer closeFn()

	client, err := modbus.NewClient(conf)
	if err != nil {
		return fmt.Errorf("new client: %w", err)
	}
	client.SetReadTimeout(int32(timeout.Milliseconds()))
	client.SetDestinationRTUAddress(unitAddr)

	logger.Debug("issuing request", "unit", unitAddr)
	if err := fn(client); err != nil {
		if ec, ok := modbus.IsException(err); ok {
			return fmt.Errorf("server returned exception %d: %w", ec, err)
		}
		return err
	}
	return nil
}

func openTransport() (modbus.PlatformConf, func(), error) {
	switch {
	case tcpAddr != "":
		conn, err := tcpadapter.Dial(tcpAddr, timeout)
		if err != nil {
			return modbus.PlatformConf{}, nil, err
		}
		if rtuOverTCP {
			return conn.PlatformConfRTU(), func() { conn.Close() }, nil
		}
		return conn.PlatformConf(), func() { conn.Close() }, nil
	case serialDev != "":
		port, err := serialadapter.Open(serial.Config{
			Address:  serialDev,
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   "N",
			StopBits: 1,
			Timeout:  timeout,
		})
		if err != nil {
			return modbus.PlatformConf{}, nil, err
		}
		return port.PlatformConf(), func() { port.Close() }, nil
	default:
		return modbus.PlatformConf{}, nil, fmt.Errorf("one of --tcp or --device is required")
	}
}

func parseAddrQty(args []string) (address, quantity uint16, err error) {
	address, err = parseUint16(args[0])
	if err != nil {
		return 0, 0, err
	}
	quantity, err = parseUint16(args[1])
	if err != nil {
		return 0, 0, err
	}
	return address, quantity, nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return uint16(v), nil
}

func readCoils(client *modbus.Engine, address, quantity uint16) (string, error) {
	var bits modbus.Bitfield
	if err := client.ReadCoils(address, quantity, &bits); err != nil {
		return "", err
	}
	return formatBits(&bits, quantity), nil
}

func readDiscreteInputs(client *modbus.Engine, address, quantity uint16) (string, error) {
	var bits modbus.Bitfield
	if err := client.ReadDiscreteInputs(address, quantity, &bits); err != nil {
		return "", err
	}
	return formatBits(&bits, quantity), nil
}

func readHoldingRegisters(client *modbus.Engine, address, quantity uint16) (string, error) {
	values := make([]uint16, quantity)
	if err := client.ReadHoldingRegisters(address, quantity, values); err != nil {
		return "", err
	}
	return formatRegisters(values), nil
}

func readInputRegisters(client *modbus.Engine, address, quantity uint16) (string, error) {
	values := make([]uint16, quantity)
	if err := client.ReadInputRegisters(address, quantity, values); err != nil {
		return "", err
	}
	return formatRegisters(values), nil
}

func writeSingleCoil(client *modbus.Engine, address uint16, value string) error {
	v, err := parseBool(value)
	if err != nil {
		return err
	}
	return client.WriteSingleCoil(address, v)
}

func writeSingleRegister(client *modbus.Engine, address uint16, value string) error {
	v, err := parseUint16(value)
	if err != nil {
		return err
	}
	return client.WriteSingleRegister(address, v)
}

func writeMultipleCoils(client *modbus.Engine, address uint16, values []string) error {
	var bits modbus.Bitfield
	for i, s := range values {
		v, err := parseBool(s)
		if err != nil {
			return err
		}
		bits.Write(uint16(i), v)
	}
	return client.WriteMultipleCoils(address, uint16(len(values)), &bits)
}

func writeMultipleRegisters(client *modbus.Engine, address uint16, values []string) error {
	registers := make([]uint16, len(values))
	for i, s := range values {
		v, err := parseUint16(s)
		if err != nil {
			return err
		}
		registers[i] = v
	}
	return client.WriteMultipleRegisters(address, uint16(len(registers)), registers)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", s)
	}
}

func formatBits(bits *modbus.Bitfield, quantity uint16) string {
	var sb strings.Builder
	for i := uint16(0); i < quantity; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if bits.Read(i) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

func formatRegisters(values []uint16) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	return sb.String()
}
