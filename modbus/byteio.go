// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "time"

// beginMessage resets the scratch buffer and the message-scoped
// receive deadline ahead of framing a new outgoing or incoming ADU.
func (e *Engine) beginMessage() time.Time {
	e.msg.idx = 0
	return deadline(e.readTimeoutMs)
}

// putBytes writes data through the platform WriteByte callback one
// byte at a time, pausing byteSpacingMs between bytes on RTU. A write
// reporting IOTimeout or IOError fails the whole send; a WriteByteFunc
// must not report a partial success, so any non-IOOK result is treated
// as a transport error.
func (e *Engine) putBytes(data []byte) error {
	for i, b := range data {
		timeoutMs := remainingMs(deadline(e.byteTimeoutMs))
		switch e.platform.WriteByte(b, timeoutMs, e.platform.Arg) {
		case IOOK:
			// continue
		default:
			return ErrTransport
		}
		if i != len(data)-1 && e.transport == TransportRTU && e.byteSpacingMs > 0 {
			e.sleep(e.byteSpacingMs)
		}
	}
	return nil
}

// getBytes reads n bytes into the message scratch buffer starting at
// the current write cursor, honoring both the overall message deadline
// and the per-byte deadline; whichever fires first fails the read as
// ErrTimeout.
func (e *Engine) getBytes(n int, msgDeadline time.Time) error {
	if e.msg.idx+n > len(e.msg.buf) {
		return ErrInvalidResponse
	}
	for i := 0; i < n; i++ {
		if !msgDeadline.IsZero() && !time.Now().Before(msgDeadline) {
			return ErrTimeout
		}
		byteMs := remainingMs(deadline(e.byteTimeoutMs))
		msgMs := remainingMs(msgDeadline)
		timeoutMs := smallerDeadline(byteMs, msgMs)

		b, result := e.platform.ReadByte(timeoutMs, e.platform.Arg)
		switch result {
		case IOOK:
			e.msg.buf[e.msg.idx] = b
			e.msg.idx++
		case IOTimeout:
			return ErrTimeout
		default:
			return ErrTransport
		}
	}
	return nil
}

// smallerDeadline picks the tighter of two remaining-ms budgets, where
// noDeadlineMs (-1) means "no deadline" rather than "already expired".
func smallerDeadline(a, b int32) int32 {
	switch {
	case a == noDeadlineMs:
		return b
	case b == noDeadlineMs:
		return a
	case a < b:
		return a
	default:
		return b
	}
}
