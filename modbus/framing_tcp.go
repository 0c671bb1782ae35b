// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "time"

const mbapLen = 7

// sendTCP transmits a 7-byte MBAP header (transaction id, protocol id
// 0, length, unit id) followed by pdu.
func (e *Engine) sendTCP(transactionID uint16, unitID uint8, pdu []byte) error {
	if mbapLen+len(pdu) > len(e.msg.buf) {
		return ErrInvalidArgument
	}
	frame := e.msg.buf[:mbapLen+len(pdu)]
	frame[0] = byte(transactionID >> 8)
	frame[1] = byte(transactionID)
	frame[2] = 0
	frame[3] = 0
	length := uint16(1 + len(pdu))
	frame[4] = byte(length >> 8)
	frame[5] = byte(length)
	frame[6] = unitID
	copy(frame[mbapLen:], pdu)

	return e.putBytes(frame)
}

// receiveTCP reads one MBAP-framed message: any unit id, any
// transaction id. Used directly by the server, which does not know in
// advance who is calling.
func (e *Engine) receiveTCP(msgDeadline time.Time) (transactionID uint16, unitID uint8, pdu []byte, err error) {
	if err = e.getBytes(mbapLen, msgDeadline); err != nil {
		return 0, 0, nil, err
	}
	transactionID = uint16(e.msg.buf[0])<<8 | uint16(e.msg.buf[1])
	protocolID := uint16(e.msg.buf[2])<<8 | uint16(e.msg.buf[3])
	length := uint16(e.msg.buf[4])<<8 | uint16(e.msg.buf[5])
	unitID = e.msg.buf[6]

	if protocolID != 0 {
		return 0, 0, nil, ErrInvalidResponse
	}
	if length == 0 || int(length)-1 > maxPDUSize || mbapLen+int(length)-1 > len(e.msg.buf) {
		return 0, 0, nil, ErrInvalidResponse
	}

	if err = e.getBytes(int(length)-1, msgDeadline); err != nil {
		return 0, 0, nil, err
	}
	return transactionID, unitID, e.msg.buf[mbapLen : mbapLen+int(length)-1], nil
}

// receiveResponseTCP reads one MBAP-framed response and validates that
// its transaction id matches wantTID.
func (e *Engine) receiveResponseTCP(msgDeadline time.Time, wantTID uint16) (pdu []byte, err error) {
	tid, _, pdu, err := e.receiveTCP(msgDeadline)
	if err != nil {
		return nil, err
	}
	if tid != wantTID {
		return nil, ErrInvalidResponse
	}
	return pdu, nil
}
