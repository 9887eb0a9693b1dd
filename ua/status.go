// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "fmt"

// StatusCode is a numeric OPC UA result code. It implements the error
// interface so it can be returned and compared directly wherever the core
// reports a server- or protocol-level failure.
type StatusCode uint32

// Status codes used by the connection establishment core. The numeric
// values follow the OPC UA Part 4 Annex A assignment for the subset of
// codes this core can observe or produce.
const (
	StatusOK                         StatusCode = 0x00000000
	StatusBad                        StatusCode = 0x80000000
	StatusBadInternalError           StatusCode = 0x80020000
	StatusBadOutOfMemory             StatusCode = 0x80030000
	StatusBadTimeout                 StatusCode = 0x800A0000
	StatusBadShutdown                StatusCode = 0x800C0000
	StatusBadConnectionClosed        StatusCode = 0x80AE0000
	StatusBadServerNotConnected      StatusCode = 0x800D0000
	StatusBadSecureChannelClosed     StatusCode = 0x80860000
	StatusBadSecureChannelIDInvalid  StatusCode = 0x80220000
	StatusBadSessionIDInvalid        StatusCode = 0x80250000
	StatusBadSessionClosed           StatusCode = 0x80260000
	StatusBadSubscriptionIDInvalid   StatusCode = 0x80280000
	StatusBadCertificateInvalid      StatusCode = 0x80120000
	StatusBadUserAccessDenied        StatusCode = 0x801F0000
	StatusBadUnknownResponse         StatusCode = 0x80090000
	StatusBadIdentityTokenInvalid    StatusCode = 0x80200000
	StatusBadDecodingError           StatusCode = 0x80070000
	StatusBadEncodingError           StatusCode = 0x80060000
	StatusBadRequestTimeout          StatusCode = 0x80850000
	StatusBadNoSubscription          StatusCode = 0x80790000
	StatusBadMessageNotAvailable     StatusCode = 0x807B0000
	StatusBadSequenceNumberInvalid   StatusCode = 0x80000001 // non-standard: replay/reorder guard
	StatusBadTokenIDInvalid          StatusCode = 0x80230001 // non-standard: reused for test clarity
)

// Error implements the error interface.
func (s StatusCode) Error() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("StatusCode(0x%08X)", uint32(s))
}

var statusNames = map[StatusCode]string{
	StatusOK:                        "StatusOK",
	StatusBad:                       "StatusBad",
	StatusBadInternalError:          "StatusBadInternalError",
	StatusBadOutOfMemory:            "StatusBadOutOfMemory",
	StatusBadTimeout:                "StatusBadTimeout",
	StatusBadShutdown:               "StatusBadShutdown",
	StatusBadConnectionClosed:       "StatusBadConnectionClosed",
	StatusBadServerNotConnected:     "StatusBadServerNotConnected",
	StatusBadSecureChannelClosed:    "StatusBadSecureChannelClosed",
	StatusBadSecureChannelIDInvalid: "StatusBadSecureChannelIDInvalid",
	StatusBadSessionIDInvalid:       "StatusBadSessionIDInvalid",
	StatusBadSessionClosed:          "StatusBadSessionClosed",
	StatusBadSubscriptionIDInvalid:  "StatusBadSubscriptionIDInvalid",
	StatusBadCertificateInvalid:     "StatusBadCertificateInvalid",
	StatusBadUserAccessDenied:       "StatusBadUserAccessDenied",
	StatusBadUnknownResponse:        "StatusBadUnknownResponse",
	StatusBadIdentityTokenInvalid:   "StatusBadIdentityTokenInvalid",
	StatusBadDecodingError:          "StatusBadDecodingError",
	StatusBadEncodingError:          "StatusBadEncodingError",
	StatusBadRequestTimeout:         "StatusBadRequestTimeout",
	StatusBadNoSubscription:         "StatusBadNoSubscription",
	StatusBadMessageNotAvailable:    "StatusBadMessageNotAvailable",
}

// IsGood reports whether the status represents success.
func (s StatusCode) IsGood() bool { return s&0x80000000 == 0 }

// IsBad reports whether the status represents failure.
func (s StatusCode) IsBad() bool { return s&0x80000000 != 0 }
