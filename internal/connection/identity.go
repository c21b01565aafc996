package connection

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/echobridge/alexaremote/internal/common/cnst"
)

// DeviceIdentity is the stable per-install identity triple this client
// presents to Amazon. It must survive re-logins: a changed identity forces
// the user through app verification again.
type DeviceIdentity struct {
	// FRC is an opaque anti-fraud blob, 313 random bytes base64-encoded.
	FRC string
	// Serial is the fake device serial, 16 random bytes hex-encoded.
	Serial string
	// DeviceID is the registration device id: the uppercased hex serial,
	// hex-encoded again, with a fixed app-type suffix.
	DeviceID string
}

// NewDeviceIdentity generates a fresh identity triple.
func NewDeviceIdentity() DeviceIdentity {
	return DeviceIdentity{
		FRC:      newFRC(),
		Serial:   newSerial(),
		DeviceID: newDeviceID(),
	}
}

// Complete fills any missing field of the triple. Used when a prior session
// carried over only part of the identity.
func (d DeviceIdentity) Complete() DeviceIdentity {
	if d.FRC == "" {
		d.FRC = newFRC()
	}
	if d.Serial == "" {
		d.Serial = newSerial()
	}
	if d.DeviceID == "" {
		d.DeviceID = newDeviceID()
	}
	return d
}

func newFRC() string {
	buf := make([]byte, 313)
	_, _ = rand.Read(buf)
	return base64.StdEncoding.EncodeToString(buf)
}

func newSerial() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func newDeviceID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	upperHex := strings.ToUpper(hex.EncodeToString(buf))
	return hex.EncodeToString([]byte(upperHex)) + cnst.DeviceIDSuffix
}
