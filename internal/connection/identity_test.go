package connection

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/stretchr/testify/assert"
)

func TestNewDeviceIdentity(t *testing.T) {
	id := NewDeviceIdentity()

	t.Run("frc is 313 random bytes base64", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(id.FRC)
		assert.NoError(t, err)
		assert.Len(t, raw, 313)
	})

	t.Run("serial is 16 bytes hex", func(t *testing.T) {
		raw, err := hex.DecodeString(id.Serial)
		assert.NoError(t, err)
		assert.Len(t, raw, 16)
	})

	t.Run("device id is double-hexed with app suffix", func(t *testing.T) {
		assert.True(t, strings.HasSuffix(id.DeviceID, cnst.DeviceIDSuffix))

		encoded := strings.TrimSuffix(id.DeviceID, cnst.DeviceIDSuffix)
		inner, err := hex.DecodeString(encoded)
		assert.NoError(t, err)
		// the inner layer is the uppercase hex of 16 bytes
		assert.Len(t, inner, 32)
		assert.Equal(t, strings.ToUpper(string(inner)), string(inner))
		_, err = hex.DecodeString(strings.ToLower(string(inner)))
		assert.NoError(t, err)
	})
}

func TestDeviceIdentity_Complete(t *testing.T) {
	t.Run("fills missing fields", func(t *testing.T) {
		id := DeviceIdentity{Serial: "aabb"}.Complete()
		assert.Equal(t, "aabb", id.Serial)
		assert.NotEmpty(t, id.FRC)
		assert.NotEmpty(t, id.DeviceID)
	})

	t.Run("keeps a full triple untouched", func(t *testing.T) {
		orig := NewDeviceIdentity()
		assert.Equal(t, orig, orig.Complete())
	})
}
