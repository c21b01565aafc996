package connection

import (
	"encoding/json"
	"testing"

	"github.com/echobridge/alexaremote/internal/common/cnst"
	"github.com/echobridge/alexaremote/internal/connection/jsons"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func nodeJSON(t *testing.T, node SequenceNode) string {
	t.Helper()
	raw, err := json.Marshal(node)
	assert.NoError(t, err)
	return string(raw)
}

func TestExecutionNode(t *testing.T) {
	c := New(nil, nil, nil, nil)
	c.mu.Lock()
	c.customerID = "A1ACCOUNT"
	c.mu.Unlock()
	device := testDevice("S1")

	t.Run("device node carries identity and parameters", func(t *testing.T) {
		node := c.executionNode(&device, cnst.CommandSpeak, map[string]any{"textToSpeak": "hi"})
		doc := nodeJSON(t, node)

		assert.Equal(t, cnst.NodeTypeOpaque, gjson.Get(doc, "@type").String())
		assert.Equal(t, cnst.CommandSpeak, gjson.Get(doc, "type").String())
		assert.Equal(t, "TYPE", gjson.Get(doc, "operationPayload.deviceType").String())
		assert.Equal(t, "S1", gjson.Get(doc, "operationPayload.deviceSerialNumber").String())
		assert.Equal(t, "A1ACCOUNT", gjson.Get(doc, "operationPayload.customerId").String())
		assert.Equal(t, "hi", gjson.Get(doc, "operationPayload.textToSpeak").String())
	})

	t.Run("device owner id fills in when the account id is unknown", func(t *testing.T) {
		anon := New(nil, nil, nil, nil)
		owned := device
		owned.DeviceOwnerCustomerID = "A1OWNER"
		node := anon.executionNode(&owned, cnst.CommandVolume, map[string]any{"value": 30})
		assert.Equal(t, "A1OWNER", gjson.Get(nodeJSON(t, node), "operationPayload.customerId").String())
	})

	t.Run("account-level node has no device identity", func(t *testing.T) {
		node := c.executionNode(nil, cnst.CommandMobilePush, map[string]any{"title": "x"})
		doc := nodeJSON(t, node)
		assert.False(t, gjson.Get(doc, "operationPayload.deviceSerialNumber").Exists())
		assert.Equal(t, "x", gjson.Get(doc, "operationPayload.title").String())
	})
}

func TestCompositeNode(t *testing.T) {
	inner := []SequenceNode{{"type": "a"}, {"type": "b"}}

	parallel := compositeNode(inner, true)
	assert.Equal(t, cnst.NodeTypeParallel, parallel["@type"])

	serial := compositeNode(inner, false)
	assert.Equal(t, cnst.NodeTypeSerial, serial["@type"])
	assert.Len(t, serial["nodesToExecute"], 2)
}

func TestSpeechText(t *testing.T) {
	c := New(nil, nil, nil, nil)
	device := testDevice("S1")

	t.Run("plain node", func(t *testing.T) {
		node := c.executionNode(&device, cnst.CommandSpeak, map[string]any{"textToSpeak": "good morning"})
		assert.Equal(t, "good morning", speechText(node))
	})

	t.Run("wrapped node", func(t *testing.T) {
		node := c.executionNode(&device, cnst.CommandSpeak, map[string]any{"textToSpeak": "good morning"})
		assert.Equal(t, "good morning", speechText(compositeNode([]SequenceNode{node}, true)))
	})

	t.Run("announcement content", func(t *testing.T) {
		node := c.executionNode(&device, cnst.CommandAnnouncement, map[string]any{
			"content": []jsons.AnnouncementContent{{Speak: jsons.AnnouncementSpeak{Value: "dinner time"}}},
		})
		assert.Equal(t, "dinner time", speechText(compositeNode([]SequenceNode{node}, true)))
	})

	t.Run("silent node", func(t *testing.T) {
		node := c.executionNode(&device, cnst.CommandVolume, map[string]any{"value": 10})
		assert.Empty(t, speechText(node))
	})
}

func TestSubstituteRoutineTokens(t *testing.T) {
	device := testDevice("S1")
	raw := `{
		"@type": "com.amazon.alexa.behaviors.model.Sequence",
		"startNode": {
			"nodesToExecute": [{
				"operationPayload": {
					"deviceType": "ALEXA_CURRENT_DEVICE_TYPE",
					"deviceSerialNumber": "ALEXA_CURRENT_DSN",
					"customerId": "ALEXA_CUSTOMER_ID",
					"locale": "ALEXA_CURRENT_LOCALE",
					"textToSpeak": "mention ALEXA_CURRENT_DSN verbatim"
				}
			}]
		}
	}`
	var tree any
	assert.NoError(t, json.Unmarshal([]byte(raw), &tree))

	t.Run("placeholders are bound to the device", func(t *testing.T) {
		out := substituteRoutineTokens(tree, device, "A1CUST", "en-US")
		doc, err := json.Marshal(out)
		assert.NoError(t, err)

		payload := gjson.GetBytes(doc, "startNode.nodesToExecute.0.operationPayload")
		assert.Equal(t, "TYPE", payload.Get("deviceType").String())
		assert.Equal(t, "S1", payload.Get("deviceSerialNumber").String())
		assert.Equal(t, "A1CUST", payload.Get("customerId").String())
		assert.Equal(t, "en-US", payload.Get("locale").String())
		// placeholder text in unrelated fields stays untouched
		assert.Equal(t, "mention ALEXA_CURRENT_DSN verbatim", payload.Get("textToSpeak").String())
	})

	t.Run("unknown locale becomes null", func(t *testing.T) {
		var tree2 any
		assert.NoError(t, json.Unmarshal([]byte(raw), &tree2))
		out := substituteRoutineTokens(tree2, device, "A1CUST", "")
		doc, err := json.Marshal(out)
		assert.NoError(t, err)

		locale := gjson.GetBytes(doc, "startNode.nodesToExecute.0.operationPayload.locale")
		assert.True(t, locale.Exists())
		assert.Equal(t, gjson.Null, locale.Type)
	})
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "hello world", stripTags("<speak>hello <b>world</b></speak>"))
	assert.Equal(t, "plain", stripTags("plain"))
	assert.Empty(t, stripTags("<speak><break time=\"1s\"/></speak>"))
}
